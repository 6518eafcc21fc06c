package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalByTagRoundTrip(t *testing.T) {
	rel := Release{ID: "r1", Name: "Demo", CategoryID: "cat1", ContentCID: "cid1", PostedBy: "pub1", SiteAddress: "addr1"}
	data, err := Marshal(rel)
	require.NoError(t, err)

	decoded, err := UnmarshalByTag(TagRelease, data)
	require.NoError(t, err)
	assert.Equal(t, rel, decoded)
}

func TestUnmarshalByTagUnknown(t *testing.T) {
	_, err := UnmarshalByTag("bogus", []byte("{}"))
	require.Error(t, err)
	var unknown ErrUnknownTag
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Tag)
}

func TestRecordKey(t *testing.T) {
	key, err := RecordKey(Release{ID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "r1", key)

	key, err = RecordKey(Member{PublicKey: "pk1"})
	require.NoError(t, err)
	assert.Equal(t, "pk1", key)
}

func TestSiteAddressOf(t *testing.T) {
	assert.Equal(t, "addr1", SiteAddressOf(Release{SiteAddress: "addr1"}))
	assert.Equal(t, "", SiteAddressOf(Member{PublicKey: "pk1"}))
}

func TestCategoryIDDeterministic(t *testing.T) {
	a := CategoryID("site1", "cat1")
	b := CategoryID("site1", "cat1")
	c := CategoryID("site2", "cat1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBlockedContentIDDeterministic(t *testing.T) {
	a := BlockedContentID("cid1")
	b := BlockedContentID("cid1")
	c := BlockedContentID("cid2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestIsFederated(t *testing.T) {
	assert.True(t, IsFederated(TagRelease))
	assert.True(t, IsFederated(TagBlockedContent))
	assert.False(t, IsFederated(TagMember))
	assert.False(t, IsFederated(TagAdministrator))
}

func TestKeyFieldFor(t *testing.T) {
	assert.Equal(t, "publicKey", KeyFieldFor(TagMember))
	assert.Equal(t, "publicKey", KeyFieldFor(TagAdministrator))
	assert.Equal(t, "id", KeyFieldFor(TagRelease))
}

func TestKindForTagRoundTrip(t *testing.T) {
	for _, tag := range []string{TagRelease, TagFeaturedRelease, TagContentCategory, TagBlockedContent, TagSubscription, TagMember, TagAdministrator} {
		kind, ok := KindForTag(tag)
		require.True(t, ok)
		back, ok := TagForKind(kind)
		require.True(t, ok)
		assert.Equal(t, tag, back)
	}
}
