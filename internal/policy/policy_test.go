package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/klppl/sitefed/internal/schema"
)

func lookupsFixture(self string, members, admins map[string]bool, subs map[string]bool, existing map[string][2]string) Lookups {
	return Lookups{
		SelfAddress:       self,
		IsMember:          func(pk string) bool { return members[pk] },
		IsAdministrator:   func(pk string) bool { return admins[pk] },
		HasSubscriptionTo: func(origin string) bool { return subs[origin] },
		ExistingSiteAddressAndPostedBy: func(docID string) (string, string, bool) {
			v, ok := existing[docID]
			if !ok {
				return "", "", false
			}
			return v[0], v[1], true
		},
	}
}

func TestLocalPutByMemberAllowed(t *testing.T) {
	lk := lookupsFixture("self", map[string]bool{"pub1": true}, nil, nil, nil)
	w := Write{DocID: "r1", Record: schema.Release{SiteAddress: "self", PostedBy: "pub1"}, SignerPubKey: "pub1"}
	assert.NoError(t, CanPerformFederatedWrite(w, lk))
}

func TestLocalPutByNonMemberDenied(t *testing.T) {
	lk := lookupsFixture("self", nil, nil, nil, nil)
	w := Write{DocID: "r1", Record: schema.Release{SiteAddress: "self", PostedBy: "pub1"}, SignerPubKey: "pub1"}
	assert.ErrorIs(t, CanPerformFederatedWrite(w, lk), ErrAccessDenied)
}

func TestLocalEditOfAnothersRecordRequiresAdmin(t *testing.T) {
	members := map[string]bool{"pub2": true}
	lk := lookupsFixture("self", members, nil, nil, nil)
	w := Write{DocID: "r1", Record: schema.Release{SiteAddress: "self", PostedBy: "pub1"}, SignerPubKey: "pub2"}
	assert.ErrorIs(t, CanPerformFederatedWrite(w, lk), ErrAccessDenied)

	admins := map[string]bool{"pub2": true}
	lkAdmin := lookupsFixture("self", members, admins, nil, nil)
	assert.NoError(t, CanPerformFederatedWrite(w, lkAdmin))
}

func TestLocalDeleteOfNonexistentDenied(t *testing.T) {
	lk := lookupsFixture("self", map[string]bool{"pub1": true}, nil, nil, nil)
	w := Write{DocID: "missing", IsDelete: true, SignerPubKey: "pub1"}
	assert.ErrorIs(t, CanPerformFederatedWrite(w, lk), ErrNotFound)
}

func TestRemotePutRequiresSubscription(t *testing.T) {
	lk := lookupsFixture("self", nil, nil, nil, nil)
	w := Write{DocID: "r1", Record: schema.Release{SiteAddress: "remote1", PostedBy: "pubR"}, SignerPubKey: "pubR"}
	assert.ErrorIs(t, CanPerformFederatedWrite(w, lk), ErrAccessDenied)

	lkSub := lookupsFixture("self", nil, nil, map[string]bool{"remote1": true}, nil)
	assert.NoError(t, CanPerformFederatedWrite(w, lkSub))
}

func TestRemoteDeleteAlwaysAllowed(t *testing.T) {
	existing := map[string][2]string{"r1": {"remote1", "pubR"}}
	lk := lookupsFixture("self", nil, nil, nil, existing)
	w := Write{DocID: "r1", IsDelete: true, SignerPubKey: "pubR"}
	assert.NoError(t, CanPerformFederatedWrite(w, lk))
}

func TestRootPolicy(t *testing.T) {
	assert.NoError(t, RootPolicy("root1", "root1"))
	assert.ErrorIs(t, RootPolicy("other", "root1"), ErrAccessDenied)
}

func TestSubscriptionPolicy(t *testing.T) {
	lk := lookupsFixture("self", nil, map[string]bool{"admin1": true}, nil, nil)
	assert.NoError(t, SubscriptionPolicy("admin1", lk))
	assert.ErrorIs(t, SubscriptionPolicy("member1", lk), ErrAccessDenied)
}

func TestValidSubscriptionTarget(t *testing.T) {
	assert.True(t, ValidSubscriptionTarget("self", "other"))
	assert.False(t, ValidSubscriptionTarget("self", "self"))
}
