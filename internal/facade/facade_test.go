package facade

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/sitefed/internal/federation"
	"github.com/klppl/sitefed/internal/identity"
	"github.com/klppl/sitefed/internal/schema"
	"github.com/klppl/sitefed/internal/site"
)

const testRootKey = "0000000000000000000000000000000000000000000000000000000000000021"

func newTestFacade(t *testing.T) (*Facade, string) {
	t.Helper()
	f, err := Init(filepath.Join(t.TempDir(), "test.db"), federation.Config{})
	require.NoError(t, err)

	resp, err := f.OpenSite(testRootKey, site.OpenArgs{}, false)
	require.NoError(t, err)
	require.True(t, resp.Success)
	return f, resp.ID
}

func rootIdentity(t *testing.T) *identity.Identity {
	id, err := identity.New(testRootKey)
	require.NoError(t, err)
	return id
}

func TestOpenSiteReturnsAddress(t *testing.T) {
	_, address := newTestFacade(t)
	assert.NotEmpty(t, address)
}

func TestAddAndGetRelease(t *testing.T) {
	f, address := newTestFacade(t)
	root := rootIdentity(t)

	resp := f.AddRelease(address, schema.Release{Name: "Demo", CategoryID: "cat1", ContentCID: "cid1"}, root)
	require.True(t, resp.Success)

	rel, found, err := f.GetRelease(address, resp.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Demo", rel.Name)
	assert.Equal(t, address, rel.SiteAddress)
}

func TestAddContentCategoryDedupesByID(t *testing.T) {
	f, address := newTestFacade(t)
	root := rootIdentity(t)

	resp1 := f.AddContentCategory(address, schema.ContentCategory{CategoryID: "movies"}, root)
	require.True(t, resp1.Success)
	resp2 := f.AddContentCategory(address, schema.ContentCategory{CategoryID: "movies"}, root)
	require.True(t, resp2.Success)
	assert.Equal(t, resp1.ID, resp2.ID)

	cats, err := f.GetContentCategories(address, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}

func TestAddSubscriptionSelfIsSilentNoOp(t *testing.T) {
	f, address := newTestFacade(t)
	root := rootIdentity(t)

	resp := f.AddSubscription(address, schema.Subscription{To: address}, root)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.ID)

	subs, err := f.GetSubscriptions(address, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, subs, 0)
}

func TestGetAccountStatus(t *testing.T) {
	f, address := newTestFacade(t)
	root := rootIdentity(t)

	status, err := f.GetAccountStatus(address, root.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, StatusAdmin, status)

	status, err = f.GetAccountStatus(address, "unknown-pubkey")
	require.NoError(t, err)
	assert.Equal(t, StatusGuest, status)
}

func TestSiteMetadataRoundTrip(t *testing.T) {
	f, address := newTestFacade(t)

	resp := f.SetSiteMetadata(address, "hello world")
	require.True(t, resp.Success)

	v, err := f.GetSiteMetadata(address)
	require.NoError(t, err)
	assert.Equal(t, "hello world", v)
}

func TestGetStatsCountsByCollection(t *testing.T) {
	f, address := newTestFacade(t)
	root := rootIdentity(t)

	require.True(t, f.AddRelease(address, schema.Release{Name: "Demo", CategoryID: "cat1", ContentCID: "cid1"}, root).Success)
	require.True(t, f.AddContentCategory(address, schema.ContentCategory{CategoryID: "cat1"}, root).Success)

	stats, err := f.GetStats(address)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[schema.TagRelease])
	assert.Equal(t, 1, stats[schema.TagContentCategory])
}

func TestStopReversesOpenOrder(t *testing.T) {
	f, address := newTestFacade(t)
	resp := f.Stop(address)
	assert.True(t, resp.Success)

	_, err := f.GetSiteAddress(address)
	assert.Error(t, err)
}

func TestOperationsOnUnknownSiteReturnNotFound(t *testing.T) {
	f, _ := newTestFacade(t)
	root := rootIdentity(t)

	resp := f.AddRelease("unknown-address", schema.Release{}, root)
	assert.False(t, resp.Success)
	assert.Equal(t, "not found", resp.Error)
}
