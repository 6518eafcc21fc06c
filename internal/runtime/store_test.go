package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/sitefed/internal/schema"
)

func TestKVRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, found := store.GetKV("missing")
	assert.False(t, found)

	require.NoError(t, store.SetKV("k1", "v1"))
	v, found := store.GetKV("k1")
	require.True(t, found)
	assert.Equal(t, "v1", v)

	require.NoError(t, store.SetKV("k1", "v2"))
	v, found = store.GetKV("k1")
	require.True(t, found)
	assert.Equal(t, "v2", v)
}

func TestWriteAuditLogDoesNotError(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.WriteAuditLog("2026-07-30T00:00:00Z", "federated_write_denied", "detail"))
}

func TestStatsCountsPerCollection(t *testing.T) {
	store := newTestStore(t)
	signer := newTestSigner(t)

	coll := Open(store, "site1:release", schema.TagRelease)
	require.NoError(t, coll.Put("r1", "site1", schema.Release{ID: "r1", SiteAddress: "site1", PostedBy: signer.PublicKey()}, signer))
	require.NoError(t, coll.Put("r2", "site1", schema.Release{ID: "r2", SiteAddress: "site1", PostedBy: signer.PublicKey()}, signer))

	other := Open(store, "site1:contentCategory", schema.TagContentCategory)
	require.NoError(t, other.Put("c1", "site1", schema.ContentCategory{ID: "c1", SiteAddress: "site1", PostedBy: signer.PublicKey()}, signer))

	stats, err := store.Stats("site1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats["release"])
	assert.Equal(t, 1, stats["contentCategory"])

	stats, err = store.Stats("site2")
	require.NoError(t, err)
	assert.Empty(t, stats)
}
