package runtime

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/sitefed/internal/identity"
	"github.com/klppl/sitefed/internal/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestSigner(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.New("0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	return id
}

func TestCollectionPutGetDelete(t *testing.T) {
	store := newTestStore(t)
	signer := newTestSigner(t)
	coll := Open(store, "addr1:release", schema.TagRelease)

	rel := schema.Release{ID: "r1", Name: "Demo", SiteAddress: "addr1", PostedBy: signer.PublicKey()}
	require.NoError(t, coll.Put(rel.ID, rel.SiteAddress, rel, signer))

	got, ok, err := coll.Get("r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rel, got)

	require.NoError(t, coll.Delete("r1", rel.SiteAddress, signer))
	_, ok, err = coll.Get("r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCollectionJoinIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	signer := newTestSigner(t)
	coll := Open(store, "addr1:release", schema.TagRelease)

	rel := schema.Release{ID: "r1", Name: "Demo", SiteAddress: "addr1", PostedBy: signer.PublicKey()}
	event, err := BuildPutEvent(schema.TagRelease, rel.ID, rel.SiteAddress, rel, signer.PublicKey())
	require.NoError(t, err)
	require.NoError(t, signer.Sign(event))

	entry := Entry{Event: event}
	applied1, err := coll.Join(entry)
	require.NoError(t, err)
	assert.True(t, applied1)

	applied2, err := coll.Join(entry)
	require.NoError(t, err)
	assert.False(t, applied2, "re-joining an identical entry must be a no-op")

	_, ok, err := coll.Get("r1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCollectionGuardDeniesWrite(t *testing.T) {
	store := newTestStore(t)
	signer := newTestSigner(t)
	coll := Open(store, "addr1:release", schema.TagRelease)

	denyErr := assert.AnError
	coll.SetGuard(func(req GuardRequest) error {
		return denyErr
	})

	rel := schema.Release{ID: "r1", SiteAddress: "addr1", PostedBy: signer.PublicKey()}
	err := coll.Put(rel.ID, rel.SiteAddress, rel, signer)
	require.Error(t, err)
	assert.ErrorIs(t, err, denyErr)

	_, ok, err := coll.Get("r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCollectionSearch(t *testing.T) {
	store := newTestStore(t)
	signer := newTestSigner(t)
	coll := Open(store, "addr1:release", schema.TagRelease)

	for i, catID := range []string{"cat1", "cat2", "cat1"} {
		rel := schema.Release{ID: idFor(i), CategoryID: catID, SiteAddress: "addr1", PostedBy: signer.PublicKey()}
		require.NoError(t, coll.Put(rel.ID, rel.SiteAddress, rel, signer))
	}

	q := schema.Query{Exact: map[string]string{"categoryId": "cat1"}}
	results, err := coll.Search(q)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestCollectionChangesNotifiesOnPut(t *testing.T) {
	store := newTestStore(t)
	signer := newTestSigner(t)
	coll := Open(store, "addr1:release", schema.TagRelease)

	ch, unsubscribe := coll.Changes()
	defer unsubscribe()

	rel := schema.Release{ID: "r1", SiteAddress: "addr1", PostedBy: signer.PublicKey()}
	require.NoError(t, coll.Put(rel.ID, rel.SiteAddress, rel, signer))

	change := <-ch
	assert.Equal(t, ChangeAdded, change.Kind)
	assert.Equal(t, "r1", change.DocID)
}

func idFor(i int) string {
	return string(rune('a' + i))
}
