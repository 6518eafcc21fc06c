package facade

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/sitefed/internal/federation"
	"github.com/klppl/sitefed/internal/policy"
	"github.com/klppl/sitefed/internal/runtime"
	"github.com/klppl/sitefed/internal/schema"
)

// TestJoinRemoteUpdateRejectsUnsubscribedOrigin is the facade-level
// regression test for the inbox's subscription gap: a remote site this
// site has never subscribed to must never have its entries joined in.
func TestJoinRemoteUpdateRejectsUnsubscribedOrigin(t *testing.T) {
	f, address := newTestFacade(t)

	rel := schema.Release{ID: "r1", Name: "Demo", SiteAddress: "remoteaddr1", PostedBy: rootIdentity(t).PublicKey()}
	event, err := runtime.BuildPutEvent(schema.TagRelease, rel.ID, rel.SiteAddress, rel, rootIdentity(t).PublicKey())
	require.NoError(t, err)
	require.NoError(t, rootIdentity(t).Sign(event))
	raw, err := runtime.EncodeEntry(runtime.Entry{Event: event})
	require.NoError(t, err)

	update := federation.FederationUpdate{Store: schema.TagRelease, Added: []federation.RawEntry{{Raw: raw}}}
	payload, err := json.Marshal(update)
	require.NoError(t, err)

	err = f.JoinRemoteUpdate(address, "remoteaddr1", payload)
	assert.ErrorIs(t, err, policy.ErrAccessDenied)

	_, ok, err := f.GetRelease(address, "r1")
	require.NoError(t, err)
	assert.False(t, ok, "unsubscribed origin's entry must not be joined")
}

// TestJoinRemoteUpdateJoinsSubscribedOrigin confirms the positive path
// still works once address actually holds a Subscription to the origin.
func TestJoinRemoteUpdateJoinsSubscribedOrigin(t *testing.T) {
	f, address := newTestFacade(t)
	const remote = "remoteaddr1"

	resp := f.AddSubscription(address, schema.Subscription{To: remote}, rootIdentity(t))
	require.True(t, resp.Success)

	rel := schema.Release{ID: "r1", Name: "Demo", SiteAddress: remote, PostedBy: rootIdentity(t).PublicKey()}
	event, err := runtime.BuildPutEvent(schema.TagRelease, rel.ID, rel.SiteAddress, rel, rootIdentity(t).PublicKey())
	require.NoError(t, err)
	require.NoError(t, rootIdentity(t).Sign(event))
	raw, err := runtime.EncodeEntry(runtime.Entry{Event: event})
	require.NoError(t, err)

	update := federation.FederationUpdate{Store: schema.TagRelease, Added: []federation.RawEntry{{Raw: raw}}}
	payload, err := json.Marshal(update)
	require.NoError(t, err)

	require.NoError(t, f.JoinRemoteUpdate(address, remote, payload))

	got, ok, err := f.GetRelease(address, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rel, got)
}

// TestJoinRemoteUpdateRejectsMismatchedOrigin confirms an entry claiming
// a siteAddress different from the authenticated remote is dropped even
// when address does hold a subscription to that remote.
func TestJoinRemoteUpdateRejectsMismatchedOrigin(t *testing.T) {
	f, address := newTestFacade(t)
	const remote = "remoteaddr1"

	resp := f.AddSubscription(address, schema.Subscription{To: remote}, rootIdentity(t))
	require.True(t, resp.Success)

	rel := schema.Release{ID: "spoofed", Name: "Spoofed", SiteAddress: "someoneelse", PostedBy: rootIdentity(t).PublicKey()}
	event, err := runtime.BuildPutEvent(schema.TagRelease, rel.ID, rel.SiteAddress, rel, rootIdentity(t).PublicKey())
	require.NoError(t, err)
	require.NoError(t, rootIdentity(t).Sign(event))
	raw, err := runtime.EncodeEntry(runtime.Entry{Event: event})
	require.NoError(t, err)

	update := federation.FederationUpdate{Store: schema.TagRelease, Added: []federation.RawEntry{{Raw: raw}}}
	payload, err := json.Marshal(update)
	require.NoError(t, err)

	require.NoError(t, f.JoinRemoteUpdate(address, remote, payload))

	_, ok, err := f.GetRelease(address, "spoofed")
	require.NoError(t, err)
	assert.False(t, ok, "entry whose claimed site address doesn't match the authenticated remote must be dropped")
}
