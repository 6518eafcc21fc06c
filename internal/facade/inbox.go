package facade

import (
	"encoding/json"
	"fmt"

	"github.com/klppl/sitefed/internal/federation"
	"github.com/klppl/sitefed/internal/policy"
	"github.com/klppl/sitefed/internal/runtime"
	"github.com/klppl/sitefed/internal/schema"
)

// JoinRemoteUpdate decodes a raw federation.FederationUpdate payload
// (spec.md §6's wire message) and joins its entries into address's
// matching collection. This is the HTTP-transport counterpart to the
// Federation Manager's pull-live pubsub path (internal/federation), used
// when a remote peer is not reachable through the in-process RemoteOpener
// and instead posts updates directly to /federation/inbox.
//
// remote is the claimed origin site, authenticated by the transport layer
// before this is called (the inbound request's verified HTTP-signature
// keyID — see internal/transport/signing.go). JoinRemoteUpdate enforces
// the same rule internal/federation's joinRawEntry/joinTrustedRemoteEntry
// enforce for the in-process pull paths: address must hold a Subscription
// to remote (spec.md §4.1 item 3), and every put's decoded siteAddress
// must equal remote, or the entry is rejected.
func (f *Facade) JoinRemoteUpdate(address, remote string, raw json.RawMessage) error {
	h, found := f.handleFor(address)
	if !found {
		return policy.ErrNotFound
	}
	if !h.site.HasSubscriptionTo(remote) {
		return policy.ErrAccessDenied
	}

	var update federation.FederationUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return fmt.Errorf("join remote update: %w", err)
	}
	coll, ok := h.site.FederatedCollections()[update.Store]
	if !ok {
		return fmt.Errorf("join remote update: unknown collection %q", update.Store)
	}

	for _, e := range append(append([]federation.RawEntry{}, update.Added...), update.Removed...) {
		entry, err := runtime.DecodeEntry(e.Raw)
		if err != nil {
			continue // malformed entry; swallow per spec.md §4.2/§7
		}
		if !entry.IsDelete() {
			rec, err := schema.UnmarshalByTag(coll.Tag(), []byte(entry.Event.Content))
			if err != nil || schema.SiteAddressOf(rec) != remote {
				continue // claimed origin doesn't match the authenticated signer; drop
			}
		}
		if _, err := coll.Join(*entry); err != nil {
			return fmt.Errorf("join remote update: %w", err)
		}
	}
	return nil
}
