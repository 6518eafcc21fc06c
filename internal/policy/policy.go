// Package policy implements the Access Policy (spec.md §4.1, §4.4): pure
// functions classifying a candidate write to a federated collection as
// local-permitted, federated-permitted, or denied. It has no storage of
// its own — callers supply the lookups it needs (existing document,
// membership, subscriptions) so the decision functions stay pure and easy
// to test in isolation, mirroring the teacher's preference for small,
// dependency-injected helper functions over methods on a god object.
package policy

import (
	"errors"

	"github.com/klppl/sitefed/internal/schema"
)

// ErrAccessDenied is the taxonomy error surfaced by the Service Façade as
// {success:false, error:"access denied"} (spec.md §7).
var ErrAccessDenied = errors.New("access denied")

// ErrNotFound is surfaced for a delete of a nonexistent id (spec.md §7).
var ErrNotFound = errors.New("not found")

// Lookups bundles the read-only queries the Access Policy needs to reach
// a verdict, so that CanPerformFederatedWrite never touches storage directly.
type Lookups struct {
	// SelfAddress is this site's own address.
	SelfAddress string
	// IsMember/IsAdministrator classify a public key against this site's
	// membership/administrator collections.
	IsMember        func(pubKey string) bool
	IsAdministrator func(pubKey string) bool
	// HasSubscriptionTo reports whether this site has a Subscription
	// whose `to` field equals originSite.
	HasSubscriptionTo func(originSite string) bool
	// ExistingSiteAddressAndPostedBy looks up a document's current
	// siteAddress and postedBy by id, for delete checks. ok=false means
	// the document does not exist locally.
	ExistingSiteAddressAndPostedBy func(docID string) (siteAddress, postedBy string, ok bool)
}

// Write describes one candidate mutation to a federated collection.
type Write struct {
	DocID    string
	IsDelete bool
	// Record is the decoded payload for a put; nil for a delete.
	Record schema.Record
	// SignerPubKey is the public key that actually signed the log entry
	// carrying this write (spec.md invariant: every record is signed by
	// its postedBy).
	SignerPubKey string
}

// CanPerformFederatedWrite is the re-usable access-check helper spec.md
// §4.4 names: it classifies w against the four federated collections'
// shared rule (§4.1 item "2"/"3"). All four federated Collections install
// the same policy function, parameterized only by Lookups.
func CanPerformFederatedWrite(w Write, lk Lookups) error {
	originSite, ok := originSiteOf(w, lk)
	if !ok {
		// Delete of an id we don't have on file: deny per spec.md §4.1 item 1.
		return ErrNotFound
	}

	if originSite == lk.SelfAddress {
		return localPolicy(w, lk)
	}
	return remotePolicy(w, originSite, lk)
}

// originSiteOf determines the write's claimed origin site: for a put,
// the payload's siteAddress field; for a delete, the existing row's
// siteAddress (§4.1 item 1).
func originSiteOf(w Write, lk Lookups) (site string, ok bool) {
	if !w.IsDelete {
		return schema.SiteAddressOf(w.Record), true
	}
	siteAddress, _, exists := lk.ExistingSiteAddressAndPostedBy(w.DocID)
	if !exists {
		return "", false
	}
	return siteAddress, true
}

// localPolicy implements §4.1 item 2: the writer must be a member or
// administrator; edit/delete of someone else's record is further
// restricted to administrators.
func localPolicy(w Write, lk Lookups) error {
	isMember := lk.IsMember(w.SignerPubKey)
	isAdmin := lk.IsAdministrator(w.SignerPubKey)
	if !isMember && !isAdmin {
		return ErrAccessDenied
	}

	if w.IsDelete {
		_, postedBy, _ := lk.ExistingSiteAddressAndPostedBy(w.DocID)
		if postedBy != w.SignerPubKey && !isAdmin {
			return ErrAccessDenied
		}
		return nil
	}

	if lk.ExistingSiteAddressAndPostedBy != nil {
		if _, existingPostedBy, exists := lk.ExistingSiteAddressAndPostedBy(w.DocID); exists &&
			existingPostedBy != w.SignerPubKey && !isAdmin {
			return ErrAccessDenied
		}
	}
	postedBy := schema.PostedByOf(w.Record)
	if postedBy != w.SignerPubKey && !isAdmin {
		return ErrAccessDenied
	}
	return nil
}

// remotePolicy implements §4.1 item 3: a put from a remote origin is
// allowed only if this site subscribes to that origin; a delete from a
// remote origin is always allowed (we trust a federated partner's
// tombstones for rows it originated).
func remotePolicy(w Write, originSite string, lk Lookups) error {
	if w.IsDelete {
		return nil
	}
	if !lk.HasSubscriptionTo(originSite) {
		return ErrAccessDenied
	}
	return nil
}

// RootPolicy restricts member/administrator mutations to the site's own
// root-of-trust key (§4.1: "only the root-of-trust ... may mutate
// members/administrators").
func RootPolicy(signerPubKey, rootPubKey string) error {
	if signerPubKey != rootPubKey {
		return ErrAccessDenied
	}
	return nil
}

// SubscriptionPolicy restricts subscription mutations to administrators
// of the subscribing (local) site (§4.1).
func SubscriptionPolicy(signerPubKey string, lk Lookups) error {
	if !lk.IsAdministrator(signerPubKey) {
		return ErrAccessDenied
	}
	return nil
}

// ValidSubscriptionTarget rejects a Subscription whose `to` equals the
// subscribing site's own address — self-subscriptions are silently
// ignored per spec.md §3 invariant, surfaced here as a boolean the caller
// uses to skip the write entirely (not an error).
func ValidSubscriptionTarget(selfAddress, to string) bool {
	return to != selfAddress
}
