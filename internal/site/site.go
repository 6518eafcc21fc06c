// Package site implements the Site Program (spec.md §4.1): the
// addressable, replicated program that bundles the seven document
// collections and installs the Access Policy at open time.
package site

import (
	"fmt"
	"sync"
	"time"

	"github.com/klppl/sitefed/internal/identity"
	"github.com/klppl/sitefed/internal/policy"
	"github.com/klppl/sitefed/internal/runtime"
	"github.com/klppl/sitefed/internal/schema"
)

// CollectionArgs mirrors spec.md §4.1's per-collection open parameters.
// This implementation's local runtime.Collection has no separate
// replication factor to honor (replication lives inside the Federation
// Manager's push/pull, not inside storage). Open accepts these values but
// does not read them: the four federated collections are always
// federation-eligible and the other three never are.
type CollectionArgs struct {
	Replicate       bool
	ReplicaFactor   int
	ReplicaMin      int
	DisableCache    bool
}

// OpenArgs bundles per-collection open parameters for all seven
// collections, defaulting every unspecified one to Replicate=false.
type OpenArgs struct {
	Releases         CollectionArgs
	FeaturedReleases CollectionArgs
	ContentCategories CollectionArgs
	BlockedContent   CollectionArgs
	Subscriptions    CollectionArgs
	Members          CollectionArgs
	Administrators   CollectionArgs
}

// Site is an opened Site Program: the seven collections, this site's
// stable address, and its root-of-trust identity.
type Site struct {
	mu sync.RWMutex

	address string
	root    *identity.Identity

	releases         *runtime.Collection
	featuredReleases *runtime.Collection
	contentCategories *runtime.Collection
	blockedContent   *runtime.Collection
	subscriptions    *runtime.Collection
	members          *runtime.Collection
	administrators   *runtime.Collection

	store  *runtime.Store
	bus    *runtime.Bus
	closed bool
}

// Open idempotently opens all seven collections for the given identity
// and installs the Access Policy on the four federated collections, per
// spec.md §4.1. Collection names are prefixed with the site address,
// which scopes collection storage rows to this site.
func Open(store *runtime.Store, bus *runtime.Bus, root *identity.Identity, args OpenArgs) (*Site, error) {
	address := identity.SiteAddress(root.PublicKey())

	s := &Site{
		address:           address,
		root:              root,
		releases:          runtime.Open(store, address+":release", schema.TagRelease),
		featuredReleases:  runtime.Open(store, address+":featuredRelease", schema.TagFeaturedRelease),
		contentCategories: runtime.Open(store, address+":contentCategory", schema.TagContentCategory),
		blockedContent:    runtime.Open(store, address+":blockedContent", schema.TagBlockedContent),
		subscriptions:     runtime.Open(store, address+":subscription", schema.TagSubscription),
		members:           runtime.Open(store, address+":member", schema.TagMember),
		administrators:    runtime.Open(store, address+":administrator", schema.TagAdministrator),
		store:             store,
		bus:               bus,
	}

	s.installAccessPolicy()

	// The root-of-trust key is always an administrator of its own site.
	_, isAdmin, err := s.administrators.Get(root.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("site open: %w", err)
	}
	if !isAdmin {
		if err := s.administrators.Put(root.PublicKey(), address, schema.Administrator{PublicKey: root.PublicKey()}, root); err != nil {
			return nil, fmt.Errorf("site open: seed root administrator: %w", err)
		}
	}

	return s, nil
}

func (s *Site) installAccessPolicy() {
	lookups := func() policy.Lookups {
		return policy.Lookups{
			SelfAddress:       s.address,
			IsMember:          s.isMember,
			IsAdministrator:   s.isAdministrator,
			HasSubscriptionTo: s.hasSubscriptionTo,
		}
	}

	guard := func(coll *runtime.Collection, existing func(docID string) (string, string, bool)) runtime.Guard {
		return func(req runtime.GuardRequest) error {
			lk := lookups()
			lk.ExistingSiteAddressAndPostedBy = existing
			err := policy.CanPerformFederatedWrite(policy.Write{
				DocID:        req.DocID,
				IsDelete:     req.IsDelete,
				Record:       req.Record,
				SignerPubKey: req.SignerPubKey,
			}, lk)
			if err != nil {
				s.auditDenied(req.SignerPubKey, req.DocID, err)
			}
			return err
		}
	}

	s.releases.SetGuard(guard(s.releases, s.existingFor(s.releases)))
	s.featuredReleases.SetGuard(guard(s.featuredReleases, s.existingFor(s.featuredReleases)))
	s.contentCategories.SetGuard(guard(s.contentCategories, s.existingFor(s.contentCategories)))
	s.blockedContent.SetGuard(guard(s.blockedContent, s.existingFor(s.blockedContent)))

	s.members.SetGuard(func(req runtime.GuardRequest) error {
		return policy.RootPolicy(req.SignerPubKey, s.root.PublicKey())
	})
	s.administrators.SetGuard(func(req runtime.GuardRequest) error {
		return policy.RootPolicy(req.SignerPubKey, s.root.PublicKey())
	})
	s.subscriptions.SetGuard(func(req runtime.GuardRequest) error {
		return policy.SubscriptionPolicy(req.SignerPubKey, lookups())
	})
}

func (s *Site) existingFor(coll *runtime.Collection) func(docID string) (string, string, bool) {
	return func(docID string) (siteAddress, postedBy string, ok bool) {
		rec, found, err := coll.Get(docID)
		if err != nil || !found {
			return "", "", false
		}
		return schema.SiteAddressOf(rec), schema.PostedByOf(rec), true
	}
}

func (s *Site) isMember(pubKey string) bool {
	_, ok, _ := s.members.Get(pubKey)
	return ok
}

func (s *Site) isAdministrator(pubKey string) bool {
	_, ok, _ := s.administrators.Get(pubKey)
	return ok
}

func (s *Site) hasSubscriptionTo(originSite string) bool {
	hits, err := s.subscriptions.Search(schema.Query{Exact: map[string]string{"to": originSite}, Fetch: 1})
	if err != nil {
		return false
	}
	return len(hits) > 0
}

// HasSubscriptionTo reports whether this site holds a Subscription to
// originSite. Exported so the Service Façade's federation-transport paths
// (e.g. the federation inbox) can gate a remote join on the same
// subscription check the Access Policy's remotePolicy enforces.
func (s *Site) HasSubscriptionTo(originSite string) bool {
	return s.hasSubscriptionTo(originSite)
}

// auditDenied records a best-effort audit entry for a federated write
// the Access Policy rejected (SPEC_FULL.md §10), adapted from the
// teacher's db.WriteAuditLog calls around rejected inbox activities.
func (s *Site) auditDenied(signerPubKey, docID string, cause error) {
	_ = s.store.WriteAuditLog(time.Now().UTC().Format(time.RFC3339),
		"federated_write_denied", s.address+" "+signerPubKey+" "+docID+": "+cause.Error())
}

// AuditLog records a best-effort operational audit entry against this
// site's storage, for events the Access Policy has no opinion on (e.g.
// subscription lifecycle) but that SPEC_FULL.md §10 still wants tracked.
func (s *Site) AuditLog(action, detail string) {
	_ = s.store.WriteAuditLog(time.Now().UTC().Format(time.RFC3339), action, detail)
}

// Address returns this site's stable, opaque address.
func (s *Site) Address() string { return s.address }

// FederationTopic returns the deterministic pubsub topic string this
// site publishes its outgoing FederationUpdates on (spec.md §6, GLOSSARY).
func (s *Site) FederationTopic() string { return s.address + "/federation" }

// Root returns the site's root-of-trust identity, used by the Service
// Façade to answer getPublicKey.
func (s *Site) Root() *identity.Identity { return s.root }

// Bus returns the shared pubsub bus this site's Federation Manager
// publishes on and subscribes through.
func (s *Site) Bus() *runtime.Bus { return s.bus }

// Collection accessors, used by both the Federation Manager and the
// Service Façade.
func (s *Site) Releases() *runtime.Collection         { return s.releases }
func (s *Site) FeaturedReleases() *runtime.Collection { return s.featuredReleases }
func (s *Site) ContentCategories() *runtime.Collection { return s.contentCategories }
func (s *Site) BlockedContent() *runtime.Collection   { return s.blockedContent }
func (s *Site) Subscriptions() *runtime.Collection    { return s.subscriptions }
func (s *Site) Members() *runtime.Collection           { return s.members }
func (s *Site) Administrators() *runtime.Collection    { return s.administrators }

// FederatedCollections returns the four collections the Federation
// Manager pushes, pulls, and cleans up on unsubscribe, keyed by tag.
func (s *Site) FederatedCollections() map[string]*runtime.Collection {
	return map[string]*runtime.Collection{
		schema.TagRelease:         s.releases,
		schema.TagFeaturedRelease: s.featuredReleases,
		schema.TagContentCategory: s.contentCategories,
		schema.TagBlockedContent:  s.blockedContent,
	}
}

// Close marks the site closed; it is idempotent. Collections in this
// implementation hold no network or storage handles of their own to
// release: the Federation Manager owns the pubsub subscriptions and is
// stopped separately, and the shared Store is closed by its owner.
func (s *Site) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return nil
}
