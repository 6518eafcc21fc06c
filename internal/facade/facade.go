// Package facade implements the Service Façade (spec.md §4.3): a thin,
// uniform adapter over the Site Program and Federation Manager. Every
// operation returns the same two-shape Response spec.md names:
// {success:true, id?, hash?} or {success:false, error}. Grounded on the
// teacher's internal/server handlers, which follow the same
// one-operation-per-HTTP-verb, uniform-error-shape convention (e.g.
// internal/server/followimport.go's importResult).
package facade

import (
	"fmt"
	"sync"

	"github.com/klppl/sitefed/internal/federation"
	"github.com/klppl/sitefed/internal/identity"
	"github.com/klppl/sitefed/internal/policy"
	"github.com/klppl/sitefed/internal/runtime"
	"github.com/klppl/sitefed/internal/site"
)

// Response is the uniform operation result spec.md §4.3 requires.
type Response struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(id string) Response   { return Response{Success: true, ID: id} }
func fail(err error) Response { return Response{Success: false, Error: errString(err)} }

// errString maps the policy package's taxonomy errors to spec.md §7's
// exact error strings; anything else passes through its own message.
func errString(err error) string {
	switch {
	case err == nil:
		return ""
	case err == policy.ErrAccessDenied:
		return "access denied"
	case err == policy.ErrNotFound:
		return "not found"
	default:
		return err.Error()
	}
}

// AccountStatus is the three-tier status getAccountStatus computes
// (spec.md §4.3).
type AccountStatus string

const (
	StatusGuest AccountStatus = "GUEST"
	StatusMember AccountStatus = "MEMBER"
	StatusAdmin  AccountStatus = "ADMIN"
)

// handle bundles one opened Site with its (optional) running Federation
// Manager, so Stop can reverse the open order per spec.md §4.3.
type handle struct {
	site    *site.Site
	manager *federation.Manager
}

// Facade is the process-wide Service Façade. It owns the shared storage
// and pubsub Bus every opened Site is backed by, and a registry of
// currently-open sites keyed by address (used both to serve local
// requests and, in this single-process implementation, to let the
// Federation Manager "dial" a subscribed-to site directly in-process —
// see remote.go).
type Facade struct {
	store *runtime.Store
	bus   *runtime.Bus
	cfg   federation.Config

	mu    sync.RWMutex
	sites map[string]*handle
}

// Init opens the shared storage backend and constructs a Facade. This is
// spec.md §4.3's `init` operation.
func Init(databaseURL string, cfg federation.Config) (*Facade, error) {
	store, err := runtime.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("facade init: %w", err)
	}
	return &Facade{
		store: store,
		bus:   runtime.NewBus(),
		cfg:   cfg,
		sites: make(map[string]*handle),
	}, nil
}

// OpenSite opens (or re-opens) a site for the given root private key,
// optionally starting its Federation Manager (spec.md §4.3
// `openSite(addressOrProgram, {siteArgs, federate})`).
func (f *Facade) OpenSite(rootPrivKeyHex string, args site.OpenArgs, federate bool) (Response, error) {
	id, err := identity.New(rootPrivKeyHex)
	if err != nil {
		return fail(err), err
	}

	s, err := site.Open(f.store, f.bus, id, args)
	if err != nil {
		return fail(err), err
	}

	h := &handle{site: s}
	if federate {
		mgr := federation.New(s, f, f.cfg)
		if err := mgr.Start(); err != nil {
			return fail(err), err
		}
		h.manager = mgr
	}

	f.mu.Lock()
	f.sites[s.Address()] = h
	f.mu.Unlock()

	return ok(s.Address()), nil
}

// Stop closes a site, stopping its Federation Manager first (reverse of
// open order, per spec.md §4.3).
func (f *Facade) Stop(address string) Response {
	f.mu.Lock()
	h, ok2 := f.sites[address]
	delete(f.sites, address)
	f.mu.Unlock()

	if !ok2 {
		return fail(policy.ErrNotFound)
	}
	if h.manager != nil {
		h.manager.Stop()
	}
	if err := h.site.Close(); err != nil {
		return fail(err)
	}
	return ok(address)
}

func (f *Facade) handleFor(address string) (*handle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, found := f.sites[address]
	return h, found
}

// GetPublicKey returns the site's root-of-trust public key.
func (f *Facade) GetPublicKey(address string) (string, error) {
	h, found := f.handleFor(address)
	if !found {
		return "", policy.ErrNotFound
	}
	return h.site.Root().PublicKey(), nil
}

// GetPeerID returns the site's network peer identity. This deployment has
// no separate peer-transport layer from the site address, so the two
// coincide.
func (f *Facade) GetPeerID(address string) (string, error) {
	return f.GetSiteAddress(address)
}

// GetSiteAddress returns the site's stable address.
func (f *Facade) GetSiteAddress(address string) (string, error) {
	h, found := f.handleFor(address)
	if !found {
		return "", policy.ErrNotFound
	}
	return h.site.Address(), nil
}

// GetAccountStatus computes GUEST/MEMBER/ADMIN for pubKey at the given
// site (spec.md §4.3).
func (f *Facade) GetAccountStatus(address, pubKey string) (AccountStatus, error) {
	h, found := f.handleFor(address)
	if !found {
		return "", policy.ErrNotFound
	}
	if _, isAdmin, _ := h.site.Administrators().Get(pubKey); isAdmin {
		return StatusAdmin, nil
	}
	if _, isMember, _ := h.site.Members().Get(pubKey); isMember {
		return StatusMember, nil
	}
	return StatusGuest, nil
}

// GetSiteMetadata/SetSiteMetadata persist a small free-form string blob
// per site, keyed in the shared key-value table — metadata has no
// federated semantics of its own so it does not warrant a full
// replicated collection.
func (f *Facade) GetSiteMetadata(address string) (string, error) {
	if _, found := f.handleFor(address); !found {
		return "", policy.ErrNotFound
	}
	v, _ := f.store.GetKV("site-metadata:" + address)
	return v, nil
}

func (f *Facade) SetSiteMetadata(address, metadata string) Response {
	if _, found := f.handleFor(address); !found {
		return fail(policy.ErrNotFound)
	}
	if err := f.store.SetKV("site-metadata:"+address, metadata); err != nil {
		return fail(err)
	}
	return ok(address)
}

// GetRemoteSiteMetadata peeks a remote site's metadata without installing
// federation (spec.md §4.3): address is resolved against the sites open
// in this process and that site's stored metadata is read; no
// subscription or federation state is created.
func (f *Facade) GetRemoteSiteMetadata(address string) (string, error) {
	if _, found := f.handleFor(address); !found {
		return "", policy.ErrNotFound
	}
	v, _ := f.store.GetKV("site-metadata:" + address)
	return v, nil
}

// Dial opens a connection to a remote site for inspection, without
// subscribing. In this single-process deployment, dialing a site that is
// already open locally always succeeds; dialing an unknown address fails
// with not-found, matching the "no federation installed" contract.
func (f *Facade) Dial(address string) Response {
	if _, found := f.handleFor(address); !found {
		return fail(policy.ErrNotFound)
	}
	return ok(address)
}

// GetStats returns per-collection document counts for an opened site
// (SPEC_FULL.md §10), adapted from the teacher's db.Stats() aggregate.
func (f *Facade) GetStats(address string) (map[string]int, error) {
	if _, found := f.handleFor(address); !found {
		return nil, policy.ErrNotFound
	}
	return f.store.Stats(address)
}

// managerFor returns the Federation Manager for an opened, federating
// site, or nil if the site isn't federating.
func (f *Facade) managerFor(address string) *federation.Manager {
	h, found := f.handleFor(address)
	if !found {
		return nil
	}
	return h.manager
}
