package facade

import (
	"github.com/klppl/sitefed/internal/identity"
	"github.com/klppl/sitefed/internal/policy"
	"github.com/klppl/sitefed/internal/runtime"
	"github.com/klppl/sitefed/internal/schema"
)

// AddRelease, DeleteRelease, GetReleases, GetRelease implement spec.md
// §4.3's release CRUD + search. There is no separate edit operation: an
// edit is AddRelease with an existing id, a same-id Put (the Access
// Policy's localPolicy restricts who may overwrite an existing id).
// Featured releases, content categories and blocked content follow much
// the same shape; subscriptions, members and administrators expose the
// narrower operation sets below.

func (f *Facade) AddRelease(address string, rec schema.Release, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	if rec.ID == "" {
		rec.ID = schema.NewOpaqueID()
	}
	rec.SiteAddress = address
	rec.PostedBy = signer.PublicKey()
	if err := h.site.Releases().Put(rec.ID, address, rec, signer); err != nil {
		return fail(err)
	}
	return ok(rec.ID)
}

func (f *Facade) DeleteRelease(address, id string, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	if err := h.site.Releases().Delete(id, address, signer); err != nil {
		return fail(err)
	}
	return ok(id)
}

func (f *Facade) GetRelease(address, id string) (schema.Release, bool, error) {
	h, found := f.handleFor(address)
	if !found {
		return schema.Release{}, false, policy.ErrNotFound
	}
	rec, found, err := h.site.Releases().Get(id)
	if err != nil || !found {
		return schema.Release{}, false, err
	}
	return rec.(schema.Release), true, nil
}

func (f *Facade) GetReleases(address string, opts SearchOptions) ([]schema.Release, error) {
	h, found := f.handleFor(address)
	if !found {
		return nil, policy.ErrNotFound
	}
	recs, err := h.site.Releases().Search(opts.toQuery())
	if err != nil {
		return nil, err
	}
	out := make([]schema.Release, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(schema.Release))
	}
	return out, nil
}

func (f *Facade) AddFeaturedRelease(address string, rec schema.FeaturedRelease, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	if rec.ID == "" {
		rec.ID = schema.NewOpaqueID()
	}
	rec.SiteAddress = address
	rec.PostedBy = signer.PublicKey()
	if err := h.site.FeaturedReleases().Put(rec.ID, address, rec, signer); err != nil {
		return fail(err)
	}
	return ok(rec.ID)
}

func (f *Facade) DeleteFeaturedRelease(address, id string, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	if err := h.site.FeaturedReleases().Delete(id, address, signer); err != nil {
		return fail(err)
	}
	return ok(id)
}

func (f *Facade) GetFeaturedRelease(address, id string) (schema.FeaturedRelease, bool, error) {
	h, found := f.handleFor(address)
	if !found {
		return schema.FeaturedRelease{}, false, policy.ErrNotFound
	}
	rec, found, err := h.site.FeaturedReleases().Get(id)
	if err != nil || !found {
		return schema.FeaturedRelease{}, false, err
	}
	return rec.(schema.FeaturedRelease), true, nil
}

func (f *Facade) GetFeaturedReleases(address string, opts SearchOptions) ([]schema.FeaturedRelease, error) {
	h, found := f.handleFor(address)
	if !found {
		return nil, policy.ErrNotFound
	}
	recs, err := h.site.FeaturedReleases().Search(opts.toQuery())
	if err != nil {
		return nil, err
	}
	out := make([]schema.FeaturedRelease, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(schema.FeaturedRelease))
	}
	return out, nil
}

// AddContentCategory derives the deterministic id from (siteAddress,
// categoryId) per spec.md §3, so two puts with the same categoryId
// collapse to one row regardless of caller-supplied id.
func (f *Facade) AddContentCategory(address string, rec schema.ContentCategory, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	rec.ID = schema.CategoryID(address, rec.CategoryID)
	rec.SiteAddress = address
	rec.PostedBy = signer.PublicKey()
	if err := h.site.ContentCategories().Put(rec.ID, address, rec, signer); err != nil {
		return fail(err)
	}
	return ok(rec.ID)
}

func (f *Facade) DeleteContentCategory(address, id string, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	if err := h.site.ContentCategories().Delete(id, address, signer); err != nil {
		return fail(err)
	}
	return ok(id)
}

func (f *Facade) GetContentCategory(address, id string) (schema.ContentCategory, bool, error) {
	h, found := f.handleFor(address)
	if !found {
		return schema.ContentCategory{}, false, policy.ErrNotFound
	}
	rec, found, err := h.site.ContentCategories().Get(id)
	if err != nil || !found {
		return schema.ContentCategory{}, false, err
	}
	return rec.(schema.ContentCategory), true, nil
}

func (f *Facade) GetContentCategories(address string, opts SearchOptions) ([]schema.ContentCategory, error) {
	h, found := f.handleFor(address)
	if !found {
		return nil, policy.ErrNotFound
	}
	recs, err := h.site.ContentCategories().Search(opts.toQuery())
	if err != nil {
		return nil, err
	}
	out := make([]schema.ContentCategory, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(schema.ContentCategory))
	}
	return out, nil
}

func (f *Facade) AddBlockedContent(address string, rec schema.BlockedContent, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	rec.ID = schema.BlockedContentID(rec.ContentCID)
	rec.SiteAddress = address
	rec.PostedBy = signer.PublicKey()
	if err := h.site.BlockedContent().Put(rec.ID, address, rec, signer); err != nil {
		return fail(err)
	}
	return ok(rec.ID)
}

func (f *Facade) DeleteBlockedContent(address, id string, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	if err := h.site.BlockedContent().Delete(id, address, signer); err != nil {
		return fail(err)
	}
	return ok(id)
}

func (f *Facade) GetBlockedContents(address string, opts SearchOptions) ([]schema.BlockedContent, error) {
	h, found := f.handleFor(address)
	if !found {
		return nil, policy.ErrNotFound
	}
	recs, err := h.site.BlockedContent().Search(opts.toQuery())
	if err != nil {
		return nil, err
	}
	out := make([]schema.BlockedContent, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(schema.BlockedContent))
	}
	return out, nil
}

// AddSubscription creates a Subscription to a remote site and, if the
// Facade has an active Federation Manager for address, immediately
// begins federation for it (the manager's subscription watcher reacts to
// the resulting Added change). Self-subscriptions are silently ignored
// per spec.md §3.
func (f *Facade) AddSubscription(address string, rec schema.Subscription, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	if !policy.ValidSubscriptionTarget(address, rec.To) {
		return ok("") // self-subscription silently ignored, not an error
	}
	if rec.ID == "" {
		rec.ID = schema.NewOpaqueID()
	}
	rec.SiteAddress = address
	rec.PostedBy = signer.PublicKey()
	if err := h.site.Subscriptions().Put(rec.ID, address, rec, signer); err != nil {
		return fail(err)
	}
	h.site.AuditLog("subscription_added", address+" -> "+rec.To)
	return ok(rec.ID)
}

// DeleteSubscription removes a Subscription and, before doing so, drives
// the Federation Manager's unsubscribe cleanup for its `to` address
// (spec.md §4.2 "Unsubscribe"): delete federated rows, abort sync,
// unsubscribe pubsub, drop the handle.
func (f *Facade) DeleteSubscription(address, id string, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	rec, exists, err := h.site.Subscriptions().Get(id)
	if err != nil {
		return fail(err)
	}
	if !exists {
		return fail(policy.ErrNotFound)
	}
	sub := rec.(schema.Subscription)

	if h.manager != nil {
		var runtimeSigner runtime.Signer = signer
		if err := h.manager.Unsubscribe(sub.To, runtimeSigner); err != nil {
			return fail(err)
		}
	}

	if err := h.site.Subscriptions().Delete(id, address, signer); err != nil {
		return fail(err)
	}
	h.site.AuditLog("subscription_removed", address+" -> "+sub.To)
	return ok(id)
}

func (f *Facade) GetSubscriptions(address string, opts SearchOptions) ([]schema.Subscription, error) {
	h, found := f.handleFor(address)
	if !found {
		return nil, policy.ErrNotFound
	}
	recs, err := h.site.Subscriptions().Search(opts.toQuery())
	if err != nil {
		return nil, err
	}
	out := make([]schema.Subscription, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(schema.Subscription))
	}
	return out, nil
}

// AddMember and AddAdministrator are root-of-trust-only mutations
// (spec.md §4.1): the Access Policy installed in site.Open rejects any
// signer other than the site's own root key.
func (f *Facade) AddMember(address string, pubKey string, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	rec := schema.Member{PublicKey: pubKey}
	if err := h.site.Members().Put(pubKey, address, rec, signer); err != nil {
		return fail(err)
	}
	return ok(pubKey)
}

func (f *Facade) AddAdministrator(address string, pubKey string, signer *identity.Identity) Response {
	h, found := f.handleFor(address)
	if !found {
		return fail(policy.ErrNotFound)
	}
	rec := schema.Administrator{PublicKey: pubKey}
	if err := h.site.Administrators().Put(pubKey, address, rec, signer); err != nil {
		return fail(err)
	}
	return ok(pubKey)
}
