// Package schema defines the seven replicated record types of the
// federation engine, their wire tags, and the rules for deriving their
// IDs. Each record is a plain JSON-tagged struct — the idiomatic Go
// replacement for a decorator-based schema system — with a stable Tag()
// string used to multiplex decode on the wire and to pick a Nostr event
// kind for its signed log entry.
package schema

import "fmt"

// Tag strings identify a record's type across the wire and in storage.
const (
	TagRelease         = "release"
	TagFeaturedRelease = "featuredRelease"
	TagContentCategory = "contentCategory"
	TagBlockedContent  = "blockedContent"
	TagSubscription    = "subscription"
	TagMember          = "member"
	TagAdministrator   = "administrator"
)

// FederatedTags lists the four collections the Access Policy and the
// Federation Manager treat specially (push/pull/backfill eligible).
var FederatedTags = []string{TagRelease, TagFeaturedRelease, TagContentCategory, TagBlockedContent}

// baseKind is the first Nostr event kind (NIP-33 addressable range) used
// for federation engine records. Each tag gets baseKind+offset, replaceable
// per (kind, pubkey, "d" tag) the way NIP-33 defines.
const baseKind = 30300

var kindByTag = map[string]int{
	TagRelease:         baseKind + 1,
	TagFeaturedRelease: baseKind + 2,
	TagContentCategory: baseKind + 3,
	TagBlockedContent:  baseKind + 4,
	TagSubscription:    baseKind + 5,
	TagMember:          baseKind + 6,
	TagAdministrator:   baseKind + 7,
}

var tagByKind = func() map[int]string {
	m := make(map[int]string, len(kindByTag))
	for tag, kind := range kindByTag {
		m[kind] = tag
	}
	return m
}()

// DeleteKind is the NIP-09-style tombstone kind used for every collection;
// the target record is identified by its "d" tag within the collection the
// tombstone is applied to (an "a" coordinate is carried alongside), so a
// single kind suffices across all seven record types.
const DeleteKind = 5

// KindForTag returns the Nostr event kind used to carry puts of tag.
func KindForTag(tag string) (int, bool) {
	k, ok := kindByTag[tag]
	return k, ok
}

// TagForKind returns the record tag carried by a put event of the given kind.
func TagForKind(kind int) (string, bool) {
	t, ok := tagByKind[kind]
	return t, ok
}

// Record is implemented by every one of the seven record types.
type Record interface {
	Tag() string
}

// Release is a content pointer: a name, a category, and a CID into the
// external content-addressed store.
type Release struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CategoryID   string `json:"categoryId"`
	ContentCID   string `json:"contentCid"`
	ThumbnailCID string `json:"thumbnailCid,omitempty"`
	Metadata     string `json:"metadata,omitempty"`
	PostedBy     string `json:"postedBy"`
	SiteAddress  string `json:"siteAddress"`
}

func (Release) Tag() string { return TagRelease }

// FeaturedRelease promotes a Release for a bounded time window. The
// reference to ReleaseID is advisory only — spec invariant: a
// FeaturedRelease whose Release is not locally present is permitted and
// simply inert.
type FeaturedRelease struct {
	ID          string `json:"id"`
	ReleaseID   string `json:"releaseId"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Promoted    bool   `json:"promoted"`
	PostedBy    string `json:"postedBy"`
	SiteAddress string `json:"siteAddress"`
}

func (FeaturedRelease) Tag() string { return TagFeaturedRelease }

// ContentCategory is deduped per site by deterministic ID (see ids.go).
type ContentCategory struct {
	ID             string `json:"id"`
	CategoryID     string `json:"categoryId"`
	DisplayName    string `json:"displayName"`
	Featured       bool   `json:"featured"`
	Description    string `json:"description,omitempty"`
	MetadataSchema string `json:"metadataSchema,omitempty"`
	PostedBy       string `json:"postedBy"`
	SiteAddress    string `json:"siteAddress"`
}

func (ContentCategory) Tag() string { return TagContentCategory }

// BlockedContent revokes a CID admin-side.
type BlockedContent struct {
	ID          string `json:"id"`
	ContentCID  string `json:"contentCid"`
	PostedBy    string `json:"postedBy"`
	SiteAddress string `json:"siteAddress"`
}

func (BlockedContent) Tag() string { return TagBlockedContent }

// Subscription records that the subscribing site (SiteAddress, always
// self) wants to federate with a remote site (To).
type Subscription struct {
	ID          string `json:"id"`
	To          string `json:"to"`
	Name        string `json:"name,omitempty"`
	Recursive   bool   `json:"recursive,omitempty"` // inert hint; see DESIGN.md Open Question 1
	PostedBy    string `json:"postedBy"`
	SiteAddress string `json:"siteAddress"`
}

func (Subscription) Tag() string { return TagSubscription }

// Member is keyed by the public key itself.
type Member struct {
	PublicKey string `json:"publicKey"`
}

func (Member) Tag() string { return TagMember }

// Administrator is keyed by the public key itself.
type Administrator struct {
	PublicKey string `json:"publicKey"`
}

func (Administrator) Tag() string { return TagAdministrator }

// IsFederated reports whether tag names one of the four federated
// collections (releases, featuredReleases, contentCategories, blockedContent).
func IsFederated(tag string) bool {
	for _, t := range FederatedTags {
		if t == tag {
			return true
		}
	}
	return false
}

// KeyFieldFor returns the field name used as a record's natural key for
// collections whose documents are keyed by something other than an
// opaque ID (members/administrators are keyed by public key).
func KeyFieldFor(tag string) string {
	switch tag {
	case TagMember, TagAdministrator:
		return "publicKey"
	default:
		return "id"
	}
}

// ErrUnknownTag is returned by UnmarshalByTag for an unrecognised tag.
type ErrUnknownTag struct{ Tag string }

func (e ErrUnknownTag) Error() string { return fmt.Sprintf("schema: unknown record tag %q", e.Tag) }
