package runtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/klppl/sitefed/internal/schema"
)

// Signer is the subset of identity.Signer that Collection needs to author
// an entry. Declared locally (rather than importing internal/identity) so
// that runtime has no dependency on the identity package's key-material
// choices — any identity.Identity already satisfies this.
type Signer interface {
	PublicKey() string
	Sign(event *nostr.Event) error
}

// ChangeKind distinguishes the two Collection change-event kinds spec.md
// §2 item 1 names: "added" and "removed".
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
)

// Change is one document-level event delivered on a Collection's Changes
// channel, carrying enough to both update a read model and decide
// federation eligibility (SiteAddress, PostedBy) without a second lookup.
type Change struct {
	Kind        ChangeKind
	Collection  string
	Tag         string
	DocID       string
	SiteAddress string
	Record      schema.Record
}

// GuardRequest is the information a Guard needs to reach a verdict on a
// candidate write, mirroring internal/policy.Write closely enough that
// site.go can build one straight from the other.
type GuardRequest struct {
	DocID        string
	IsDelete     bool
	Record       schema.Record // nil for deletes
	SignerPubKey string
}

// Guard is installed by the Access Policy (internal/policy) to veto a
// write before it reaches storage. Returning a non-nil error aborts the
// write.
type Guard func(GuardRequest) error

// Collection is the local, storage-backed implementation of the Document
// Runtime's per-type document collection (spec.md §2 item 1): put/delete,
// point lookup, predicate search, full iteration, and a change-event
// stream. One Collection is opened per record tag per Site Program.
type Collection struct {
	store *Store
	log   *Log
	name  string // storage discriminator, e.g. "siteaddr:release"
	tag   string

	mu        sync.Mutex
	listeners []chan Change
	guard     Guard
}

// Open returns the named collection, creating its storage rows lazily on
// first write. name scopes the collection to one site + one record tag
// (internal/site composes the name), mirroring the teacher's one-site
// ownership of its own tables.
func Open(store *Store, name, tag string) *Collection {
	return &Collection{
		store: store,
		log:   newLog(store, name, tag),
		name:  name,
		tag:   tag,
	}
}

// SetGuard installs (or clears, with nil) a write guard.
func (c *Collection) SetGuard(g Guard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guard = g
}

// Put signs and applies a new put entry for docID, then publishes an
// "added" Change. It is a no-op at the storage layer if an identically
// hashed entry already exists (idempotent per spec.md Testable Property 3),
// though in practice a fresh signature makes each local Put unique.
func (c *Collection) Put(docID, siteAddress string, rec schema.Record, signer Signer) error {
	c.mu.Lock()
	guard := c.guard
	c.mu.Unlock()

	if guard != nil {
		req := GuardRequest{DocID: docID, Record: rec, SignerPubKey: signer.PublicKey()}
		if err := guard(req); err != nil {
			return fmt.Errorf("collection put denied: %w", err)
		}
	}

	event, err := BuildPutEvent(c.tag, docID, siteAddress, rec, signer.PublicKey())
	if err != nil {
		return err
	}
	if err := signer.Sign(event); err != nil {
		return fmt.Errorf("collection put sign: %w", err)
	}

	applied, err := c.log.apply(Entry{Event: event})
	if err != nil {
		return err
	}
	if applied {
		c.notify(Change{Kind: ChangeAdded, Collection: c.name, Tag: c.tag, DocID: docID, SiteAddress: siteAddress, Record: rec})
	}
	return nil
}

// Delete signs and applies a tombstone for docID, then publishes a
// "removed" Change.
func (c *Collection) Delete(docID, siteAddress string, signer Signer) error {
	c.mu.Lock()
	guard := c.guard
	c.mu.Unlock()

	if guard != nil {
		req := GuardRequest{DocID: docID, IsDelete: true, SignerPubKey: signer.PublicKey()}
		if err := guard(req); err != nil {
			return fmt.Errorf("collection delete denied: %w", err)
		}
	}

	event, err := BuildDeleteEvent(c.tag, docID, siteAddress, signer.PublicKey())
	if err != nil {
		return err
	}
	if err := signer.Sign(event); err != nil {
		return fmt.Errorf("collection delete sign: %w", err)
	}

	applied, err := c.log.apply(Entry{Event: event})
	if err != nil {
		return err
	}
	if applied {
		c.notify(Change{Kind: ChangeRemoved, Collection: c.name, Tag: c.tag, DocID: docID, SiteAddress: siteAddress})
	}
	return nil
}

// Join applies a remote log entry (put or delete) without requiring a
// local Signer — the entry arrives already signed by its origin site.
// This is the Federation Manager's pull-live/pull-historical entry point.
func (c *Collection) Join(e Entry) (applied bool, err error) {
	applied, err = c.log.apply(e)
	if err != nil || !applied {
		return applied, err
	}
	if e.IsDelete() {
		c.notify(Change{Kind: ChangeRemoved, Collection: c.name, Tag: c.tag, DocID: e.DocID()})
		return true, nil
	}
	rec, err := schema.UnmarshalByTag(c.tag, []byte(e.Event.Content))
	if err != nil {
		return true, fmt.Errorf("collection join decode: %w", err)
	}
	c.notify(Change{
		Kind: ChangeAdded, Collection: c.name, Tag: c.tag, DocID: e.DocID(),
		SiteAddress: schema.SiteAddressOf(rec), Record: rec,
	})
	return true, nil
}

// Get returns a single document by id, or ok=false if absent.
func (c *Collection) Get(docID string) (rec schema.Record, ok bool, err error) {
	var data string
	err = c.store.db.QueryRow(
		`SELECT data FROM documents WHERE collection = `+c.store.ph(1)+` AND doc_id = `+c.store.ph(2),
		c.name, docID,
	).Scan(&data)
	if err != nil {
		return nil, false, nil
	}
	rec, err = schema.UnmarshalByTag(c.tag, []byte(data))
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Iterate visits every document in the collection, unordered.
func (c *Collection) Iterate(fn func(docID string, rec schema.Record) error) error {
	rows, err := c.store.db.Query(`SELECT doc_id, data FROM documents WHERE collection = `+c.store.ph(1), c.name)
	if err != nil {
		return fmt.Errorf("collection iterate: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var docID, data string
		if err := rows.Scan(&docID, &data); err != nil {
			return fmt.Errorf("collection iterate scan: %w", err)
		}
		rec, err := schema.UnmarshalByTag(c.tag, []byte(data))
		if err != nil {
			return fmt.Errorf("collection iterate decode: %w", err)
		}
		if err := fn(docID, rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Search evaluates q against every document's indexed fields and returns
// matches, applying sort and Fetch bound last. This is a full-scan
// predicate evaluator — adequate at the scale a single federation site
// operates at, and simpler to keep correct than a query planner.
func (c *Collection) Search(q schema.Query) ([]schema.Record, error) {
	type hit struct {
		rec    schema.Record
		fields map[string]string
	}
	var hits []hit

	err := c.Iterate(func(docID string, rec schema.Record) error {
		fields := schema.IndexFields(rec)
		if q.Matches(fields) {
			hits = append(hits, hit{rec: rec, fields: fields})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(hits, func(i, j int) bool {
			for _, sf := range q.Sort {
				vi, vj := hits[i].fields[sf.Field], hits[j].fields[sf.Field]
				if vi == vj {
					continue
				}
				if sf.Direction == schema.SortDescending {
					return vi > vj
				}
				return vi < vj
			}
			return false
		})
	}

	out := make([]schema.Record, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.rec)
	}
	if q.Fetch > 0 && len(out) > q.Fetch {
		out = out[:q.Fetch]
	}
	return out, nil
}

// Changes returns a channel of future Change events. Each call opens a
// new, independent listener; close that listener by calling the returned
// unsubscribe function when done. Matches the teacher's one-channel-
// per-subscriber fan-out in internal/nostr/relay.go.
func (c *Collection) Changes() (ch <-chan Change, unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	listener := make(chan Change, 64)
	c.listeners = append(c.listeners, listener)
	return listener, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l == listener {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				close(listener)
				return
			}
		}
	}
}

func (c *Collection) notify(ch Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.listeners {
		select {
		case l <- ch:
		default:
			// Slow subscriber; drop rather than block the writer, matching
			// the teacher relay's non-blocking broadcast.
		}
	}
}

// Heads exposes the log's per-document latest-entry snapshot, used by the
// Federation Manager to seed pull-historical polling cursors.
func (c *Collection) Heads() ([]Entry, error) { return c.log.Heads() }

// Log exposes the raw append-only log backing this collection.
func (c *Collection) Log() *Log { return c.log }

// Tag returns the record tag this collection holds.
func (c *Collection) Tag() string { return c.tag }

// Name returns the collection's storage-scoped name.
func (c *Collection) Name() string { return c.name }

// marshalForWire reserializes a record as raw JSON. Nothing in the module
// calls it at present; the Federation Manager ships raw log entries.
func marshalForWire(rec schema.Record) (json.RawMessage, error) {
	b, err := schema.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
