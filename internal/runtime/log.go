package runtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/klppl/sitefed/internal/schema"
)

// Entry is one append-only log entry: a signed Nostr event carrying
// either a put (addressable NIP-33 kind) or a delete (NIP-09 tombstone).
// Wrapping entries as real Nostr events lets Log reuse go-nostr's actual
// signing/verification rather than a hand-rolled scheme, grounded on the
// teacher's internal/nostr/signer.go and internal/nostr/relay.go.
type Entry struct {
	Event *nostr.Event
}

// Hash is the entry's stable content-addressed identifier.
func (e Entry) Hash() string { return e.Event.ID }

// IsDelete reports whether this entry tombstones a prior record.
func (e Entry) IsDelete() bool { return e.Event.Kind == schema.DeleteKind }

// DocID is the NIP-33 "d" tag value identifying which document this
// entry puts or deletes.
func (e Entry) DocID() string {
	if d := e.Event.Tags.GetFirst([]string{"d"}); d != nil {
		return (*d)[1]
	}
	return ""
}

// EncodeEntry serializes an entry to its wire bytes for a FederationUpdate.
func EncodeEntry(e Entry) ([]byte, error) {
	return json.Marshal(e.Event)
}

// DecodeEntry deserializes a FederationUpdate's raw entry bytes back into
// an Entry, ready to Join. The receiver's only obligation per spec.md §6
// is that Join is idempotent and that the entry's signature verifies;
// Log.apply rejects any entry whose signature does not verify, and the
// siteAddress origin check is made by the callers that join remote
// entries (internal/federation, internal/facade).
func DecodeEntry(raw []byte) (*Entry, error) {
	var ev nostr.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &Entry{Event: &ev}, nil
}

// Log is the append-only, per-collection replicated log backing one
// Collection. Two writers converge on it: local Put calls and remote
// Federation Manager Join calls; both route through apply so that
// idempotence (spec.md Testable Property 3 — re-applying the same entry
// is a no-op) holds regardless of origin.
type Log struct {
	store      *Store
	collection string
	tag        string
}

func newLog(store *Store, collection, tag string) *Log {
	return &Log{store: store, collection: collection, tag: tag}
}

// Get returns every entry in the log, oldest first.
func (l *Log) Get() ([]Entry, error) {
	rows, err := l.store.db.Query(
		`SELECT raw FROM log_entries WHERE collection = `+l.store.ph(1)+` ORDER BY created_at ASC`,
		l.collection,
	)
	if err != nil {
		return nil, fmt.Errorf("log get: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("log get scan: %w", err)
		}
		var ev nostr.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("log get decode: %w", err)
		}
		entries = append(entries, Entry{Event: &ev})
	}
	return entries, rows.Err()
}

// Heads returns the latest known entry per document id in the log. This
// implementation keeps no parent-hash chain, so "heads" is simplified to
// "most recent entry per doc id" — sufficient to seed a historical-sync
// snapshot or resume a pull-historical cursor. created_at has one-second
// resolution, so when several entries of a doc share the latest second
// the one the documents table holds as head (or the tombstone, for a
// deleted doc) is returned; exactly one entry per doc id comes back.
func (l *Log) Heads() ([]Entry, error) {
	rows, err := l.store.db.Query(
		`SELECT le.raw, le.doc_id FROM log_entries le
		 INNER JOIN (
		   SELECT doc_id, MAX(created_at) AS max_created
		   FROM log_entries WHERE collection = `+l.store.ph(1)+`
		   GROUP BY doc_id
		 ) latest ON le.doc_id = latest.doc_id AND le.created_at = latest.max_created
		 LEFT JOIN documents d ON d.collection = le.collection AND d.doc_id = le.doc_id
		 WHERE le.collection = `+l.store.ph(2)+`
		 ORDER BY le.doc_id, CASE WHEN le.hash = d.head_hash THEN 0
		   WHEN d.doc_id IS NULL AND le.is_delete = 1 THEN 0 ELSE 1 END`,
		l.collection, l.collection,
	)
	if err != nil {
		return nil, fmt.Errorf("log heads: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	lastDocID := ""
	for rows.Next() {
		var raw, docID string
		if err := rows.Scan(&raw, &docID); err != nil {
			return nil, fmt.Errorf("log heads scan: %w", err)
		}
		if len(entries) > 0 && docID == lastDocID {
			continue
		}
		lastDocID = docID
		var ev nostr.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("log heads decode: %w", err)
		}
		entries = append(entries, Entry{Event: &ev})
	}
	return entries, rows.Err()
}

// Join applies a remote entry to the log. The Federation Manager joins
// through Collection.Join (collection.go), which calls apply directly and
// adds the change notification; Put is the local-write entry point. All
// of them converge on apply.
func (l *Log) Join(e Entry) (applied bool, err error) {
	return l.apply(e)
}

// apply inserts e if its hash hasn't been seen before, then materializes
// the document-level effect (upsert or tombstone) in the documents table.
// Re-applying an already-seen hash is a no-op and reports applied=false,
// which is what makes Put and Join both idempotent.
func (l *Log) apply(e Entry) (applied bool, err error) {
	if good, err := e.Event.CheckSignature(); err != nil || !good {
		return false, fmt.Errorf("log apply: entry %s has no valid signature", e.Hash())
	}

	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	raw, err := json.Marshal(e.Event)
	if err != nil {
		return false, fmt.Errorf("log apply marshal: %w", err)
	}

	tx, err := l.store.db.Begin()
	if err != nil {
		return false, fmt.Errorf("log apply begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(
		`SELECT 1 FROM log_entries WHERE collection = `+l.store.ph(1)+` AND hash = `+l.store.ph(2),
		l.collection, e.Hash(),
	).Scan(&exists)
	if err == nil {
		return false, nil // already seen; idempotent no-op
	}

	docID := e.DocID()
	siteAddr := ""
	if d := e.Event.Tags.GetFirst([]string{"site"}); d != nil {
		siteAddr = (*d)[1]
	}

	insertEntry := fmt.Sprintf(
		`INSERT INTO log_entries (collection, hash, kind, pubkey, doc_id, site_address, created_at, is_delete, raw)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		l.store.ph(1), l.store.ph(2), l.store.ph(3), l.store.ph(4),
		l.store.ph(5), l.store.ph(6), l.store.ph(7), l.store.ph(8), l.store.ph(9),
	)
	isDelete := 0
	if e.IsDelete() {
		isDelete = 1
	}
	if _, err := tx.Exec(insertEntry,
		l.collection, e.Hash(), e.Event.Kind, e.Event.PubKey, docID, siteAddr,
		e.Event.CreatedAt.Time().Unix(), isDelete, string(raw),
	); err != nil {
		return false, fmt.Errorf("log apply insert: %w", err)
	}

	if e.IsDelete() {
		if _, err := tx.Exec(
			`DELETE FROM documents WHERE collection = `+l.store.ph(1)+` AND doc_id = `+l.store.ph(2),
			l.collection, docID,
		); err != nil {
			return false, fmt.Errorf("log apply tombstone: %w", err)
		}
	} else {
		rec, err := schema.UnmarshalByTag(l.tag, []byte(e.Event.Content))
		if err != nil {
			return false, fmt.Errorf("log apply decode record: %w", err)
		}
		fields := schema.IndexFields(rec)
		fieldsJSON, err := json.Marshal(fields)
		if err != nil {
			return false, fmt.Errorf("log apply marshal fields: %w", err)
		}
		upsert := upsertDocumentSQL(l.store.driver)
		if _, err := tx.Exec(upsert,
			l.collection, docID, l.tag, siteAddr, e.Hash(),
			e.Event.CreatedAt.Time().Unix(), e.Event.Content, string(fieldsJSON),
		); err != nil {
			return false, fmt.Errorf("log apply upsert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("log apply commit: %w", err)
	}
	return true, nil
}

func upsertDocumentSQL(driver string) string {
	if driver == "postgres" {
		return `INSERT INTO documents (collection, doc_id, tag, site_address, head_hash, created_at, data, fields)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (collection, doc_id) DO UPDATE SET
				tag = EXCLUDED.tag, site_address = EXCLUDED.site_address,
				head_hash = EXCLUDED.head_hash, created_at = EXCLUDED.created_at,
				data = EXCLUDED.data, fields = EXCLUDED.fields`
	}
	return `INSERT INTO documents (collection, doc_id, tag, site_address, head_hash, created_at, data, fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, doc_id) DO UPDATE SET
			tag = excluded.tag, site_address = excluded.site_address,
			head_hash = excluded.head_hash, created_at = excluded.created_at,
			data = excluded.data, fields = excluded.fields`
}

// BuildPutEvent constructs (but does not sign) a NIP-33 addressable event
// carrying a put of rec, authored by signer's public key and tagged with
// the originating site's address so remote subscribers can index it.
func BuildPutEvent(tag, docID, siteAddress string, rec schema.Record, signerPubKey string) (*nostr.Event, error) {
	kind, ok := schema.KindForTag(tag)
	if !ok {
		return nil, schema.ErrUnknownTag{Tag: tag}
	}
	content, err := schema.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("build put event: %w", err)
	}
	return &nostr.Event{
		PubKey:    signerPubKey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      kind,
		Tags:      nostr.Tags{{"d", docID}, {"site", siteAddress}},
		Content:   string(content),
	}, nil
}

// BuildDeleteEvent constructs (but does not sign) a kind=5 tombstone for
// docID within the given tag's addressable kind range.
func BuildDeleteEvent(tag, docID, siteAddress string, signerPubKey string) (*nostr.Event, error) {
	kind, ok := schema.KindForTag(tag)
	if !ok {
		return nil, schema.ErrUnknownTag{Tag: tag}
	}
	coordinate := fmt.Sprintf("%d:%s:%s", kind, signerPubKey, docID)
	return &nostr.Event{
		PubKey:    signerPubKey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      schema.DeleteKind,
		Tags:      nostr.Tags{{"d", docID}, {"a", coordinate}, {"site", siteAddress}},
		Content:   "",
	}, nil
}
