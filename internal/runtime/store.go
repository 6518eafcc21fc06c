// Package runtime provides a local, storage-backed implementation of the
// Document Runtime collaborator that spec.md treats as external (§2 item
// 1, §6): typed document collections with change events, an append-only
// per-collection log with idempotent join and head snapshotting, and an
// in-process pubsub bus. It is grounded on the teacher's own storage and
// relay code (internal/db/db.go, internal/nostr/relay.go), generalized
// from "one SQLite file behind a Nostr bridge" to "one storage backend
// behind N named document collections".
package runtime

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store is the shared storage handle behind every Collection a Site
// Program opens. One Store backs all seven collections, distinguished by
// the `collection` column — the same low-ceremony single-database
// approach the teacher's internal/db/db.go takes.
type Store struct {
	db     *sql.DB
	driver string

	mu sync.Mutex // serializes writers so change-event ordering is exact (spec.md §5)
}

// Open opens a database connection. The URL can be a bare file path
// (SQLite), "sqlite://path", or "postgres://...".
func Open(databaseURL string) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if driver == "sqlite" {
		const sqliteMaxConns = 4
		db.SetMaxOpenConns(sqliteMaxConns)
		db.SetMaxIdleConns(sqliteMaxConns)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
			}
		}
		slog.Info("sqlite document store opened", "max_conns", sqliteMaxConns)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS log_entries (
		collection   TEXT NOT NULL,
		hash         TEXT NOT NULL,
		kind         INTEGER NOT NULL,
		pubkey       TEXT NOT NULL,
		doc_id       TEXT NOT NULL,
		site_address TEXT NOT NULL,
		created_at   INTEGER NOT NULL,
		is_delete    INTEGER NOT NULL DEFAULT 0,
		raw          TEXT NOT NULL,
		PRIMARY KEY (collection, hash)
	)`,
	`CREATE INDEX IF NOT EXISTS log_entries_doc ON log_entries(collection, doc_id)`,
	`CREATE TABLE IF NOT EXISTS documents (
		collection   TEXT NOT NULL,
		doc_id       TEXT NOT NULL,
		tag          TEXT NOT NULL,
		site_address TEXT NOT NULL,
		head_hash    TEXT NOT NULL,
		created_at   INTEGER NOT NULL,
		data         TEXT NOT NULL,
		fields       TEXT NOT NULL,
		PRIMARY KEY (collection, doc_id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_site ON documents(collection, site_address)`,
	`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		ts     TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_ts ON audit_log(ts)`,
}

func (s *Store) migrate() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if s.driver == "postgres" && strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ph returns the i-th (1-based) SQL placeholder token for this driver.
func (s *Store) ph(i int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// ─── Key-value store (federation cursors, last-resync metadata, etc.) ────────

func (s *Store) SetKV(key, value string) error {
	var q string
	if s.driver == "sqlite" {
		q = `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`
	} else {
		q = `INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value`
	}
	_, err := s.db.Exec(q, key, value)
	return err
}

func (s *Store) GetKV(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = `+s.ph(1), key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// WriteAuditLog appends a best-effort audit entry. Caller should log but
// never propagate the error (matches teacher's db.WriteAuditLog).
func (s *Store) WriteAuditLog(ts, action, detail string) error {
	var q string
	if s.driver == "sqlite" {
		q = `INSERT INTO audit_log (ts, action, detail) VALUES (?, ?, ?)`
	} else {
		q = `INSERT INTO audit_log (ts, action, detail) VALUES ($1, $2, $3)`
	}
	_, err := s.db.Exec(q, ts, action, detail)
	return err
}

// Stats returns the document count per collection tag for the given
// site address, adapted from the teacher's db.Stats() aggregate (there:
// per-actor follower/following/note counts; here: per-collection
// document counts for one site).
func (s *Store) Stats(siteAddress string) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT tag, COUNT(*) FROM documents WHERE collection LIKE `+s.ph(1)+` GROUP BY tag`,
		siteAddress+":%",
	)
	if err != nil {
		return nil, fmt.Errorf("stats query: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var tag string
		var count int
		if err := rows.Scan(&tag, &count); err != nil {
			return nil, fmt.Errorf("stats scan: %w", err)
		}
		out[tag] = count
	}
	return out, rows.Err()
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}
