package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"townclaims.dev/internal/sim/territory"
)

// SQLiteStore is the durable write-through store behind territory.Store. Town,
// contest, immunity, history and stats writes are synchronous; audit rows are
// indexed asynchronously by a writer goroutine and dropped under backpressure.
type SQLiteStore struct {
	db *sql.DB

	audits chan territory.AuditEntry
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool
}

var (
	_ territory.Store       = (*SQLiteStore)(nil)
	_ territory.AuditLogger = (*SQLiteStore)(nil)
)

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:     db,
		audits: make(chan territory.AuditEntry, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.auditLoop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS towns (
			owner TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			world TEXT NOT NULL,
			color TEXT NOT NULL,
			bonus_claims INTEGER NOT NULL,
			contested_claims_spent INTEGER NOT NULL,
			kills INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL,
			reputation INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS claims (
			cell_id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			capital INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_claims_owner ON claims(owner);`,
		`CREATE TABLE IF NOT EXISTS members (
			player TEXT PRIMARY KEY,
			owner TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_members_owner ON members(owner);`,
		`CREATE TABLE IF NOT EXISTS relations (
			owner TEXT NOT NULL,
			other TEXT NOT NULL,
			kind TEXT NOT NULL,
			PRIMARY KEY (owner, other, kind)
		);`,
		`CREATE TABLE IF NOT EXISTS contests (
			id TEXT PRIMARY KEY,
			defender TEXT NOT NULL,
			challenger TEXT NOT NULL,
			chunks_json TEXT NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			remaining_ms INTEGER NOT NULL,
			last_updated_ms INTEGER NOT NULL,
			paused INTEGER NOT NULL,
			hold_eligible INTEGER NOT NULL,
			hold_offline_allowed INTEGER NOT NULL,
			start_cost INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS immunity (
			cell_id TEXT PRIMARY KEY,
			until_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS history (
			cell_id TEXT PRIMARY KEY,
			entries_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS player_stats (
			player TEXT PRIMARY KEY,
			kills INTEGER NOT NULL,
			deaths INTEGER NOT NULL,
			claims INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			time_ms INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			town TEXT NOT NULL,
			cells INTEGER NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (time_ms, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_time ON audits(actor, time_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_town_time ON audits(town, time_ms);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			taken_ms INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			towns INTEGER NOT NULL,
			claims INTEGER NOT NULL,
			contests INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.audits)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, key, value)
	return err
}

// Meta returns ("", nil) for a missing key.
func (s *SQLiteStore) Meta(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// RecordSnapshot indexes a snapshot file written by persistence/snapshot.
func (s *SQLiteStore) RecordSnapshot(takenAt time.Time, path, digest string, towns, claims, contests int) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO snapshots(taken_ms,path,digest,towns,claims,contests) VALUES(?,?,?,?,?,?)`,
		takenAt.UnixMilli(), path, digest, towns, claims, contests)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowText() string { return time.Now().UTC().Format(time.RFC3339Nano) }
