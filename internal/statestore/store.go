// Package statestore is the durable key-value store shared by the foreground
// pipeline and the background agent. It is the only shared resource between
// the two producers: everything else they know about each other flows through
// these keys.
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
)

// ErrNotFound is returned when a key has never been written.
var ErrNotFound = errors.New("state key not found")

// Well-known keys. The two producers coordinate exclusively through these.
const (
	keyLifecycle     = "lifecycle"
	keyContainment   = "geofence_containment"
	keyEntryLocks    = "geofence_entry_locks"
	keyGeofenceCache = "geofence_cache"
	keyDailyDistance = "daily_distance"
	flagPrefix       = "flag:"
)

// Store is a SQLite-backed durable KV store. WAL mode plus a busy timeout
// lets the daemon and a standalone agent process share one file.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// Open opens (and if needed initializes) the store at the given path.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize state schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	pragmas := `
	PRAGMA journal_mode = WAL;
	PRAGMA busy_timeout = 5000;
	`
	if _, err := s.db.Exec(pragmas); err != nil {
		return err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithClock overrides the timestamp source for records that stamp
// themselves on write. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return trkerrors.InternalError("marshal state record", err).WithContext("key", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, data, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return trkerrors.InternalError("unmarshal state record", err).WithContext("key", key)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM state WHERE key = ?", key)
	return err
}
