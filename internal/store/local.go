// Package store persists pipeline state in SQL through the named queries of
// internal/core/db.
//
// LocalStore is the client-side cache: the EUID and the last identity.
// ProfileStore is the collector-side fold of uploaded batches into events
// and per-principal profile properties.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/DevEngageLab/mtpush-sdk/internal/core/db"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// Local state keys.
const (
	keyEUID     = "euid"
	keyIdentity = "identity"
)

// LocalStore caches identity state across launches. Implements identity.Cache.
type LocalStore struct {
	conn    *sqlx.DB
	queries *db.Queries
	now     func() time.Time
}

// OpenLocal opens and migrates the cache database at dbURL.
func OpenLocal(dbURL string) (*LocalStore, error) {
	conn, queries, err := db.OpenMigrated(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open local cache: %w", err)
	}
	return &LocalStore{conn: conn, queries: queries, now: time.Now}, nil
}

// Close releases the database connection.
func (s *LocalStore) Close() error {
	return s.conn.Close()
}

// LoadEUID returns the cached EUID, or "" if none was saved yet.
func (s *LocalStore) LoadEUID() (string, error) {
	v, err := s.get(keyEUID)
	if err != nil {
		return "", fmt.Errorf("failed to load euid: %w", err)
	}
	return v, nil
}

// SaveEUID stores euid.
func (s *LocalStore) SaveEUID(euid string) error {
	return s.put(keyEUID, euid)
}

type storedIdentity struct {
	UserID      string `json:"user_id,omitempty"`
	AnonymousID string `json:"anonymous_id,omitempty"`
}

// LoadIdentity returns the last saved identity, zero if none.
func (s *LocalStore) LoadIdentity() (types.Identity, error) {
	v, err := s.get(keyIdentity)
	if err != nil || v == "" {
		return types.Identity{}, err
	}
	var id storedIdentity
	if err := json.Unmarshal([]byte(v), &id); err != nil {
		return types.Identity{}, fmt.Errorf("corrupt cached identity: %w", err)
	}
	return types.Identity{UserID: id.UserID, AnonymousID: id.AnonymousID}, nil
}

// SaveIdentity stores id.
func (s *LocalStore) SaveIdentity(id types.Identity) error {
	b, err := json.Marshal(storedIdentity{UserID: id.UserID, AnonymousID: id.AnonymousID})
	if err != nil {
		return err
	}
	return s.put(keyIdentity, string(b))
}

func (s *LocalStore) get(key string) (string, error) {
	var v string
	err := s.queries.Get("get-local-state", &v, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *LocalStore) put(key, value string) error {
	_, err := s.queries.Exec("put-local-state", key, value, timestamp(s.queries, s.now()))
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// timestamp formats t for the driver: SQLite columns hold RFC3339 text,
// PostgreSQL takes time.Time.
func timestamp(q *db.Queries, t time.Time) interface{} {
	t = t.UTC()
	if q.DriverName() == "sqlite3" {
		return t.Format(time.RFC3339Nano)
	}
	return t
}
