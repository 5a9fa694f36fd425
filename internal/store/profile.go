package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DevEngageLab/mtpush-sdk/internal/core/db"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// ErrEventExists indicates an event ID already stored. Clients retry whole
// batches, so the collector treats it as success.
var ErrEventExists = errors.New("event already stored")

// ProfileStore folds uploaded batches into the collector database.
type ProfileStore struct {
	queries *db.Queries
	now     func() time.Time
}

// NewProfileStore wraps queries.
func NewProfileStore(queries *db.Queries) *ProfileStore {
	return &ProfileStore{queries: queries, now: time.Now}
}

// Profile is the stored header state of one principal.
type Profile struct {
	UserID      string
	AnonymousID string
	EUID        string
	Contacts    types.Contacts
}

// StoredEvent is an event row as read back from the collector database.
type StoredEvent struct {
	ID         types.EventID
	BatchID    types.BatchID
	SessionID  types.SessionID
	Name       string
	Principal  string
	Properties types.Properties
}

// principal attributes an item; devices that never identified fall back to
// the EUID.
func principal(id types.Identity, euid string) string {
	if p := id.Principal(); p != "" {
		return p
	}
	return euid
}

// SaveEvent stores one event of batch b. Returns ErrEventExists for a
// duplicate ID.
func (s *ProfileStore) SaveEvent(appID string, b *types.Batch, e types.Event) error {
	props, err := encodeProperties(e.Properties)
	if err != nil {
		return err
	}
	res, err := s.queries.Exec("insert-event",
		string(e.ID), appID, string(b.ID), string(e.SessionID), e.Name,
		principal(e.Identity, b.EUID), props,
		timestamp(s.queries, e.Timestamp), timestamp(s.queries, s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEventExists
	}
	return nil
}

// SaveHeader upserts the batch identity, EUID and contacts as the
// principal's profile. A batch with neither identity nor EUID is skipped.
func (s *ProfileStore) SaveHeader(appID string, b *types.Batch) error {
	p := principal(b.Identity, b.EUID)
	if p == "" {
		return nil
	}
	contacts := b.Contacts
	if contacts == nil {
		contacts = types.Contacts{}
	}
	raw, err := json.Marshal(contacts)
	if err != nil {
		return err
	}
	_, err = s.queries.Exec("upsert-profile",
		appID, p, b.Identity.UserID, b.Identity.AnonymousID, b.EUID, string(raw),
		timestamp(s.queries, s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// ApplyResult counts what a batch did to stored properties.
type ApplyResult struct {
	Applied int
	Deleted int
	// Ignored counts mutations whose op does not fit the stored value,
	// such as an increase of a string property.
	Ignored int
}

// Apply folds the batch's tombstones and then its mutations into the
// profile properties, in one transaction.
func (s *ProfileStore) Apply(appID string, b *types.Batch) (ApplyResult, error) {
	var result ApplyResult
	now := s.now()
	err := s.queries.InTx(func(tx *db.Queries) error {
		result = ApplyResult{}
		for _, t := range b.Tombstones {
			if _, err := tx.Exec("delete-profile-property", appID, principal(t.Identity, b.EUID), t.Key); err != nil {
				return fmt.Errorf("failed to delete property %s: %w", t.Key, err)
			}
			result.Deleted++
		}
		for _, m := range b.Mutations {
			applied, err := applyMutation(tx, appID, principal(m.Identity, b.EUID), m, now)
			if err != nil {
				return fmt.Errorf("failed to apply %s %s: %w", m.Op, m.Key, err)
			}
			switch {
			case !applied:
				result.Ignored++
			case m.Op == types.OpDeleteAll:
				result.Deleted++
			default:
				result.Applied++
			}
		}
		return nil
	})
	return result, err
}

func applyMutation(tx *db.Queries, appID, p string, m types.Mutation, now time.Time) (bool, error) {
	if m.Op == types.OpDeleteAll {
		_, err := tx.Exec("delete-profile-property", appID, p, m.Key)
		return err == nil, err
	}

	current, exists, err := getProperty(tx, appID, p, m.Key)
	if err != nil {
		return false, err
	}
	next, ok := fold(current, exists, m)
	if !ok {
		return false, nil
	}
	raw, err := encodeValue(next)
	if err != nil {
		return false, err
	}
	_, err = tx.Exec("put-profile-property", appID, p, m.Key, next.Kind.String(), raw, timestamp(tx, now))
	return err == nil, err
}

// fold computes the stored value after m. ok is false when m does not
// apply to the current value.
func fold(current types.Value, exists bool, m types.Mutation) (types.Value, bool) {
	switch m.Op {
	case types.OpSet:
		return m.Value, true
	case types.OpIncrease:
		if !exists {
			return m.Value, true
		}
		if current.Kind != types.KindNumber {
			return types.Value{}, false
		}
		return types.NumberValue(current.Num + m.Value.Num), true
	case types.OpAppend:
		if !exists {
			return m.Value, true
		}
		if current.Kind != types.KindStringSet {
			return types.Value{}, false
		}
		return types.SetValue(append(append([]string(nil), current.Set...), m.Value.Set...)...), true
	case types.OpRemove:
		if !exists || current.Kind != types.KindStringSet {
			return types.Value{}, false
		}
		drop := make(map[string]struct{}, len(m.Value.Set))
		for _, e := range m.Value.Set {
			drop[e] = struct{}{}
		}
		var kept []string
		for _, e := range current.Set {
			if _, ok := drop[e]; !ok {
				kept = append(kept, e)
			}
		}
		return types.SetValue(kept...), true
	default:
		return types.Value{}, false
	}
}

func getProperty(q *db.Queries, appID, p, key string) (types.Value, bool, error) {
	var row struct {
		Kind  string `db:"kind"`
		Value string `db:"prop_value"`
	}
	err := q.Get("get-profile-property", &row, appID, p, key)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Value{}, false, nil
	}
	if err != nil {
		return types.Value{}, false, err
	}
	v, err := decodeValue(row.Kind, row.Value)
	if err != nil {
		return types.Value{}, false, err
	}
	return v, true, nil
}

// Profile returns the stored header for principal.
func (s *ProfileStore) Profile(appID, principal string) (Profile, bool, error) {
	var row struct {
		UserID      string `db:"user_id"`
		AnonymousID string `db:"anonymous_id"`
		EUID        string `db:"euid"`
		Contacts    string `db:"contacts"`
	}
	err := s.queries.Get("get-profile", &row, appID, principal)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("failed to get profile: %w", err)
	}
	p := Profile{UserID: row.UserID, AnonymousID: row.AnonymousID, EUID: row.EUID}
	if err := json.Unmarshal([]byte(row.Contacts), &p.Contacts); err != nil {
		return Profile{}, false, fmt.Errorf("corrupt contacts: %w", err)
	}
	return p, true, nil
}

// Properties returns every stored property of principal.
func (s *ProfileStore) Properties(appID, principal string) (types.Properties, error) {
	var rows []struct {
		Key   string `db:"prop_key"`
		Kind  string `db:"kind"`
		Value string `db:"prop_value"`
	}
	if err := s.queries.Select("list-profile-properties", &rows, appID, principal); err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	props := make(types.Properties, len(rows))
	for _, r := range rows {
		v, err := decodeValue(r.Kind, r.Value)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", r.Key, err)
		}
		props[r.Key] = v
	}
	return props, nil
}

// SessionEvents returns the events stored for session in client time order.
func (s *ProfileStore) SessionEvents(appID string, session types.SessionID) ([]StoredEvent, error) {
	var rows []struct {
		ID         string `db:"event_id"`
		BatchID    string `db:"batch_id"`
		SessionID  string `db:"session_id"`
		Name       string `db:"name"`
		Principal  string `db:"principal"`
		Properties string `db:"properties"`
	}
	if err := s.queries.Select("list-session-events", &rows, appID, string(session)); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	events := make([]StoredEvent, 0, len(rows))
	for _, r := range rows {
		props, err := decodeProperties(r.Properties)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", r.ID, err)
		}
		events = append(events, StoredEvent{
			ID:         types.EventID(r.ID),
			BatchID:    types.BatchID(r.BatchID),
			SessionID:  types.SessionID(r.SessionID),
			Name:       r.Name,
			Principal:  r.Principal,
			Properties: props,
		})
	}
	return events, nil
}
