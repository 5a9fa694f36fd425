// Package identity holds the current principal, the user's contact
// channels and the locally derived growth identifier (EUID).
package identity

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// Cache persists identity state across launches. Optional; without it the
// EUID and the identity live for the process only.
type Cache interface {
	LoadEUID() (string, error)
	SaveEUID(euid string) error
	LoadIdentity() (types.Identity, error)
	SaveIdentity(id types.Identity) error
}

// Store is the in-memory identity holder. Safe for concurrent use; the last
// Set to take the lock wins.
type Store struct {
	mu       sync.RWMutex
	identity types.Identity
	contacts types.Contacts
	euid     string
	cache    Cache
}

// New returns a Store. If cache is non-nil the last identity and the EUID
// are restored from it; the EUID is generated and saved on first use.
func New(cache Cache, now time.Time) (*Store, error) {
	s := &Store{cache: cache}
	if cache != nil {
		euid, err := cache.LoadEUID()
		if err != nil {
			return nil, err
		}
		s.euid = euid
		if s.identity, err = cache.LoadIdentity(); err != nil {
			return nil, err
		}
	}
	if s.euid == "" {
		s.euid = NewEUID(now)
		if cache != nil {
			if err := cache.SaveEUID(s.euid); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// NewEUID derives a growth identifier. ULIDs sort by creation time, which
// lets the collector bucket installs by first launch without a lookup.
func NewEUID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// Set replaces the identity. Both fields empty is a successful no-op; the
// returned flag reports whether anything changed. A non-empty userID
// supersedes any previously set anonymous ID.
func (s *Store) Set(userID, anonymousID string) (types.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == "" && anonymousID == "" {
		return s.identity, false
	}
	next := types.Identity{UserID: userID, AnonymousID: anonymousID}
	if userID == "" {
		// An anonymous identify keeps a logged-in user logged in.
		next.UserID = s.identity.UserID
	}
	if next == s.identity {
		return s.identity, false
	}
	s.identity = next
	if s.cache != nil {
		// Best effort: the in-memory identity is authoritative for this process.
		_ = s.cache.SaveIdentity(next)
	}
	return next, true
}

// Current returns a snapshot of the identity.
func (s *Store) Current() types.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// SetContacts replaces the contacts wholesale.
func (s *Store) SetContacts(c types.Contacts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = c.Clone()
}

// Contacts returns a copy of the current contacts.
func (s *Store) Contacts() types.Contacts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contacts.Clone()
}

// EUID returns the cached growth identifier without any I/O.
func (s *Store) EUID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.euid
}
