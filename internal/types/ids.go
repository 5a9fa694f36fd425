package types

import (
	"github.com/google/uuid"
)

// NewEventID generates a UUIDv7 event identifier.
// Time ordering lets the collector cluster inserts by arrival.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewEventID() EventID {
	return EventID(uuid.Must(uuid.NewV7()).String())
}

// NewSessionID generates a UUIDv7 session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.Must(uuid.NewV7()).String())
}

// NewBatchID generates a UUIDv7 batch identifier.
func NewBatchID() BatchID {
	return BatchID(uuid.Must(uuid.NewV7()).String())
}

// ParseEventID validates and converts a string to EventID.
func ParseEventID(s string) (EventID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return EventID(s), nil
}

// ParseSessionID validates and converts a string to SessionID.
// Empty input is allowed: batches built outside a session carry no tag.
func ParseSessionID(s string) (SessionID, error) {
	if s == "" {
		return "", nil
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return SessionID(s), nil
}
