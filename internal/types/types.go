// Package types provides domain models shared across the analytics pipeline.
//
// Events and property mutations are the two kinds of items a host records.
// Both carry an identity snapshot taken at record time, and both travel to
// the collector inside a Batch produced by a single flush cycle.
//
// Values are a closed variant (string, number, string set). Anything else is
// rejected at the boundary by internal/values; nothing downstream re-checks.
package types

import (
	"sort"
	"time"
)

// EventID represents a UUIDv7 event identifier.
type EventID string

// SessionID represents a UUIDv7 session identifier.
type SessionID string

// BatchID represents a UUIDv7 upload batch identifier.
type BatchID string

// Limits enforced on recorded items. Every string attribute, property keys
// included, is capped at 256 bytes.
const (
	// MaxNameLength caps event names and property keys in bytes.
	MaxNameLength = 256

	// MaxStringValueLength caps string values and string-set elements in bytes.
	MaxStringValueLength = 256

	// MaxEventProperties caps the number of properties on one event.
	MaxEventProperties = 500

	// ReservedEventPrefix is the event name prefix claimed by the SDK itself.
	ReservedEventPrefix = "el"

	// ReservedPropertyPrefix namespaces SDK-managed profile properties (UTM).
	ReservedPropertyPrefix = "$"
)

// Buffer limits and their defaults.
const (
	DefaultFlushInterval      = 10 * time.Second
	DefaultMaxEventCacheCount = 50
	MaxEventCacheCeiling      = 500
	MinEventCacheCount        = 1
	DefaultSessionTimeout     = 30 * time.Second
	MinFlushInterval          = time.Second
	MinSessionTimeout         = time.Second
)

// Identity is the principal an item is attributed to.
// UserID, when set, is authoritative; AnonymousID is only consulted otherwise.
type Identity struct {
	UserID      string
	AnonymousID string
}

// Principal returns the authoritative identifier, preferring UserID.
func (i Identity) Principal() string {
	if i.UserID != "" {
		return i.UserID
	}
	return i.AnonymousID
}

// IsZero reports whether no identifier is set.
func (i Identity) IsZero() bool {
	return i.UserID == "" && i.AnonymousID == ""
}

// Contacts maps a contact type (email, phone, ...) to its value.
type Contacts map[string]string

// Clone returns an independent copy.
func (c Contacts) Clone() Contacts {
	if c == nil {
		return nil
	}
	out := make(Contacts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindInvalid ValueKind = iota
	KindString
	KindNumber
	KindStringSet
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindStringSet:
		return "string_set"
	default:
		return "invalid"
	}
}

// Value is a property value: a string, a number, or a set of strings.
// Set elements are kept sorted and unique.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Set  []string
}

// StringValue wraps s.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// NumberValue wraps n.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// SetValue builds a string set, sorting and deduplicating elems.
func SetValue(elems ...string) Value {
	seen := make(map[string]struct{}, len(elems))
	set := make([]string, 0, len(elems))
	for _, e := range elems {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		set = append(set, e)
	}
	sort.Strings(set)
	return Value{Kind: KindStringSet, Set: set}
}

// Interface returns the value as string, float64 or []string.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindStringSet:
		return append([]string(nil), v.Set...)
	default:
		return nil
	}
}

// Equal reports whether two values hold the same variant and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindStringSet:
		if len(v.Set) != len(o.Set) {
			return false
		}
		for i := range v.Set {
			if v.Set[i] != o.Set[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Properties are the validated attributes of an event.
type Properties map[string]Value

// Device carries platform signals admitted by the collection policy.
// Empty fields were either not collected or not available.
type Device struct {
	IDFA    string
	IDFV    string
	Carrier string
}

// Event is a recorded occurrence. Immutable once appended to the buffer.
type Event struct {
	ID         EventID
	Name       string
	Properties Properties
	Timestamp  time.Time
	SessionID  SessionID
	Identity   Identity
	Device     Device
}

// Op is a property mutation operation.
type Op int

const (
	OpSet Op = iota + 1
	OpIncrease
	OpAppend
	OpRemove
	OpDeleteAll
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpIncrease:
		return "increase"
	case OpAppend:
		return "append"
	case OpRemove:
		return "remove"
	case OpDeleteAll:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseOp is the inverse of Op.String.
func ParseOp(s string) (Op, bool) {
	switch s {
	case "set":
		return OpSet, true
	case "increase":
		return OpIncrease, true
	case "append":
		return OpAppend, true
	case "remove":
		return OpRemove, true
	case "delete":
		return OpDeleteAll, true
	default:
		return 0, false
	}
}

// Mutation is a pending change to the remote user profile.
// Value is unused for OpDeleteAll.
type Mutation struct {
	Key      string
	Op       Op
	Value    Value
	Identity Identity
}

// Tombstone marks a profile key deleted for the identity within one batch.
type Tombstone struct {
	Key      string
	Identity Identity
}

// Batch is one atomic snapshot of buffered items handed to the uploader.
// Tombstones apply before Mutations when the collector folds a batch.
type Batch struct {
	ID         BatchID
	SessionID  SessionID
	Events     []Event
	Mutations  []Mutation
	Tombstones []Tombstone
	Identity   Identity
	Contacts   Contacts
	EUID       string
	CreatedAt  time.Time
}

// IsEmpty reports whether the batch carries no items.
func (b *Batch) IsEmpty() bool {
	return len(b.Events) == 0 && len(b.Mutations) == 0 && len(b.Tombstones) == 0
}
