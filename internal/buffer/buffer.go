// Package buffer holds recorded events until the next flush cycle.
//
// The buffer never blocks and never drops. Capacity is advisory: Append
// reports when the buffer has reached it so the caller can request a
// flush, but appends beyond it are still accepted. The hard ceiling lives
// in SetCapacity, which clamps to [MinEventCacheCount, MaxEventCacheCeiling].
//
// Not safe for concurrent use on its own; the pipeline guards it together
// with the mutation queue under one lock so a drain sees both consistently.
package buffer

import (
	"github.com/DevEngageLab/mtpush-sdk/internal/dispatch"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// Entry pairs an event with the token resolved by its batch outcome.
type Entry struct {
	Event types.Event
	Token *dispatch.Token
}

// Buffer is a FIFO of pending events.
type Buffer struct {
	entries  []Entry
	capacity int
}

// New returns a buffer with the given capacity, clamped.
func New(capacity int) *Buffer {
	return &Buffer{capacity: ClampCapacity(capacity)}
}

// ClampCapacity bounds a configured event cache count.
func ClampCapacity(n int) int {
	if n < types.MinEventCacheCount {
		return types.MinEventCacheCount
	}
	if n > types.MaxEventCacheCeiling {
		return types.MaxEventCacheCeiling
	}
	return n
}

// Append adds e to the tail. Returns true once the buffer holds at least
// capacity entries.
func (b *Buffer) Append(e types.Event, tok *dispatch.Token) bool {
	b.entries = append(b.entries, Entry{Event: e, Token: tok})
	return len(b.entries) >= b.capacity
}

// Drain returns all entries in append order and empties the buffer.
func (b *Buffer) Drain() []Entry {
	out := b.entries
	b.entries = nil
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int { return len(b.entries) }

// Capacity returns the current flush threshold.
func (b *Buffer) Capacity() int { return b.capacity }

// SetCapacity changes the threshold for subsequent appends and returns the
// clamped value. Already buffered entries are untouched; if the buffer is
// already at or above the new threshold the return flag says so.
func (b *Buffer) SetCapacity(n int) (int, bool) {
	b.capacity = ClampCapacity(n)
	return b.capacity, len(b.entries) >= b.capacity
}
