package buffer

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

func event(name string) types.Event {
	return types.Event{ID: types.NewEventID(), Name: name}
}

func TestClampCapacity(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 1},
		{-5, 1},
		{1, 1},
		{50, 50},
		{500, 500},
		{1000, 500},
	}
	for _, tt := range tests {
		if got := ClampCapacity(tt.in); got != tt.want {
			t.Errorf("ClampCapacity(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAppendSignalsAtCapacity(t *testing.T) {
	b := New(3)
	if b.Append(event("a"), nil) || b.Append(event("b"), nil) {
		t.Fatal("signaled before capacity")
	}
	if !b.Append(event("c"), nil) {
		t.Fatal("no signal at capacity")
	}
	// Advisory only: appends past capacity still land.
	if !b.Append(event("d"), nil) {
		t.Fatal("no signal above capacity")
	}
	if b.Len() != 4 {
		t.Fatalf("Len = %d, want 4", b.Len())
	}
}

func TestDrainEmpties(t *testing.T) {
	b := New(10)
	b.Append(event("a"), nil)
	b.Append(event("b"), nil)

	got := b.Drain()
	if len(got) != 2 || got[0].Event.Name != "a" || got[1].Event.Name != "b" {
		t.Fatalf("Drain = %+v", got)
	}
	if b.Len() != 0 || len(b.Drain()) != 0 {
		t.Fatal("buffer not empty after drain")
	}
}

func TestSetCapacityKeepsBufferedEvents(t *testing.T) {
	b := New(10)
	for i := 0; i < 5; i++ {
		b.Append(event(fmt.Sprintf("e%d", i)), nil)
	}
	capacity, full := b.SetCapacity(3)
	if capacity != 3 || !full {
		t.Fatalf("SetCapacity(3) = %d, %v", capacity, full)
	}
	if b.Len() != 5 {
		t.Fatalf("Len = %d after shrinking capacity, want 5", b.Len())
	}
	if capacity, _ := b.SetCapacity(1000); capacity != types.MaxEventCacheCeiling {
		t.Fatalf("SetCapacity(1000) = %d", capacity)
	}
}

func TestDrainPreservesOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("drain returns events in append order", prop.ForAll(
		func(names []string, capacity int) bool {
			b := New(capacity)
			for _, n := range names {
				b.Append(types.Event{Name: n}, nil)
			}
			got := b.Drain()
			if len(got) != len(names) {
				return false
			}
			for i := range names {
				if got[i].Event.Name != names[i] {
					return false
				}
			}
			return b.Len() == 0
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(-10, 1000),
	))

	properties.TestingRun(t)
}
