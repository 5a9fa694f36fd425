// Package mutation queues user-profile property changes between flushes and
// folds them into their net effect when the scheduler drains the queue.
//
// Merge runs lazily at drain time over everything enqueued since the last
// drain, grouped by (identity, key) and applied in enqueue order:
//
//	SET        replaces the pending state for the key
//	INCREASE   adds onto a pending INCREASE or a numeric SET
//	APPEND     set union; onto a pending string-set SET it folds into the SET
//	REMOVE     set difference; per element the last APPEND/REMOVE wins
//	DELETE_ALL drops pending state and tombstones the key for the batch
//
// After a DELETE_ALL the remote value is known to be absent, so a later
// INCREASE becomes SET(amount) and a later APPEND becomes SET(elements).
// Combinations with no net meaning (INCREASE after APPEND, APPEND after a
// numeric SET, ...) reject the offending mutation with ErrMergeConflict and
// leave the earlier state in place.
//
// Queue is not safe for concurrent use; the pipeline lock guards it.
package mutation

import (
	"fmt"
	"sort"

	"github.com/DevEngageLab/mtpush-sdk/internal/dispatch"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// Entry is one enqueued mutation and the token its outcome resolves.
type Entry struct {
	Mutation types.Mutation
	Token    *dispatch.Token
}

// Rejection is a mutation refused by the merge.
type Rejection struct {
	Entry
	Err error
}

// Merged is the net effect of one drain.
type Merged struct {
	Mutations  []types.Mutation
	Tombstones []types.Tombstone
	// Tokens resolve with the outcome of the batch these mutations ride in.
	Tokens   []*dispatch.Token
	Rejected []Rejection
}

// IsEmpty reports whether nothing needs uploading.
func (m Merged) IsEmpty() bool {
	return len(m.Mutations) == 0 && len(m.Tombstones) == 0
}

// Queue accumulates mutations in enqueue order.
type Queue struct {
	entries []Entry
}

// New returns an empty queue.
func New() *Queue { return &Queue{} }

// Enqueue appends a validated mutation.
func (q *Queue) Enqueue(m types.Mutation, tok *dispatch.Token) {
	q.entries = append(q.entries, Entry{Mutation: m, Token: tok})
}

// Len returns the number of raw (unmerged) entries.
func (q *Queue) Len() int { return len(q.entries) }

// Drain merges and empties the queue.
func (q *Queue) Drain() Merged {
	entries := q.entries
	q.entries = nil
	return Merge(entries)
}

type groupKey struct {
	identity types.Identity
	key      string
}

type stateKind int

const (
	stateNone stateKind = iota
	stateSet
	stateIncrease
	stateSetOps
)

// group is the folded state of one (identity, key).
type group struct {
	groupKey
	tombstoned bool
	// cleared means the remote value is known absent (after DELETE_ALL).
	cleared bool
	kind    stateKind
	value   types.Value
	amount  float64
	// elems maps element -> true for APPEND, false for REMOVE.
	elems map[string]bool
	// lastOp names the op that produced the current state, for conflict messages.
	lastOp types.Op
}

// Merge folds entries into their net effect. Exposed for the collector and
// tests; Drain is the normal entry point.
func Merge(entries []Entry) Merged {
	var (
		out    Merged
		order  []*group
		groups = make(map[groupKey]*group)
	)

	for _, e := range entries {
		m := e.Mutation
		k := groupKey{identity: m.Identity, key: m.Key}
		g, ok := groups[k]
		if !ok {
			g = &group{groupKey: k}
			groups[k] = g
			order = append(order, g)
		}
		if err := g.apply(m); err != nil {
			out.Rejected = append(out.Rejected, Rejection{Entry: e, Err: err})
			continue
		}
		if e.Token != nil {
			out.Tokens = append(out.Tokens, e.Token)
		}
	}

	for _, g := range order {
		if g.tombstoned {
			out.Tombstones = append(out.Tombstones, types.Tombstone{Key: g.key, Identity: g.identity})
		}
		out.Mutations = append(out.Mutations, g.emit()...)
	}
	return out
}

func (g *group) apply(m types.Mutation) error {
	switch m.Op {
	case types.OpDeleteAll:
		g.tombstoned = true
		g.cleared = true
		g.reset()

	case types.OpSet:
		g.reset()
		g.kind = stateSet
		g.value = m.Value

	case types.OpIncrease:
		switch g.kind {
		case stateNone:
			if g.cleared {
				g.kind = stateSet
				g.value = types.NumberValue(m.Value.Num)
			} else {
				g.kind = stateIncrease
				g.amount = m.Value.Num
			}
		case stateIncrease:
			g.amount += m.Value.Num
		case stateSet:
			if g.value.Kind != types.KindNumber {
				return g.conflict(m)
			}
			g.value = types.NumberValue(g.value.Num + m.Value.Num)
		default:
			return g.conflict(m)
		}

	case types.OpAppend, types.OpRemove:
		add := m.Op == types.OpAppend
		switch g.kind {
		case stateNone:
			if g.cleared {
				if add {
					g.kind = stateSet
					g.value = types.SetValue(m.Value.Set...)
				}
				break
			}
			g.kind = stateSetOps
			g.elems = make(map[string]bool, len(m.Value.Set))
			fallthrough
		case stateSetOps:
			for _, e := range m.Value.Set {
				g.elems[e] = add
			}
		case stateSet:
			if g.value.Kind != types.KindStringSet {
				return g.conflict(m)
			}
			g.value = foldSet(g.value, m.Value.Set, add)
		default:
			return g.conflict(m)
		}

	default:
		return fmt.Errorf("%w: op %d", types.ErrUnsupportedValue, int(m.Op))
	}

	g.lastOp = m.Op
	return nil
}

func (g *group) reset() {
	g.kind = stateNone
	g.value = types.Value{}
	g.amount = 0
	g.elems = nil
}

func (g *group) conflict(m types.Mutation) error {
	return fmt.Errorf("%w: %s after %s on %q", types.ErrMergeConflict, m.Op, g.lastOp, m.Key)
}

// emit renders the folded state as at most two mutations.
func (g *group) emit() []types.Mutation {
	base := types.Mutation{Key: g.key, Identity: g.identity}
	switch g.kind {
	case stateSet:
		base.Op = types.OpSet
		base.Value = g.value
		return []types.Mutation{base}
	case stateIncrease:
		base.Op = types.OpIncrease
		base.Value = types.NumberValue(g.amount)
		return []types.Mutation{base}
	case stateSetOps:
		var adds, removes []string
		for e, add := range g.elems {
			if add {
				adds = append(adds, e)
			} else {
				removes = append(removes, e)
			}
		}
		var out []types.Mutation
		if len(adds) > 0 {
			m := base
			m.Op = types.OpAppend
			m.Value = types.SetValue(adds...)
			out = append(out, m)
		}
		if len(removes) > 0 {
			m := base
			m.Op = types.OpRemove
			m.Value = types.SetValue(removes...)
			out = append(out, m)
		}
		return out
	default:
		return nil
	}
}

// foldSet applies union (add) or difference to a string-set value.
func foldSet(v types.Value, elems []string, add bool) types.Value {
	members := make(map[string]struct{}, len(v.Set)+len(elems))
	for _, e := range v.Set {
		members[e] = struct{}{}
	}
	for _, e := range elems {
		if add {
			members[e] = struct{}{}
		} else {
			delete(members, e)
		}
	}
	out := make([]string, 0, len(members))
	for e := range members {
		out = append(out, e)
	}
	sort.Strings(out)
	return types.Value{Kind: types.KindStringSet, Set: out}
}
