package sdk

import (
	"fmt"
	"sort"

	"github.com/DevEngageLab/mtpush-sdk/internal/types"
	"github.com/DevEngageLab/mtpush-sdk/internal/values"
)

// mutationFunc builds one mutation from a caller key and value.
type mutationFunc func(key string, value any) (types.Mutation, error)

func setMutation(key string, value any) (types.Mutation, error) {
	v, err := values.Coerce(value)
	if err != nil {
		return types.Mutation{}, err
	}
	return types.Mutation{Key: key, Op: types.OpSet, Value: v}, nil
}

func increaseMutation(key string, value any) (types.Mutation, error) {
	n, err := values.CoerceNumber(value)
	if err != nil {
		return types.Mutation{}, err
	}
	return types.Mutation{Key: key, Op: types.OpIncrease, Value: types.NumberValue(n)}, nil
}

func setOp(op types.Op) mutationFunc {
	return func(key string, value any) (types.Mutation, error) {
		elems, err := values.CoerceStringSet(value)
		if err != nil {
			return types.Mutation{}, err
		}
		return types.Mutation{Key: key, Op: op, Value: types.SetValue(elems...)}, nil
	}
}

func utmMutation(key string, value any) (types.Mutation, error) {
	reserved, err := values.UTMKey(key)
	if err != nil {
		return types.Mutation{}, err
	}
	return setMutation(reserved, value)
}

// enqueue queues one mutation per key under a single completion, in key
// order. The completion fires once every part has resolved, with the
// first failure code.
func (s *Service) enqueue(props map[string]any, fn Completion, build mutationFunc) {
	p := s.running()
	if p == nil {
		s.notStarted(fn)
		return
	}
	if len(props) == 0 {
		s.dispatch.Notify(fn, CodeOK, "")
		return
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tok := s.dispatch.NewToken(fn, len(keys))
	for _, k := range keys {
		m, err := build(k, props[k])
		if err != nil {
			tok.Resolve(CodeInvalidArgument, fmt.Sprintf("property %q: %v", k, err))
			continue
		}
		_ = p.Enqueue(m, tok)
	}
}

// SetProperty sets one profile property. value is a string, a number or a
// collection of strings.
func (s *Service) SetProperty(key string, value any, fn Completion) {
	s.enqueue(map[string]any{key: value}, fn, setMutation)
}

// SetProperties sets several profile properties.
func (s *Service) SetProperties(props map[string]any, fn Completion) {
	s.enqueue(props, fn, setMutation)
}

// IncreaseProperty adds amount to a numeric property.
func (s *Service) IncreaseProperty(key string, amount any, fn Completion) {
	s.enqueue(map[string]any{key: amount}, fn, increaseMutation)
}

// IncreaseProperties adds to several numeric properties.
func (s *Service) IncreaseProperties(amounts map[string]any, fn Completion) {
	s.enqueue(amounts, fn, increaseMutation)
}

// AddProperty adds elements to a string-set property.
func (s *Service) AddProperty(key string, elems any, fn Completion) {
	s.enqueue(map[string]any{key: elems}, fn, setOp(types.OpAppend))
}

// AddProperties adds elements to several string-set properties.
func (s *Service) AddProperties(props map[string]any, fn Completion) {
	s.enqueue(props, fn, setOp(types.OpAppend))
}

// RemoveProperty removes elements from a string-set property.
func (s *Service) RemoveProperty(key string, elems any, fn Completion) {
	s.enqueue(map[string]any{key: elems}, fn, setOp(types.OpRemove))
}

// DeleteProperty deletes a property.
func (s *Service) DeleteProperty(key string, fn Completion) {
	s.enqueue(map[string]any{key: nil}, fn, func(key string, _ any) (types.Mutation, error) {
		return types.Mutation{Key: key, Op: types.OpDeleteAll}, nil
	})
}

// SetUtmProperties sets campaign attributes. Only the preset utm_* keys
// are accepted; each is stored under the reserved $utm_ namespace.
func (s *Service) SetUtmProperties(utm map[string]string, fn Completion) {
	props := make(map[string]any, len(utm))
	for k, v := range utm {
		props[k] = v
	}
	s.enqueue(props, fn, utmMutation)
}
