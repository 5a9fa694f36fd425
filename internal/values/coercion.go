// internal/values/coercion.go
package values

import (
	"fmt"
	"math"

	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

/*
 * Boundary coercion of host values into the closed property variant.
 *
 * Hosts hand us `any`. Only three shapes survive:
 *   - String: string (length-capped)
 *   - Number: every Go integer and float kind, finite only
 *   - StringSet: []string, []any of strings, map[string]struct{}, map[string]bool
 *
 * Booleans are rejected, not mapped to 0/1. NaN and Inf are rejected.
 */

// Coerce converts a host value into a types.Value.
// Returns ErrUnsupportedValue for anything outside the variant and
// ErrValueTooLong for oversized strings.
func Coerce(value any) (types.Value, error) {
	switch v := value.(type) {
	case nil:
		return types.Value{}, fmt.Errorf("%w: nil", types.ErrUnsupportedValue)
	case types.Value:
		return checkValue(v)
	case string:
		if len(v) > types.MaxStringValueLength {
			return types.Value{}, types.ErrValueTooLong
		}
		return types.StringValue(v), nil
	case bool:
		return types.Value{}, fmt.Errorf("%w: bool", types.ErrUnsupportedValue)
	}

	if n, ok := numeric(value); ok {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return types.Value{}, fmt.Errorf("%w: non-finite number", types.ErrUnsupportedValue)
		}
		return types.NumberValue(n), nil
	}

	elems, err := CoerceStringSet(value)
	if err != nil {
		return types.Value{}, err
	}
	return types.SetValue(elems...), nil
}

// CoerceNumber accepts only numeric kinds; used for increase amounts.
func CoerceNumber(value any) (float64, error) {
	if v, ok := value.(types.Value); ok {
		if v.Kind != types.KindNumber {
			return 0, types.ErrNotNumeric
		}
		return v.Num, nil
	}
	n, ok := numeric(value)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, types.ErrNotNumeric
	}
	return n, nil
}

// CoerceStringSet accepts collections whose elements are all strings:
// slices or set-shaped maps.
func CoerceStringSet(value any) ([]string, error) {
	var elems []string
	switch v := value.(type) {
	case []string:
		elems = v
	case []any:
		elems = make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: set element %T", types.ErrUnsupportedValue, e)
			}
			elems = append(elems, s)
		}
	case map[string]struct{}:
		elems = make([]string, 0, len(v))
		for k := range v {
			elems = append(elems, k)
		}
	case map[string]bool:
		elems = make([]string, 0, len(v))
		for k, in := range v {
			if in {
				elems = append(elems, k)
			}
		}
	case types.Value:
		if v.Kind != types.KindStringSet {
			return nil, types.ErrUnsupportedValue
		}
		elems = v.Set
	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnsupportedValue, value)
	}

	for _, e := range elems {
		if len(e) > types.MaxStringValueLength {
			return nil, types.ErrValueTooLong
		}
	}
	return elems, nil
}

// checkValue re-validates an already tagged value.
func checkValue(v types.Value) (types.Value, error) {
	switch v.Kind {
	case types.KindString:
		if len(v.Str) > types.MaxStringValueLength {
			return types.Value{}, types.ErrValueTooLong
		}
	case types.KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return types.Value{}, fmt.Errorf("%w: non-finite number", types.ErrUnsupportedValue)
		}
	case types.KindStringSet:
		for _, e := range v.Set {
			if len(e) > types.MaxStringValueLength {
				return types.Value{}, types.ErrValueTooLong
			}
		}
	default:
		return types.Value{}, types.ErrUnsupportedValue
	}
	return v, nil
}

// numeric widens every Go number kind to float64.
func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
