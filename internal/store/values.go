package store

import (
	"encoding/json"
	"fmt"

	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// Stored values are JSON: a string, a number or an array of strings. The
// kind column disambiguates.

func encodeValue(v types.Value) (string, error) {
	b, err := json.Marshal(v.Interface())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeValue(kind, raw string) (types.Value, error) {
	switch kind {
	case types.KindString.String():
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return types.Value{}, err
		}
		return types.StringValue(s), nil
	case types.KindNumber.String():
		var n float64
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return types.Value{}, err
		}
		return types.NumberValue(n), nil
	case types.KindStringSet.String():
		var set []string
		if err := json.Unmarshal([]byte(raw), &set); err != nil {
			return types.Value{}, err
		}
		return types.SetValue(set...), nil
	default:
		return types.Value{}, fmt.Errorf("unknown value kind %q", kind)
	}
}

type storedValue struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func encodeProperties(props types.Properties) (string, error) {
	out := make(map[string]storedValue, len(props))
	for k, v := range props {
		raw, err := encodeValue(v)
		if err != nil {
			return "", err
		}
		out[k] = storedValue{Kind: v.Kind.String(), Value: json.RawMessage(raw)}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeProperties(raw string) (types.Properties, error) {
	var in map[string]storedValue
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, err
	}
	props := make(types.Properties, len(in))
	for k, sv := range in {
		v, err := decodeValue(sv.Kind, string(sv.Value))
		if err != nil {
			return nil, err
		}
		props[k] = v
	}
	return props, nil
}
