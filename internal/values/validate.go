package values

import (
	"fmt"
	"strings"

	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// UTMKeys is the preset list of campaign attributes accepted by SetUtmProperties.
var UTMKeys = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_campaign": {},
	"utm_id":       {},
}

// ValidateKey checks a property key: [a-zA-Z][a-zA-Z0-9_]*, at most MaxNameLength bytes.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", types.ErrInvalidKey)
	}
	if len(key) > types.MaxNameLength {
		return types.ErrNameTooLong
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '_'):
		default:
			return fmt.Errorf("%w: %q", types.ErrInvalidKey, key)
		}
	}
	return nil
}

// ValidateEventName checks a non-empty name outside the reserved prefix.
func ValidateEventName(name string) error {
	if name == "" {
		return types.ErrEmptyEventName
	}
	if len(name) > types.MaxNameLength {
		return types.ErrNameTooLong
	}
	if strings.HasPrefix(name, types.ReservedEventPrefix) {
		return fmt.Errorf("%w: %q", types.ErrReservedEventName, name)
	}
	return nil
}

// EventProperties validates and coerces raw event properties.
// The first failing entry rejects the whole event; events are atomic.
func EventProperties(raw map[string]any) (types.Properties, error) {
	if len(raw) > types.MaxEventProperties {
		return nil, types.ErrTooManyProperties
	}
	props := make(types.Properties, len(raw))
	for k, v := range raw {
		if err := ValidateKey(k); err != nil {
			return nil, err
		}
		val, err := Coerce(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = val
	}
	return props, nil
}

// UTMKey maps a preset UTM attribute to its reserved profile key.
func UTMKey(key string) (string, error) {
	if _, ok := UTMKeys[key]; !ok {
		return "", fmt.Errorf("%w: %q", types.ErrReservedUTMKey, key)
	}
	return types.ReservedPropertyPrefix + key, nil
}

// ValidateMutation checks a mutation built by the caller-facing layer.
// Reserved keys are accepted only when produced by UTMKey.
func ValidateMutation(m types.Mutation) error {
	key := m.Key
	if strings.HasPrefix(key, types.ReservedPropertyPrefix) {
		if _, err := UTMKey(strings.TrimPrefix(key, types.ReservedPropertyPrefix)); err != nil {
			return err
		}
	} else if err := ValidateKey(key); err != nil {
		return err
	}

	switch m.Op {
	case types.OpSet:
		if m.Value.Kind == types.KindInvalid {
			return types.ErrUnsupportedValue
		}
	case types.OpIncrease:
		if m.Value.Kind != types.KindNumber {
			return types.ErrNotNumeric
		}
	case types.OpAppend, types.OpRemove:
		if m.Value.Kind != types.KindStringSet {
			return fmt.Errorf("%w: %s needs a string set", types.ErrUnsupportedValue, m.Op)
		}
	case types.OpDeleteAll:
	default:
		return fmt.Errorf("%w: op %d", types.ErrUnsupportedValue, int(m.Op))
	}
	return nil
}

// ValidateEvent re-checks an already built event; the collector uses it on decode.
func ValidateEvent(e types.Event) error {
	if err := ValidateEventName(e.Name); err != nil {
		return err
	}
	if len(e.Properties) > types.MaxEventProperties {
		return types.ErrTooManyProperties
	}
	for k, v := range e.Properties {
		if err := ValidateKey(k); err != nil {
			return err
		}
		if _, err := Coerce(v); err != nil {
			return fmt.Errorf("property %q: %w", k, err)
		}
	}
	return nil
}
