package values

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    types.Value
		wantErr error
	}{
		{
			name:  "string passthrough",
			value: "hello",
			want:  types.StringValue("hello"),
		},
		{
			name:  "int to number",
			value: 100,
			want:  types.NumberValue(100),
		},
		{
			name:  "int64 to number",
			value: int64(999),
			want:  types.NumberValue(999),
		},
		{
			name:  "uint8 to number",
			value: uint8(7),
			want:  types.NumberValue(7),
		},
		{
			name:  "float32 to number",
			value: float32(1.5),
			want:  types.NumberValue(1.5),
		},
		{
			name:  "string slice to set",
			value: []string{"b", "a", "b"},
			want:  types.SetValue("a", "b"),
		},
		{
			name:  "any slice of strings to set",
			value: []any{"x", "y"},
			want:  types.SetValue("x", "y"),
		},
		{
			name:  "set-shaped map to set",
			value: map[string]struct{}{"k": {}},
			want:  types.SetValue("k"),
		},
		{
			name:  "bool map keeps true members",
			value: map[string]bool{"in": true, "out": false},
			want:  types.SetValue("in"),
		},
		{
			name:  "tagged value passthrough",
			value: types.NumberValue(3),
			want:  types.NumberValue(3),
		},
		{
			name:    "bool rejected",
			value:   true,
			wantErr: types.ErrUnsupportedValue,
		},
		{
			name:    "nil rejected",
			value:   nil,
			wantErr: types.ErrUnsupportedValue,
		},
		{
			name:    "NaN rejected",
			value:   math.NaN(),
			wantErr: types.ErrUnsupportedValue,
		},
		{
			name:    "mixed slice rejected",
			value:   []any{"x", 1},
			wantErr: types.ErrUnsupportedValue,
		},
		{
			name:    "struct rejected",
			value:   struct{}{},
			wantErr: types.ErrUnsupportedValue,
		},
		{
			name:    "oversized string rejected",
			value:   strings.Repeat("a", types.MaxStringValueLength+1),
			wantErr: types.ErrValueTooLong,
		},
		{
			name:    "oversized set element rejected",
			value:   []string{strings.Repeat("a", types.MaxStringValueLength+1)},
			wantErr: types.ErrValueTooLong,
		},
		{
			name:    "invalid tagged value rejected",
			value:   types.Value{},
			wantErr: types.ErrUnsupportedValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Coerce(%v) error = %v, want %v", tt.value, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce(%v) unexpected error: %v", tt.value, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Coerce(%v) = %+v, want %+v", tt.value, got, tt.want)
			}
		})
	}
}

func TestCoerceNumber(t *testing.T) {
	if n, err := CoerceNumber(5); err != nil || n != 5 {
		t.Errorf("CoerceNumber(5) = %v, %v", n, err)
	}
	if n, err := CoerceNumber(types.NumberValue(2.5)); err != nil || n != 2.5 {
		t.Errorf("CoerceNumber(Value 2.5) = %v, %v", n, err)
	}
	for _, bad := range []any{"5", true, nil, math.Inf(1), types.StringValue("x")} {
		if _, err := CoerceNumber(bad); !errors.Is(err, types.ErrNotNumeric) {
			t.Errorf("CoerceNumber(%v) error = %v, want ErrNotNumeric", bad, err)
		}
	}
}

func TestValidateKey(t *testing.T) {
	valid := []string{"a", "abc", "A1", "user_name", "x_1_y", strings.Repeat("k", types.MaxNameLength)}
	for _, k := range valid {
		if err := ValidateKey(k); err != nil {
			t.Errorf("ValidateKey(%q) unexpected error: %v", k, err)
		}
	}

	tests := []struct {
		key     string
		wantErr error
	}{
		{"", types.ErrInvalidKey},
		{"1abc", types.ErrInvalidKey},
		{"_abc", types.ErrInvalidKey},
		{"ab-c", types.ErrInvalidKey},
		{"ab c", types.ErrInvalidKey},
		{"$utm_source", types.ErrInvalidKey},
		{strings.Repeat("k", types.MaxNameLength+1), types.ErrNameTooLong},
	}
	for _, tt := range tests {
		if err := ValidateKey(tt.key); !errors.Is(err, tt.wantErr) {
			t.Errorf("ValidateKey(%q) error = %v, want %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestValidateEventName(t *testing.T) {
	if err := ValidateEventName("purchase"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateEventName(""); !errors.Is(err, types.ErrEmptyEventName) {
		t.Errorf("empty name error = %v", err)
	}
	if err := ValidateEventName("el_click"); !errors.Is(err, types.ErrReservedEventName) {
		t.Errorf("reserved prefix error = %v", err)
	}
	if err := ValidateEventName(strings.Repeat("n", types.MaxNameLength+1)); !errors.Is(err, types.ErrNameTooLong) {
		t.Errorf("long name error = %v", err)
	}
}

func TestEventProperties(t *testing.T) {
	props, err := EventProperties(map[string]any{"price": 9.5, "sku": "A1", "tags": []string{"x"}})
	if err != nil {
		t.Fatalf("EventProperties: %v", err)
	}
	if props["price"].Kind != types.KindNumber || props["sku"].Kind != types.KindString || props["tags"].Kind != types.KindStringSet {
		t.Errorf("unexpected kinds: %+v", props)
	}

	if _, err := EventProperties(map[string]any{"1abc": 1}); !errors.Is(err, types.ErrInvalidKey) {
		t.Errorf("bad key error = %v", err)
	}

	tooMany := make(map[string]any, types.MaxEventProperties+1)
	for i := 0; i <= types.MaxEventProperties; i++ {
		tooMany[fmt.Sprintf("k%d", i)] = i
	}
	if _, err := EventProperties(tooMany); !errors.Is(err, types.ErrTooManyProperties) {
		t.Errorf("too many error = %v", err)
	}
}

func TestValidateMutation(t *testing.T) {
	utm, err := UTMKey("utm_source")
	if err != nil {
		t.Fatalf("UTMKey: %v", err)
	}
	tests := []struct {
		name    string
		m       types.Mutation
		wantErr error
	}{
		{"set string", types.Mutation{Key: "name", Op: types.OpSet, Value: types.StringValue("x")}, nil},
		{"utm set", types.Mutation{Key: utm, Op: types.OpSet, Value: types.StringValue("ads")}, nil},
		{"unknown utm", types.Mutation{Key: "$utm_other", Op: types.OpSet, Value: types.StringValue("x")}, types.ErrReservedUTMKey},
		{"increase needs number", types.Mutation{Key: "n", Op: types.OpIncrease, Value: types.StringValue("1")}, types.ErrNotNumeric},
		{"append needs set", types.Mutation{Key: "n", Op: types.OpAppend, Value: types.StringValue("1")}, types.ErrUnsupportedValue},
		{"delete has no value", types.Mutation{Key: "n", Op: types.OpDeleteAll}, nil},
		{"bad key", types.Mutation{Key: "1n", Op: types.OpDeleteAll}, types.ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMutation(tt.m)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
