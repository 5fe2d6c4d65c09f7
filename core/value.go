package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Kind classifies the top-level shape of a Value.
type Kind string

const (
	KindNull   Kind = "null"
	KindBool   Kind = "bool"
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// Value is an opaque structured payload (finding payloads, cache values, report
// cells). It is a tagged union of primitives, ordered sequences and key-unique
// mappings held in canonical JSON form:
//   - numbers keep their exact literal text (no float64 round trip)
//   - mapping keys are unique and encoded in sorted order
//   - insignificant whitespace is removed
//
// Two Values built from equivalent data compare Equal and serialize to the
// same bytes, which keeps persisted documents and rendered reports stable.
// The zero Value is JSON null.
type Value struct {
	raw json.RawMessage
}

// Null is the JSON null Value.
var Null = Value{}

// NewValue converts an arbitrary Go value (maps, slices, primitives, structs
// with json tags) into its canonical Value.
func NewValue(v any) (Value, error) {
	if val, ok := v.(Value); ok {
		return val, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("value: marshal: %w", err)
	}
	return ParseValue(data)
}

// MustValue is like NewValue but panics on error. Intended for literals in
// tests and examples.
func MustValue(v any) Value {
	val, err := NewValue(v)
	if err != nil {
		panic(err)
	}
	return val
}

// ParseValue canonicalizes raw JSON text.
func ParseValue(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Value{}, fmt.Errorf("value: empty document")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return Value{}, fmt.Errorf("value: decode: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("value: trailing data after document")
	}
	if decoded == nil {
		return Value{}, nil
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return Value{}, fmt.Errorf("value: encode: %w", err)
	}
	return Value{raw: canonical}, nil
}

// Kind reports the top-level shape of the value.
func (v Value) Kind() Kind {
	if len(v.raw) == 0 {
		return KindNull
	}
	switch v.raw[0] {
	case 'n':
		return KindNull
	case 't', 'f':
		return KindBool
	case '"':
		return KindString
	case '[':
		return KindList
	case '{':
		return KindMap
	default:
		return KindNumber
	}
}

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// Bytes returns a copy of the canonical JSON encoding.
func (v Value) Bytes() []byte {
	if len(v.raw) == 0 {
		return []byte("null")
	}
	out := make([]byte, len(v.raw))
	copy(out, v.raw)
	return out
}

// Size is the length in bytes of the canonical encoding. Cache capacity
// limits are enforced against this number.
func (v Value) Size() int {
	if len(v.raw) == 0 {
		return len("null")
	}
	return len(v.raw)
}

// Decode unmarshals the value into dst.
func (v Value) Decode(dst any) error {
	dec := json.NewDecoder(bytes.NewReader(v.Bytes()))
	dec.UseNumber()
	return dec.Decode(dst)
}

// Interface decodes the value into the generic Go form: nil, bool,
// json.Number, string, []any or map[string]any.
func (v Value) Interface() any {
	var out any
	_ = v.Decode(&out)
	return out
}

// Equal reports whether both values have the same canonical encoding.
func (v Value) Equal(other Value) bool {
	return bytes.Equal(v.Bytes(), other.Bytes())
}

// String renders the value for humans: strings are printed without quotes,
// everything else as canonical JSON.
func (v Value) String() string {
	if v.Kind() == KindString {
		var s string
		if err := json.Unmarshal(v.raw, &s); err == nil {
			return s
		}
	}
	return string(v.Bytes())
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, canonicalizing the input.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
