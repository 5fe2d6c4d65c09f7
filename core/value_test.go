package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue_Canonical(t *testing.T) {
	v, err := ParseValue([]byte(`{ "b": 2, "a": [1, 2.50, "x"], "big": 12345678901234567890 }`))
	require.NoError(t, err)

	assert.Equal(t, KindMap, v.Kind())
	assert.Equal(t, `{"a":[1,2.50,"x"],"b":2,"big":12345678901234567890}`, string(v.Bytes()))
}

func TestParseValue_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: "  "},
		{name: "malformed", input: `{"a":`},
		{name: "trailing", input: `{"a":1} {"b":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseValue([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestValue_Kinds(t *testing.T) {
	tests := []struct {
		in   any
		want Kind
	}{
		{nil, KindNull},
		{true, KindBool},
		{42, KindNumber},
		{"s", KindString},
		{[]int{1}, KindList},
		{map[string]int{"x": 1}, KindMap},
	}
	for _, tt := range tests {
		v := MustValue(tt.in)
		assert.Equal(t, tt.want, v.Kind(), "input %v", tt.in)
	}
	assert.True(t, Null.IsNull())
	assert.Equal(t, "null", string(Null.Bytes()))
	assert.Equal(t, 4, Null.Size())
}

func TestValue_JSONRoundTripInsideStruct(t *testing.T) {
	type doc struct {
		Payload Value `json:"payload"`
	}
	in := doc{Payload: MustValue(map[string]any{"x": json.Number("1.000"), "s": "héllo"})}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out doc
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Payload.Equal(out.Payload))
	assert.Equal(t, `{"s":"héllo","x":1.000}`, string(out.Payload.Bytes()))
}

func TestValue_DecodeAndString(t *testing.T) {
	v := MustValue(map[string]any{"count": 3})
	var dst struct {
		Count int `json:"count"`
	}
	require.NoError(t, v.Decode(&dst))
	assert.Equal(t, 3, dst.Count)

	assert.Equal(t, "plain", MustValue("plain").String())
	assert.Equal(t, `{"count":3}`, v.String())

	m, ok := v.Interface().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("3"), m["count"])
}

func TestNewValue_PassesValueThrough(t *testing.T) {
	v := MustValue([]string{"a"})
	again, err := NewValue(v)
	require.NoError(t, err)
	assert.True(t, v.Equal(again))
}
