package resultset

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_PreservesKeyOrder(t *testing.T) {
	raw := []byte(`{"zeta":1,"alpha":2,"mid":{"b":1,"a":2}}`)

	v, err := Decode(raw)
	require.NoError(t, err)

	obj, ok := v.(*Object)
	require.True(t, ok, "top-level value should decode to *Object")
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, obj.Keys())

	mid, ok := obj.Get("mid")
	require.True(t, ok)
	midObj, ok := mid.(*Object)
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a"}, midObj.Keys())
}

func TestDecode_Scalars(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Value
	}{
		{"string", `"hello"`, "hello"},
		{"number", `42`, json.Number("42")},
		{"float", `3.25`, json.Number("3.25")},
		{"bool", `true`, true},
		{"null", `null`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestDecode_Array(t *testing.T) {
	v, err := Decode([]byte(`[1,"two",{"three":3}]`))
	require.NoError(t, err)

	arr, ok := v.([]Value)
	require.True(t, ok)
	require.Len(t, arr, 3)
	assert.Equal(t, json.Number("1"), arr[0])
	assert.Equal(t, "two", arr[1])
	_, ok = arr[2].(*Object)
	assert.True(t, ok)
}

func TestDecodeRows_MalformedRecordDegradesToText(t *testing.T) {
	rows := DecodeRows([]json.RawMessage{
		json.RawMessage(`{"a":1}`),
		json.RawMessage(`{broken`),
		json.RawMessage(`"ok"`),
	})

	require.Len(t, rows, 3, "a malformed record must not drop the batch")
	_, ok := rows[0].(*Object)
	assert.True(t, ok)
	assert.Equal(t, `{broken`, rows[1])
	assert.Equal(t, "ok", rows[2])
}

func TestObject_MarshalJSONRoundTrip(t *testing.T) {
	raw := []byte(`{"z":"last","a":{"nested":[1,2]},"b":null}`)
	v, err := Decode(raw)
	require.NoError(t, err)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))

	// Ordering is preserved byte-for-byte, not just semantically.
	assert.Equal(t, `{"z":"last","a":{"nested":[1,2]},"b":null}`, string(out))
}

func TestJSONString(t *testing.T) {
	assert.Equal(t, "", JSONString(nil))
	assert.Equal(t, "plain", JSONString("plain"))
	assert.Equal(t, "12.5", JSONString(json.Number("12.5")))
	assert.Equal(t, "true", JSONString(true))

	obj := NewObject()
	obj.Set("k", "v")
	assert.Equal(t, `{"k":"v"}`, JSONString(obj))
	assert.Equal(t, `["a","b"]`, JSONString([]Value{"a", "b"}))
}
