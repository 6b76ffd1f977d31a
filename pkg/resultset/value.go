// Package resultset interprets the weakly-typed JSON rows returned by a
// graph query. It decodes raw records into order-preserving values,
// classifies them as twins, relationships, or opaque data, and analyzes
// the overall shape of a result batch so the display layer can pick an
// appropriate rendering.
package resultset

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is one decoded JSON value from a query result record. It is one of:
// nil, bool, json.Number, string, *Object, or []Value.
type Value any

// Object is a JSON object that preserves the key order of the source
// document. encoding/json decodes objects into maps, which discards
// ordering; property order matters for display, so objects are decoded
// through a token-level walk instead.
type Object struct {
	keys []string
	vals map[string]Value
}

// NewObject returns an empty ordered object.
func NewObject() *Object {
	return &Object{vals: map[string]Value{}}
}

// Set stores a key/value pair, appending the key if it is new.
func (o *Object) Set(key string, v Value) {
	if _, exists := o.vals[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.vals[key]
	return v, ok
}

// Keys returns the object's keys in source-document order. The returned
// slice is shared; callers must not modify it.
func (o *Object) Keys() []string {
	return o.keys
}

// Len returns the number of keys.
func (o *Object) Len() int {
	return len(o.keys)
}

// String returns the value under key when it is a JSON string, or "".
func (o *Object) String(key string) string {
	if v, ok := o.vals[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// MarshalJSON serializes the object with its original key order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses one raw JSON record into a Value.
func Decode(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("decoding result record: %w", err)
	}
	return v, nil
}

// DecodeRows parses a batch of raw records. Records that fail to parse
// degrade to their raw text rather than aborting the batch; query results
// are untyped by nature and a single malformed record must not take down
// the whole view.
func DecodeRows(raws []json.RawMessage) []Value {
	rows := make([]Value, 0, len(raws))
	for _, raw := range raws {
		v, err := Decode(raw)
		if err != nil {
			rows = append(rows, string(raw))
			continue
		}
		rows = append(rows, v)
	}
	return rows
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key token %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		case '[':
			arr := []Value{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	default:
		// string, json.Number, bool, or nil.
		return Value(tok), nil
	}
}

// IsScalar reports whether v is a non-composite JSON value (string,
// number, bool, or null).
func IsScalar(v Value) bool {
	switch v.(type) {
	case nil, bool, string, json.Number:
		return true
	default:
		return false
	}
}

// JSONString renders any value as compact JSON text. Scalars render as
// their plain form (no quotes around strings); composites as JSON.
func JSONString(v Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
