// Package tree defines the closed value universe that every serialized
// state snapshot is expressed in, and the reflection-based serializer that
// converts an arbitrary Go value into it.
//
// Every component downstream of the serializer (diffpatch, store, replay)
// operates only on Value, never on interface{} from the original state
// type, so the round-trip through the closed sum type is the only place
// that has to reason about Go's open type system.
package tree

import (
	"encoding/json"
	"fmt"
)

// Value is the closed set of shapes a serialized state tree can take.
// It is implemented only by the types in this file — callers outside the
// package cannot add a new case, which is what lets every later component
// pattern-match exhaustively on it.
type Value interface {
	isValue()
}

// Null represents an absent or nil value.
type Null struct{}

func (Null) isValue() {}

// Bool is a serialized boolean.
type Bool bool

func (Bool) isValue() {}

// Number is a serialized numeric value. Integers and floats both collapse
// into this case; the distinction does not survive a round trip through
// JSON anyway, matching the original Python serializer's behavior.
type Number float64

func (Number) isValue() {}

// String is a serialized string, including every value the serializer
// reduces to a string representation (timestamps, UUIDs and other
// non-scalar Stringers, sentinel placeholders).
type String string

func (String) isValue() {}

// List is an ordered sequence of serialized values.
type List []Value

func (List) isValue() {}

// Map is a serialized key/value mapping. Keys are always strings — a
// non-string map key is coerced to its string form during serialization
// (see rule 9 in Serialize's doc comment).
type Map map[string]Value

func (Map) isValue() {}

func (v Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

func (v Bool) MarshalJSON() ([]byte, error) { return json.Marshal(bool(v)) }

func (v Number) MarshalJSON() ([]byte, error) { return json.Marshal(float64(v)) }

func (v String) MarshalJSON() ([]byte, error) { return json.Marshal(string(v)) }

func (v List) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, len(v))
	for i, elem := range v {
		b, err := Marshal(elem)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return json.Marshal(out)
}

func (v Map) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(v))
	for k, elem := range v {
		b, err := Marshal(elem)
		if err != nil {
			return nil, err
		}
		out[k] = b
	}
	return json.Marshal(out)
}

// Marshal serializes a Value to JSON. A nil Value marshals to JSON null.
func Marshal(v Value) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	switch t := v.(type) {
	case Null:
		return t.MarshalJSON()
	case Bool:
		return t.MarshalJSON()
	case Number:
		return t.MarshalJSON()
	case String:
		return t.MarshalJSON()
	case List:
		return t.MarshalJSON()
	case Map:
		return t.MarshalJSON()
	default:
		return nil, fmt.Errorf("tree: unknown Value case %T", v)
	}
}

// Unmarshal parses JSON into a Value. Go cannot unmarshal directly into an
// interface type with custom per-case logic, so this decodes into the
// standard library's generic JSON representation first and converts that
// into the closed Value universe with FromNative.
func Unmarshal(data []byte) (Value, error) {
	var native any
	if err := json.Unmarshal(data, &native); err != nil {
		return nil, fmt.Errorf("tree: unmarshal: %w", err)
	}
	return FromNative(native), nil
}

// FromNative converts a value produced by encoding/json's default decoding
// (nil, bool, float64, string, []any, map[string]any) into a Value. It is
// also useful for call sites that already hold a json.Unmarshal result.
func FromNative(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []any:
		out := make(List, len(t))
		for i, elem := range t {
			out[i] = FromNative(elem)
		}
		return out
	case map[string]any:
		out := make(Map, len(t))
		for k, elem := range t {
			out[k] = FromNative(elem)
		}
		return out
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// ToNative is the inverse of FromNative: it converts a Value back into
// plain Go values (nil, bool, float64, string, []any, map[string]any),
// the shape every caller outside this package works with once a Value
// tree needs to leave the closed universe again (query results, replay
// output). Sorted map iteration keeps the conversion deterministic.
func ToNative(v Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Null:
		return nil
	case Bool:
		return bool(t)
	case Number:
		return float64(t)
	case String:
		return string(t)
	case List:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = ToNative(elem)
		}
		return out
	case Map:
		out := make(map[string]any, len(t))
		for _, k := range SortedKeys(t) {
			out[k] = ToNative(t[k])
		}
		return out
	default:
		return nil
	}
}

// AsMap serializes v and converts the result back to a map[string]any in
// one step — the shape a graph state value takes for recording, whatever
// its original struct/map type was. A non-map result (v serialized to a
// scalar or list) yields an empty map rather than a panic.
func AsMap(v any) map[string]any {
	native := ToNative(Serialize(v))
	m, ok := native.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}
