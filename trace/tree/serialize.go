package tree

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"
)

const bytesInlineLimit = 1024

// Enumer is implemented by defined scalar types that want their
// underlying value recorded instead of a struct dump — the Go analogue
// of serializing a Python Enum by its .value.
type Enumer interface {
	EnumValue() any
}

// Mapper is implemented by types that know how to flatten themselves into
// a plain mapping before serialization — the Go analogue of a Pydantic
// model's model_dump() or a dataclass' asdict().
type Mapper interface {
	AsMap() map[string]any
}

// Serialize converts an arbitrary Go value into the closed Value universe.
// It is total (never panics, never returns an error) and deterministic
// except where a native Go map cannot recover its original key order.
//
// Rules, applied in order:
//  1. nil, bool, numeric kinds, string: returned directly, with the Go
//     caveat that non-finite floats become the sentinel strings "NaN",
//     "Infinity", "-Infinity" rather than null, so that "absent" and
//     "non-finite" remain distinguishable. This covers defined types of
//     these kinds too, whatever methods they have: an enum-like defined
//     int or string is recorded by its underlying value, and its String()
//     or EnumValue() method is not called.
//  2. time.Time: RFC3339 UTC string with nanosecond precision.
//  3. []byte: "<bytes len=N>", or "<bytes len=N truncated>" beyond the
//     1024 byte inline limit.
//  4. Enumer: EnumValue() is serialized instead of the value itself.
//  5. fmt.Stringer: serialized via its String() method.
//  6. Mapper: AsMap() is called and the result re-serialized.
//  7. Pointers and interfaces: dereferenced; nil serializes as Null.
//  8. Slices and arrays: serialized element-wise into a List.
//  9. Maps: serialized into a Map with string-coerced keys; keys that
//     cannot be serialized unambiguously (containing '.', '[' or ']') are
//     rendered as "<invalid key: ...>" rather than silently producing an
//     ambiguous diff path later.
//  10. Structs: serialized into a Map of exported field name (or its
//      `tree`/`json` struct tag) to serialized field value.
//  11. Cycle detection: a pointer, slice or map already on the current
//      recursion path (tracked by pointer identity) serializes as
//      "<circular reference>".
//  12. Anything else: "<unserializable: %s>", truncated to 500 runes.
func Serialize(v any) Value {
	return serializeValue(reflect.ValueOf(v), map[uintptr]struct{}{})
}

func serializeValue(rv reflect.Value, seen map[uintptr]struct{}) Value {
	if !rv.IsValid() {
		return Null{}
	}

	switch rv.Kind() {
	case reflect.Invalid:
		return Null{}
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return serializeFloat(rv.Float())
	case reflect.String:
		return String(rv.String())
	}

	// time.Time gets its own rule ahead of the generic struct rule.
	if t, ok := asTime(rv); ok {
		return String(t.UTC().Format(time.RFC3339Nano))
	}

	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return serializeBytes(rv.Bytes())
	}

	if e, ok := asEnumer(rv); ok {
		return serializeValue(reflect.ValueOf(e.EnumValue()), seen)
	}

	if s, ok := asStringer(rv); ok {
		return String(s.String())
	}

	if m, ok := asMapper(rv); ok {
		return serializeValue(reflect.ValueOf(m.AsMap()), seen)
	}

	switch rv.Kind() {
	case reflect.Interface:
		// Interface values (map[string]any entries, any-typed struct
		// fields, []any elements) carry no pointer identity of their own —
		// Pointer() is undefined for this Kind and panics if called.
		// Unwrap to the dynamic value and let its own Kind (Ptr, Map,
		// Slice, ...) do any cycle tracking that applies to it.
		if rv.IsNil() {
			return Null{}
		}
		return serializeValue(rv.Elem(), seen)

	case reflect.Ptr:
		if rv.IsNil() {
			return Null{}
		}
		ptr := rv.Pointer()
		if _, ok := seen[ptr]; ok {
			return String("<circular reference>")
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
		return serializeValue(rv.Elem(), seen)

	case reflect.Slice, reflect.Array:
		ptr := uintptr(0)
		if rv.Kind() == reflect.Slice && !rv.IsNil() {
			ptr = rv.Pointer()
			if _, ok := seen[ptr]; ok {
				return String("<circular reference>")
			}
			seen[ptr] = struct{}{}
			defer delete(seen, ptr)
		}
		out := make(List, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = serializeValue(rv.Index(i), seen)
		}
		return out

	case reflect.Map:
		if rv.IsNil() {
			return Null{}
		}
		ptr := rv.Pointer()
		if _, ok := seen[ptr]; ok {
			return String("<circular reference>")
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
		return serializeMap(rv, seen)

	case reflect.Struct:
		return serializeStruct(rv, seen)

	default:
		return String(truncate(fmt.Sprintf("<unserializable: %#v>", rv.Interface()), 500))
	}
}

func serializeFloat(f float64) Value {
	switch {
	case math.IsNaN(f):
		return String("NaN")
	case math.IsInf(f, 1):
		return String("Infinity")
	case math.IsInf(f, -1):
		return String("-Infinity")
	default:
		return Number(f)
	}
}

func serializeBytes(b []byte) Value {
	if len(b) > bytesInlineLimit {
		return String(fmt.Sprintf("<bytes len=%d truncated>", len(b)))
	}
	return String(fmt.Sprintf("<bytes len=%d>", len(b)))
}

func serializeMap(rv reflect.Value, seen map[uintptr]struct{}) Value {
	out := make(Map, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := mapKeyString(iter.Key())
		out[key] = serializeValue(iter.Value(), seen)
	}
	return out
}

func mapKeyString(rv reflect.Value) string {
	var key string
	if rv.Kind() == reflect.String {
		key = rv.String()
	} else {
		key = fmt.Sprint(rv.Interface())
	}
	if keyHasPathMetachar(key) {
		return fmt.Sprintf("<invalid key: %s>", key)
	}
	return key
}

func keyHasPathMetachar(key string) bool {
	for _, r := range key {
		if r == '.' || r == '[' || r == ']' {
			return true
		}
	}
	return false
}

func serializeStruct(rv reflect.Value, seen map[uintptr]struct{}) Value {
	t := rv.Type()
	out := make(Map, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		name := fieldName(field)
		if name == "-" {
			continue
		}
		out[name] = serializeValue(rv.Field(i), seen)
	}
	return out
}

func fieldName(field reflect.StructField) string {
	if tag, ok := field.Tag.Lookup("tree"); ok {
		if name, _, _ := splitTag(tag); name != "" {
			return name
		}
	}
	if tag, ok := field.Tag.Lookup("json"); ok {
		if name, _, _ := splitTag(tag); name != "" {
			return name
		}
	}
	return field.Name
}

func splitTag(tag string) (name string, omitempty bool, rest string) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i], tag[i+1:] == "omitempty", tag[i+1:]
		}
	}
	return tag, false, ""
}

func asTime(rv reflect.Value) (time.Time, bool) {
	if rv.Type() == reflect.TypeOf(time.Time{}) {
		return rv.Interface().(time.Time), true
	}
	return time.Time{}, false
}

func asEnumer(rv reflect.Value) (Enumer, bool) {
	if !rv.CanInterface() {
		return nil, false
	}
	if e, ok := rv.Interface().(Enumer); ok {
		return e, true
	}
	return nil, false
}

func asStringer(rv reflect.Value) (fmt.Stringer, bool) {
	if !rv.CanInterface() {
		return nil, false
	}
	if s, ok := rv.Interface().(fmt.Stringer); ok {
		return s, true
	}
	return nil, false
}

func asMapper(rv reflect.Value) (Mapper, bool) {
	if !rv.CanInterface() {
		return nil, false
	}
	if m, ok := rv.Interface().(Mapper); ok {
		return m, true
	}
	return nil, false
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// SortedKeys returns a Map's keys in lexicographic order, the iteration
// order every later component (diffpatch, the serializer's own JSON
// encoding of nested maps) relies on for determinism.
func SortedKeys(m Map) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
