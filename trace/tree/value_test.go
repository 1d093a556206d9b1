package tree

import (
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	v := Map{
		"name":  String("alice"),
		"age":   Number(30),
		"admin": Bool(false),
		"tags":  List{String("a"), String("b")},
		"meta":  Null{},
	}
	b, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	gotMap, ok := got.(Map)
	if !ok {
		t.Fatalf("expected Map, got %T", got)
	}
	if gotMap["name"] != String("alice") || gotMap["age"] != Number(30) || gotMap["admin"] != Bool(false) {
		t.Errorf("round trip mismatch: %#v", gotMap)
	}
}

func TestMarshalNilValue(t *testing.T) {
	b, err := Marshal(nil)
	if err != nil {
		t.Fatalf("Marshal(nil): %v", err)
	}
	if string(b) != "null" {
		t.Errorf("Marshal(nil) = %s, want null", b)
	}
}

func TestFromNative(t *testing.T) {
	in := map[string]any{
		"a": []any{1.0, "x", nil, true},
	}
	got := FromNative(in)
	m, ok := got.(Map)
	if !ok {
		t.Fatalf("expected Map, got %T", got)
	}
	list, ok := m["a"].(List)
	if !ok || len(list) != 4 {
		t.Fatalf("expected List of 4, got %#v", m["a"])
	}
	if list[0] != Number(1) || list[1] != String("x") || list[2] != (Null{}) || list[3] != Bool(true) {
		t.Errorf("FromNative conversion mismatch: %#v", list)
	}
}

func TestToNativeRoundTrip(t *testing.T) {
	v := Map{
		"name": String("bob"),
		"list": List{Number(1), Number(2)},
	}
	native := ToNative(v)
	m, ok := native.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", native)
	}
	if m["name"] != "bob" {
		t.Errorf("expected name=bob, got %#v", m["name"])
	}
	list, ok := m["list"].([]any)
	if !ok || len(list) != 2 || list[0].(float64) != 1 {
		t.Errorf("expected native list, got %#v", m["list"])
	}
}

func TestAsMapFromStruct(t *testing.T) {
	type S struct {
		Query string
		Count int
	}
	m := AsMap(S{Query: "hi", Count: 2})
	if m["Query"] != "hi" {
		t.Errorf("expected Query=hi, got %#v", m["Query"])
	}
	if m["Count"].(float64) != 2 {
		t.Errorf("expected Count=2, got %#v", m["Count"])
	}
}

func TestAsMapFromNonMapValue(t *testing.T) {
	m := AsMap(42)
	if len(m) != 0 {
		t.Errorf("expected empty map for scalar input, got %#v", m)
	}
}
