package diffpatch

import "testing"

func TestParsePathDotted(t *testing.T) {
	segs, err := ParsePath("messages.2.content")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	want := []PathSegment{{Key: "messages"}, {Index: 2, IsIndex: true}, {Key: "content"}}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d: %#v", len(segs), len(want), segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d = %#v, want %#v", i, segs[i], want[i])
		}
	}
}

func TestParsePathBracketed(t *testing.T) {
	segs, err := ParsePath("messages[2].content")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	want := []PathSegment{{Key: "messages"}, {Index: 2, IsIndex: true}, {Key: "content"}}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d: %#v", len(segs), len(want), segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d = %#v, want %#v", i, segs[i], want[i])
		}
	}
}

func TestParsePathEmpty(t *testing.T) {
	segs, err := ParsePath("")
	if err != nil {
		t.Fatalf("ParsePath(\"\"): %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("expected zero segments, got %#v", segs)
	}
}

func TestParsePathUnterminatedBracket(t *testing.T) {
	if _, err := ParsePath("messages[2"); err == nil {
		t.Error("expected error for unterminated bracket")
	}
}

func TestParsePathNonNumericIndex(t *testing.T) {
	if _, err := ParsePath("messages[x]"); err == nil {
		t.Error("expected error for non-numeric index")
	}
}

func TestJoinPathRoundTrip(t *testing.T) {
	cases := []string{"a.b.c", "a[0].b", "a[0][1]"}
	for _, c := range cases {
		segs, err := ParsePath(c)
		if err != nil {
			t.Fatalf("ParsePath(%q): %v", c, err)
		}
		got := JoinPath(segs)
		if got != c {
			t.Errorf("JoinPath(ParsePath(%q)) = %q, want %q", c, got, c)
		}
	}
}
