// Package diffpatch computes and applies structural diffs between two
// tree.Value snapshots, using the dotted/bracketed path grammar described
// by PathSegment.
package diffpatch

import (
	"fmt"
	"strconv"
	"strings"
)

// PathSegment is one step of a parsed path: either a map key or a list
// index. Index is only meaningful when IsIndex is true.
type PathSegment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s PathSegment) String() string {
	if s.IsIndex {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Key
}

// ParsePath parses a dotted/bracketed path such as "messages.2.content" or
// "messages[2].content" into a sequence of segments. An empty path parses
// to a zero-length segment slice (the root value).
func ParsePath(path string) ([]PathSegment, error) {
	if path == "" {
		return nil, nil
	}

	var segments []PathSegment
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		if n, err := strconv.Atoi(tok); err == nil {
			segments = append(segments, PathSegment{Index: n, IsIndex: true})
		} else {
			segments = append(segments, PathSegment{Key: tok})
		}
		cur.Reset()
	}

	i := 0
	for i < len(path) {
		c := path[i]
		switch c {
		case '.':
			flush()
			i++
		case '[':
			flush()
			j := strings.IndexByte(path[i:], ']')
			if j < 0 {
				return nil, fmt.Errorf("diffpatch: unterminated '[' in path %q", path)
			}
			inner := path[i+1 : i+j]
			n, err := strconv.Atoi(inner)
			if err != nil {
				return nil, fmt.Errorf("diffpatch: non-numeric index %q in path %q", inner, path)
			}
			segments = append(segments, PathSegment{Index: n, IsIndex: true})
			i += j + 1
			if i < len(path) && path[i] == '.' {
				i++
			}
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flush()

	return segments, nil
}

// JoinPath renders segments back into the canonical dotted/bracketed form.
func JoinPath(segments []PathSegment) string {
	var b strings.Builder
	for i, s := range segments {
		if s.IsIndex {
			b.WriteString(fmt.Sprintf("[%d]", s.Index))
		} else {
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(s.Key)
		}
	}
	return b.String()
}
