package diffpatch

import "github.com/lgtrace/lgtrace-go/trace/tree"

// Apply reconstructs a tree.Value by applying a Diff to a base snapshot.
// Entries are applied removed-then-added-then-changed. Removed entries are
// applied in reverse of the order Compute produced them in, so a list
// shrinking by more than one element removes its highest index first —
// applying ascending indices would shift every later index out from under
// the paths Compute already computed. A removal whose path no longer
// exists in base is a silent no-op — the base has already diverged from
// whatever produced the diff, and replay favors best-effort reconstruction
// over a hard failure.
func Apply(base tree.Value, d Diff) tree.Value {
	result := base
	for i := len(d.Removed) - 1; i >= 0; i-- {
		result = deleteAtPath(result, mustParse(d.Removed[i].Path))
	}
	for _, e := range d.Added {
		result = setAtPath(result, mustParse(e.Path), e.NewValue)
	}
	for _, e := range d.Changed {
		segs := mustParse(e.Path)
		if isLengthSentinel(result, segs) {
			continue
		}
		result = setAtPath(result, segs, e.NewValue)
	}
	return result
}

// isLengthSentinel reports whether a path's final segment is the
// synthetic ".length" marker Compute emits on list-length mismatches.
// It carries no addressable location of its own — the preceding element
// adds/removes already reconstruct the length change — so Apply skips it.
// The marker is recognised only where the segments before it address a
// list in v; a map key that is itself named "length" is applied normally.
func isLengthSentinel(v tree.Value, segs []PathSegment) bool {
	if len(segs) == 0 || segs[len(segs)-1].IsIndex || segs[len(segs)-1].Key != "length" {
		return false
	}
	parent, ok := getAtPath(v, segs[:len(segs)-1])
	if !ok {
		return false
	}
	_, isList := parent.(tree.List)
	return isList
}

func mustParse(path string) []PathSegment {
	segs, err := ParsePath(path)
	if err != nil {
		// Paths reaching Apply were produced by Compute, which only ever
		// emits paths ParsePath can read back; a parse failure here means
		// the diff was corrupted in storage, not a usage error to recover
		// from gracefully.
		return nil
	}
	return segs
}

func getAtPath(v tree.Value, segs []PathSegment) (tree.Value, bool) {
	if len(segs) == 0 {
		return v, true
	}
	head, rest := segs[0], segs[1:]
	switch t := v.(type) {
	case tree.Map:
		child, ok := t[head.Key]
		if !ok {
			return nil, false
		}
		return getAtPath(child, rest)
	case tree.List:
		if head.Index < 0 || head.Index >= len(t) {
			return nil, false
		}
		return getAtPath(t[head.Index], rest)
	default:
		return nil, false
	}
}

func setAtPath(v tree.Value, segs []PathSegment, value tree.Value) tree.Value {
	if len(segs) == 0 {
		return value
	}
	head, rest := segs[0], segs[1:]

	if head.IsIndex {
		list, ok := v.(tree.List)
		if !ok || list == nil {
			list = tree.List{}
		}
		list = growList(list, head.Index)
		list[head.Index] = setAtPath(list[head.Index], rest, value)
		return list
	}

	m, ok := v.(tree.Map)
	if !ok || m == nil {
		m = tree.Map{}
	} else {
		m = cloneMap(m)
	}
	m[head.Key] = setAtPath(m[head.Key], rest, value)
	return m
}

func deleteAtPath(v tree.Value, segs []PathSegment) tree.Value {
	if len(segs) == 0 {
		return v
	}
	head, rest := segs[0], segs[1:]

	if len(rest) == 0 {
		if head.IsIndex {
			list, ok := v.(tree.List)
			if !ok || head.Index < 0 || head.Index >= len(list) {
				return v
			}
			out := make(tree.List, 0, len(list)-1)
			out = append(out, list[:head.Index]...)
			out = append(out, list[head.Index+1:]...)
			return out
		}
		m, ok := v.(tree.Map)
		if !ok {
			return v
		}
		if _, exists := m[head.Key]; !exists {
			return v
		}
		m = cloneMap(m)
		delete(m, head.Key)
		return m
	}

	if head.IsIndex {
		list, ok := v.(tree.List)
		if !ok || head.Index < 0 || head.Index >= len(list) {
			return v
		}
		list = append(tree.List{}, list...)
		list[head.Index] = deleteAtPath(list[head.Index], rest)
		return list
	}

	m, ok := v.(tree.Map)
	if !ok {
		return v
	}
	child, exists := m[head.Key]
	if !exists {
		return v
	}
	m = cloneMap(m)
	m[head.Key] = deleteAtPath(child, rest)
	return m
}

func growList(list tree.List, n int) tree.List {
	if n < len(list) {
		out := append(tree.List{}, list...)
		return out
	}
	out := make(tree.List, n+1)
	copy(out, list)
	for i := len(list); i <= n; i++ {
		out[i] = tree.Null{}
	}
	return out
}

func cloneMap(m tree.Map) tree.Map {
	out := make(tree.Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
