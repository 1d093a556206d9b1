package diffpatch

import (
	"fmt"
	"sort"

	"github.com/lgtrace/lgtrace-go/trace/tree"
)

// Entry is one line of a structural diff: a path into the tree plus the
// old and/or new value at that path. Only the fields relevant to the
// entry's section are populated — Removed entries carry OldValue only,
// Added entries carry NewValue only, Changed entries carry both.
type Entry struct {
	Path     string     `json:"path"`
	OldValue tree.Value `json:"old_value,omitempty"`
	NewValue tree.Value `json:"new_value,omitempty"`
}

// Diff is a structured diff between two tree.Value snapshots, split into
// the three disjoint sections a replay applies in a fixed order: removals
// first, then additions, then changes.
type Diff struct {
	Changed []Entry `json:"changed"`
	Added   []Entry `json:"added"`
	Removed []Entry `json:"removed"`
}

// IsEmpty reports whether the diff carries no changes at all.
func (d Diff) IsEmpty() bool {
	return len(d.Changed) == 0 && len(d.Added) == 0 && len(d.Removed) == 0
}

// Compute produces the structural diff between before and after. ignoreKeys
// names top-level-or-nested map keys to exclude from comparison entirely —
// the Go equivalent of the original serializer's DEFAULT_IGNORE_KEYS
// (timestamps, request IDs, and similar fields that change every run
// without being meaningful state transitions).
func Compute(before, after tree.Value, ignoreKeys map[string]struct{}) Diff {
	var d Diff
	diffAt("", before, after, ignoreKeys, &d)
	return d
}

func diffAt(path string, before, after tree.Value, ignore map[string]struct{}, d *Diff) {
	bm, bIsMap := before.(tree.Map)
	am, aIsMap := after.(tree.Map)
	if bIsMap && aIsMap {
		diffMaps(path, bm, am, ignore, d)
		return
	}

	bl, bIsList := before.(tree.List)
	al, aIsList := after.(tree.List)
	if bIsList && aIsList {
		diffLists(path, bl, al, ignore, d)
		return
	}

	if !valuesEqual(before, after) {
		d.Changed = append(d.Changed, Entry{Path: path, OldValue: before, NewValue: after})
	}
}

func diffMaps(path string, before, after tree.Map, ignore map[string]struct{}, d *Diff) {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	for _, k := range sortedKeySet(keys) {
		if _, skip := ignore[k]; skip {
			continue
		}
		childPath := joinKey(path, k)
		bv, inBefore := before[k]
		av, inAfter := after[k]

		switch {
		case inBefore && !inAfter:
			d.Removed = append(d.Removed, Entry{Path: childPath, OldValue: bv})
		case !inBefore && inAfter:
			d.Added = append(d.Added, Entry{Path: childPath, NewValue: av})
		default:
			diffAt(childPath, bv, av, ignore, d)
		}
	}
}

func diffLists(path string, before, after tree.List, ignore map[string]struct{}, d *Diff) {
	if len(before) != len(after) {
		d.Changed = append(d.Changed, Entry{
			Path:     path + ".length",
			OldValue: tree.Number(len(before)),
			NewValue: tree.Number(len(after)),
		})
	}

	common := len(before)
	if len(after) < common {
		common = len(after)
	}
	for i := 0; i < common; i++ {
		diffAt(indexPath(path, i), before[i], after[i], ignore, d)
	}
	for i := common; i < len(after); i++ {
		d.Added = append(d.Added, Entry{Path: indexPath(path, i), NewValue: after[i]})
	}
	for i := common; i < len(before); i++ {
		d.Removed = append(d.Removed, Entry{Path: indexPath(path, i), OldValue: before[i]})
	}
}

func valuesEqual(a, b tree.Value) bool {
	ab, aErr := tree.Marshal(a)
	bb, bErr := tree.Marshal(b)
	if aErr != nil || bErr != nil {
		return false
	}
	return string(ab) == string(bb)
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func sortedKeySet(keys map[string]struct{}) []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
