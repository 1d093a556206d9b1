package diffpatch

import (
	"encoding/json"
	"fmt"

	"github.com/lgtrace/lgtrace-go/trace/tree"
)

// jsonEntry is the wire shape of an Entry. tree.Value is an interface, so
// encoding/json cannot unmarshal into it directly (it has no way to pick
// a concrete case) — MarshalDiff/UnmarshalDiff do that conversion by hand,
// the same reason tree.Marshal/tree.Unmarshal exist as free functions
// instead of relying on the json.Marshaler/Unmarshaler interfaces alone.
type jsonEntry struct {
	Path     string          `json:"path"`
	OldValue json.RawMessage `json:"old_value,omitempty"`
	NewValue json.RawMessage `json:"new_value,omitempty"`
}

type jsonDiff struct {
	Changed []jsonEntry `json:"changed"`
	Added   []jsonEntry `json:"added"`
	Removed []jsonEntry `json:"removed"`
}

// MarshalDiff serializes a Diff to JSON in the same changed/added/removed
// shape the original diff engine's to_dict() produces.
func MarshalDiff(d Diff) ([]byte, error) {
	jd := jsonDiff{
		Changed: make([]jsonEntry, len(d.Changed)),
		Added:   make([]jsonEntry, len(d.Added)),
		Removed: make([]jsonEntry, len(d.Removed)),
	}
	convert := func(entries []Entry, out []jsonEntry) error {
		for i, e := range entries {
			je := jsonEntry{Path: e.Path}
			if e.OldValue != nil {
				b, err := tree.Marshal(e.OldValue)
				if err != nil {
					return fmt.Errorf("diffpatch: marshal old_value at %q: %w", e.Path, err)
				}
				je.OldValue = b
			}
			if e.NewValue != nil {
				b, err := tree.Marshal(e.NewValue)
				if err != nil {
					return fmt.Errorf("diffpatch: marshal new_value at %q: %w", e.Path, err)
				}
				je.NewValue = b
			}
			out[i] = je
		}
		return nil
	}
	if err := convert(d.Changed, jd.Changed); err != nil {
		return nil, err
	}
	if err := convert(d.Added, jd.Added); err != nil {
		return nil, err
	}
	if err := convert(d.Removed, jd.Removed); err != nil {
		return nil, err
	}
	return json.Marshal(jd)
}

// UnmarshalDiff is the inverse of MarshalDiff.
func UnmarshalDiff(data []byte) (Diff, error) {
	var jd jsonDiff
	if err := json.Unmarshal(data, &jd); err != nil {
		return Diff{}, fmt.Errorf("diffpatch: unmarshal diff: %w", err)
	}
	convert := func(entries []jsonEntry) ([]Entry, error) {
		out := make([]Entry, len(entries))
		for i, je := range entries {
			e := Entry{Path: je.Path}
			if len(je.OldValue) > 0 {
				v, err := tree.Unmarshal(je.OldValue)
				if err != nil {
					return nil, err
				}
				e.OldValue = v
			}
			if len(je.NewValue) > 0 {
				v, err := tree.Unmarshal(je.NewValue)
				if err != nil {
					return nil, err
				}
				e.NewValue = v
			}
			out[i] = e
		}
		return out, nil
	}

	var d Diff
	var err error
	if d.Changed, err = convert(jd.Changed); err != nil {
		return Diff{}, err
	}
	if d.Added, err = convert(jd.Added); err != nil {
		return Diff{}, err
	}
	if d.Removed, err = convert(jd.Removed); err != nil {
		return Diff{}, err
	}
	return d, nil
}
