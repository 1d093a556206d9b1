package store

import (
	"sort"

	"github.com/lgtrace/lgtrace-go/trace/diffpatch"
	"github.com/lgtrace/lgtrace-go/trace/tree"
)

// reconstruct finds the nearest checkpoint at or before stepIndex among
// steps (which must belong to a single execution) and replays the
// intervening diffs forward. It is the one place the
// checkpoint-then-diffs algorithm lives; every backend's GetStateAtStep
// and trace.ReplayEngine both call it instead of reimplementing the walk.
//
// steps must be sorted by StepIndex ascending; callers already fetch them
// that way (ORDER BY step_index ASC in every backend).
func reconstruct(initialState map[string]any, steps []Step, stepIndex int) (map[string]any, error) {
	if stepIndex < 0 || stepIndex >= len(steps) {
		return nil, ErrNotFound
	}

	state := tree.Serialize(initialState)
	startIndex := 0

	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if s.IsCheckpoint && s.StepIndex <= stepIndex && s.StateAfter != nil {
			state = tree.Serialize(s.StateAfter)
			startIndex = s.StepIndex + 1
			break
		}
	}

	for _, s := range steps {
		if s.StepIndex < startIndex || s.StepIndex > stepIndex {
			continue
		}
		if s.IsCheckpoint && s.StateAfter != nil {
			state = tree.Serialize(s.StateAfter)
			continue
		}
		d, err := diffpatch.UnmarshalDiff([]byte(s.StateDiffJSON))
		if err != nil {
			return nil, err
		}
		state = diffpatch.Apply(state, d)
	}

	native := tree.ToNative(state)
	m, ok := native.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return m, nil
}

// sortStepsByIndex is used by backends whose query layer cannot express
// ORDER BY directly (MemStore).
func sortStepsByIndex(steps []Step) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepIndex < steps[j].StepIndex })
}
