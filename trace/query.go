package trace

import (
	"context"

	"github.com/lgtrace/lgtrace-go/trace/diffpatch"
	"github.com/lgtrace/lgtrace-go/trace/store"
)

// Reader is the read-only query surface over recorded executions. It
// deliberately carries no verbs that mutate anything — an external
// server (out of scope here, per the non-goal excluding HTTP/WebSocket
// framing) needs exactly this to answer every query a debugging UI would
// issue. Grounded on the original project's StorageBackend contract
// (storage/base.py), narrowed to its read-only subset.
type Reader interface {
	ListExecutions(ctx context.Context, opts store.ListOptions) ([]Execution, error)
	GetExecution(ctx context.Context, executionID string) (Execution, error)
	ListSteps(ctx context.Context, executionID string) ([]ExecutionStep, error)
	GetStateAtStep(ctx context.Context, executionID string, stepIndex int) (map[string]any, error)
	GetTimeline(ctx context.Context, executionID string) ([]TimelineEntry, error)
	ListRouting(ctx context.Context, executionID string) ([]RoutingDecision, error)
	Compare(ctx context.Context, executionID string, fromStep, toStep int) (StepComparison, error)
}

// replayReader adapts a ReplayEngine (plus the store it already wraps)
// into the Reader interface. A caller with only a store.Store can get a
// Reader with a single constructor call via NewReader.
type replayReader struct {
	replay *ReplayEngine
	store  store.Store
}

// NewReader builds the read-only query surface over st.
func NewReader(st store.Store) Reader {
	return &replayReader{replay: NewReplayEngine(st), store: st}
}

func (r *replayReader) ListExecutions(ctx context.Context, opts store.ListOptions) ([]Execution, error) {
	recs, err := r.store.ListExecutions(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]Execution, len(recs))
	for i, rec := range recs {
		out[i] = executionFromStore(rec)
	}
	return out, nil
}

func (r *replayReader) GetExecution(ctx context.Context, executionID string) (Execution, error) {
	rec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return Execution{}, err
	}
	return executionFromStore(rec), nil
}

func (r *replayReader) ListSteps(ctx context.Context, executionID string) ([]ExecutionStep, error) {
	recs, err := r.store.ListSteps(ctx, executionID)
	if err != nil {
		return nil, err
	}
	out := make([]ExecutionStep, len(recs))
	for i, rec := range recs {
		step, err := stepFromStore(rec)
		if err != nil {
			return nil, err
		}
		out[i] = step
	}
	return out, nil
}

func (r *replayReader) GetStateAtStep(ctx context.Context, executionID string, stepIndex int) (map[string]any, error) {
	return r.replay.GetStateAtStep(ctx, executionID, stepIndex)
}

func (r *replayReader) GetTimeline(ctx context.Context, executionID string) ([]TimelineEntry, error) {
	return r.replay.GetFullTimeline(ctx, executionID)
}

func (r *replayReader) ListRouting(ctx context.Context, executionID string) ([]RoutingDecision, error) {
	recs, err := r.store.GetRoutingDecisions(ctx, executionID)
	if err != nil {
		return nil, err
	}
	out := make([]RoutingDecision, len(recs))
	for i, rec := range recs {
		out[i] = RoutingDecision{
			StepID:               rec.StepID,
			SourceNode:           rec.SourceNode,
			TargetNode:           rec.TargetNode,
			ConditionDescription: rec.ConditionDescription,
			ConditionInputs:      rec.ConditionInputs,
			EvaluatedValue:       rec.EvaluatedValue,
		}
	}
	return out, nil
}

func (r *replayReader) Compare(ctx context.Context, executionID string, fromStep, toStep int) (StepComparison, error) {
	return r.replay.CompareSteps(ctx, executionID, fromStep, toStep)
}

func executionFromStore(rec store.Execution) Execution {
	return Execution{
		ExecutionID:  rec.ExecutionID,
		GraphName:    rec.GraphName,
		Status:       StepStatus(rec.Status),
		InitialState: rec.InitialState,
		FinalState:   rec.FinalState,
		StepCount:    rec.StepCount,
		Metadata:     rec.Metadata,
	}
}

func stepFromStore(rec store.Step) (ExecutionStep, error) {
	d, err := diffpatch.UnmarshalDiff([]byte(rec.StateDiffJSON))
	if err != nil {
		return ExecutionStep{}, err
	}
	return ExecutionStep{
		StepID:       rec.StepID,
		ExecutionID:  rec.ExecutionID,
		NodeName:     rec.NodeName,
		StepIndex:    rec.StepIndex,
		Status:       StepStatus(rec.Status),
		StateBefore:  rec.StateBefore,
		StateAfter:   rec.StateAfter,
		StateDiff:    d,
		IsCheckpoint: rec.IsCheckpoint,
		Error:        rec.Error,
		Metadata:     rec.Metadata,
	}, nil
}
