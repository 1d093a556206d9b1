// Package store provides persistence backends for execution traces:
// executions, their steps, and the routing decisions recorded along the
// way. Unlike the host graph engine's own Store[S] (graph/store), which
// is generic over an arbitrary state type and exists to resume a run,
// this Store is concrete — trace.Execution/ExecutionStep/RoutingDecision
// are already the serialized, JSON-safe representation a replay needs,
// so there is nothing left for a type parameter to buy here.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested execution, step, or routing
// decision does not exist.
var ErrNotFound = errors.New("trace/store: not found")

// ErrStorageUnavailable is returned, wrapped with %w and the driver-level
// cause, when a store constructor cannot open or reach its backend.
var ErrStorageUnavailable = errors.New("trace/store: storage backend unavailable")

// ListOptions bounds a listing query.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store persists and retrieves execution traces. A single write mutex per
// instance serializes writes (recording may be called concurrently from
// many worker goroutines executing different nodes). The SQLite and MySQL
// backends do not take it for reads; MemStore guards reads with the read
// side of the same RWMutex, so its reads wait while a write holds it.
type Store interface {
	SaveExecution(ctx context.Context, exec Execution) error
	UpdateExecution(ctx context.Context, exec Execution) error
	GetExecution(ctx context.Context, executionID string) (Execution, error)
	ListExecutions(ctx context.Context, opts ListOptions) ([]Execution, error)

	SaveStep(ctx context.Context, step Step) error
	GetStep(ctx context.Context, stepID string) (Step, error)
	ListSteps(ctx context.Context, executionID string) ([]Step, error)

	SaveRoutingDecision(ctx context.Context, d RoutingDecision) error
	GetRoutingDecisions(ctx context.Context, executionID string) ([]RoutingDecision, error)

	// GetStateAtStep reconstructs the state as of stepIndex by locating
	// the nearest checkpoint at or before stepIndex and replaying the
	// intervening steps' diffs forward, exactly the algorithm the host
	// replay engine also exposes via trace.ReplayEngine — it lives here
	// too because the store is the only component that can do the
	// checkpoint lookup without an extra round trip.
	GetStateAtStep(ctx context.Context, executionID string, stepIndex int) (map[string]any, error)

	Close() error
}

// Execution, Step, and RoutingDecision mirror trace.Execution,
// trace.ExecutionStep, and trace.RoutingDecision field-for-field. They
// are declared separately in this package (rather than imported from
// trace) to keep the storage layer free of a dependency on the collector
// package that constructs trace.* values — trace imports store, not the
// other way around.
type Execution struct {
	ExecutionID  string
	GraphName    string
	StartedAtRFC string
	EndedAtRFC   string
	Status       string
	InitialState map[string]any
	FinalState   map[string]any
	StepCount    int
	Metadata     map[string]any
}

type Step struct {
	StepID           string
	ExecutionID      string
	NodeName         string
	StepIndex        int
	TimestampStart   string
	TimestampEnd     string
	Status           string
	StateBefore      map[string]any
	StateAfter       map[string]any
	StateDiffJSON    string
	IsCheckpoint     bool
	Error            string
	Metadata         map[string]any
}

type RoutingDecision struct {
	StepID               string
	ExecutionID          string
	SourceNode           string
	TargetNode           string
	ConditionDescription string
	ConditionInputs      map[string]any
	EvaluatedValue       any
}
