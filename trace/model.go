// Package trace instruments a graph execution, recording every node's
// state transitions so a run can be replayed and inspected step by step
// after the fact.
package trace

import (
	"time"

	"github.com/google/uuid"
	"github.com/lgtrace/lgtrace-go/trace/diffpatch"
)

// StepStatus is the lifecycle state of a single recorded step or
// execution.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Execution is a single graph run from start to end.
type Execution struct {
	ExecutionID  string         `json:"execution_id"`
	GraphName    string         `json:"graph_name"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Status       StepStatus     `json:"status"`
	InitialState map[string]any `json:"initial_state"`
	FinalState   map[string]any `json:"final_state,omitempty"`
	StepCount    int            `json:"step_count"`
	Metadata     map[string]any `json:"metadata"`
}

// ExecutionStep is one node execution within a graph run.
type ExecutionStep struct {
	StepID         string             `json:"step_id"`
	ExecutionID    string             `json:"execution_id"`
	NodeName       string             `json:"node_name"`
	StepIndex      int                `json:"step_index"`
	TimestampStart time.Time          `json:"timestamp_start"`
	TimestampEnd   *time.Time         `json:"timestamp_end,omitempty"`
	Status         StepStatus         `json:"status"`
	StateBefore    map[string]any     `json:"state_before,omitempty"` // only populated on checkpoint steps
	StateAfter     map[string]any     `json:"state_after,omitempty"`  // only populated on checkpoint steps
	StateDiff      diffpatch.Diff     `json:"state_diff"`
	IsCheckpoint   bool               `json:"is_checkpoint"`
	Error          string             `json:"error,omitempty"`
	Metadata       map[string]any     `json:"metadata"`
}

// RoutingDecision is a captured conditional edge evaluation.
type RoutingDecision struct {
	StepID                string `json:"step_id"`
	SourceNode            string `json:"source_node"`
	TargetNode            string `json:"target_node"`
	ConditionDescription  string `json:"condition_description"`
	ConditionInputs       map[string]any `json:"condition_inputs"`
	EvaluatedValue        any    `json:"evaluated_value"`
}

// newExecutionID mirrors the original project's uuid4().hex[:16]
// truncation — short enough to read in logs, long enough that collisions
// within one process's lifetime are not a practical concern.
func newExecutionID() string {
	return uuid.New().String()[:16]
}

// NewExecutionID is the exported form of newExecutionID, for callers
// outside this package (the instrumentation adapter) that need to mint an
// execution ID themselves instead of passing an empty one to Start.
func NewExecutionID() string {
	return newExecutionID()
}

// newStepID mirrors the original uuid4().hex[:12] truncation.
func newStepID() string {
	return uuid.New().String()[:12]
}
