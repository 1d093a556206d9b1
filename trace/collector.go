package trace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lgtrace/lgtrace-go/graph/emit"
	"github.com/lgtrace/lgtrace-go/trace/diffpatch"
	"github.com/lgtrace/lgtrace-go/trace/store"
	"github.com/lgtrace/lgtrace-go/trace/tree"
)

// Config controls a Collector's behavior, grounded directly on the
// original project's DebugConfig: whether recording is enabled at all,
// how often a full-state checkpoint is taken versus a diff-only step, a
// set of state keys to exclude from diffing entirely, and a soft limit on
// how large a serialized state is allowed to get before it is flagged.
//
// Enabled is set by NewConfig and WithDisabled, but neither Collector nor
// the instrument package consults it: a Collector built from a Config
// with Enabled false still records every step and routing decision.
type Config struct {
	Enabled           bool
	CheckpointInterval int
	IgnoreKeys         map[string]struct{}
	MaxStateSizeBytes  int64
	Logger             *slog.Logger
}

// Option configures a Config, mirroring the functional-options idiom the
// host graph engine uses for its own Options (graph/options.go) rather
// than introducing a second configuration style.
type Option func(*Config)

func WithCheckpointInterval(n int) Option {
	return func(c *Config) { c.CheckpointInterval = n }
}

func WithIgnoreKeys(keys ...string) Option {
	return func(c *Config) {
		if c.IgnoreKeys == nil {
			c.IgnoreKeys = make(map[string]struct{}, len(keys))
		}
		for _, k := range keys {
			c.IgnoreKeys[k] = struct{}{}
		}
	}
}

func WithMaxStateSizeBytes(n int64) Option {
	return func(c *Config) { c.MaxStateSizeBytes = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithDisabled() Option {
	return func(c *Config) { c.Enabled = false }
}

// DefaultIgnoreKeys mirrors the original project's DEFAULT_IGNORE_KEYS —
// fields that legitimately change on every step without representing a
// meaningful state transition.
func DefaultIgnoreKeys() map[string]struct{} {
	return map[string]struct{}{
		"timestamp":  {},
		"token_usage": {},
		"run_id":      {},
		"request_id":  {},
		"trace_id":    {},
	}
}

// NewConfig builds a Config with the project defaults (enabled,
// checkpoint every 10 steps, the default ignore-key set, a 10MiB soft
// state-size limit) and applies opts on top.
func NewConfig(opts ...Option) (Config, error) {
	c := Config{
		Enabled:            true,
		CheckpointInterval: 10,
		IgnoreKeys:         DefaultIgnoreKeys(),
		MaxStateSizeBytes:  10 * 1024 * 1024,
		Logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.CheckpointInterval <= 0 {
		return Config{}, &ConfigError{Field: "CheckpointInterval", Message: "must be positive"}
	}
	return c, nil
}

// Collector records execution lifecycle events and node-level steps into
// a store, and fans them out to an emit.Emitter exactly as the host graph
// engine's own components do — Collector accepts the same emit.Emitter
// interface graph.Engine accepts, so graph/emit's LogEmitter, OTelEmitter,
// BufferedEmitter, and NullEmitter all work against it unmodified.
//
// Grounded on the original project's DebugCollector
// (core/collector.py): step counters keyed by execution ID, the
// checkpoint-interval policy, and lifecycle event fan-out on every
// start/end/step/routing transition.
type Collector struct {
	cfg     Config
	store   store.Store
	emitter emit.Emitter
	logger  *slog.Logger

	mu       sync.Mutex
	counters map[string]int

	metrics *Metrics
}

// SetMetrics attaches a Metrics instance the collector reports to on
// every recorded step. Optional — a Collector with no attached Metrics
// simply skips the Prometheus observation.
func (c *Collector) SetMetrics(m *Metrics) { c.metrics = m }

// NewCollector constructs a Collector. st and emitter must both be
// non-nil; pass emit.NewNullEmitter() to disable event fan-out without
// disabling recording.
func NewCollector(cfg Config, st store.Store, emitter emit.Emitter) (*Collector, error) {
	if st == nil {
		return nil, &ConfigError{Field: "store", Message: "must not be nil"}
	}
	if emitter == nil {
		return nil, &ConfigError{Field: "emitter", Message: "must not be nil"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:      cfg,
		store:    st,
		emitter:  emitter,
		logger:   logger,
		counters: make(map[string]int),
	}, nil
}

// Store exposes the underlying store so a caller can build a ReplayEngine
// or Reader against the same backend without threading a second
// reference through application wiring.
func (c *Collector) Store() store.Store { return c.store }

// Start begins a new execution and returns its ID. If executionID is
// empty, one is generated.
func (c *Collector) Start(ctx context.Context, executionID, graphName string, initialState map[string]any) (string, error) {
	if executionID == "" {
		executionID = newExecutionID()
	}
	now := time.Now().UTC()

	c.mu.Lock()
	c.counters[executionID] = 0
	c.mu.Unlock()

	exec := store.Execution{
		ExecutionID:  executionID,
		GraphName:    graphName,
		StartedAtRFC: now.Format(time.RFC3339Nano),
		Status:       string(StepRunning),
		InitialState: initialState,
		Metadata:     map[string]any{},
	}
	if err := c.store.SaveExecution(ctx, exec); err != nil {
		c.recordingError(ctx, "start_execution", err)
		return executionID, nil
	}

	c.emit(emit.Event{RunID: executionID, Msg: "execution_started", Meta: map[string]any{"graph_name": graphName}})
	return executionID, nil
}

// End finalizes an execution. Calling End twice for the same executionID
// is a no-op on the second call, matching the original project's
// idempotent end_execution.
func (c *Collector) End(ctx context.Context, executionID string, finalState map[string]any, status StepStatus) error {
	exec, err := c.store.GetExecution(ctx, executionID)
	if err != nil {
		c.recordingError(ctx, "end_execution", err)
		return nil
	}
	if exec.Status != string(StepRunning) {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	exec.EndedAtRFC = now
	exec.Status = string(status)
	exec.FinalState = finalState

	c.mu.Lock()
	exec.StepCount = c.counters[executionID]
	c.mu.Unlock()

	if err := c.store.UpdateExecution(ctx, exec); err != nil {
		c.recordingError(ctx, "end_execution", err)
		return nil
	}
	c.emit(emit.Event{RunID: executionID, Msg: "execution_ended", Meta: map[string]any{"status": string(status)}})
	return nil
}

// RecordStep records one node execution. On success stateAfter is the
// merged post-node state; on a node error, pass stateBefore as stateAfter
// and the node's error — the record reflects "nothing changed", matching
// the original adapter's behavior of re-raising without mutating state.
func (c *Collector) RecordStep(ctx context.Context, executionID, nodeName string, stateBefore, stateAfter map[string]any, stepErr error) ExecutionStep {
	idx := c.nextIndex(executionID)
	isCheckpoint := idx == 0 || idx%c.cfg.CheckpointInterval == 0

	before := tree.Serialize(stateBefore)
	after := tree.Serialize(stateAfter)
	d := diffpatch.Compute(before, after, c.cfg.IgnoreKeys)

	step := ExecutionStep{
		StepID:         newStepID(),
		ExecutionID:    executionID,
		NodeName:       nodeName,
		StepIndex:      idx,
		TimestampStart: time.Now().UTC(),
		Status:         StepCompleted,
		StateDiff:      d,
		IsCheckpoint:   isCheckpoint,
		Metadata:       map[string]any{},
	}
	if stepErr != nil {
		step.Status = StepFailed
		step.Error = stepErr.Error()
	}
	if isCheckpoint {
		step.StateBefore = stateBefore
		step.StateAfter = stateAfter
	}

	diffJSON, err := diffpatch.MarshalDiff(d)
	if err != nil {
		c.recordingError(ctx, "record_step", err)
		return step
	}

	overflow, size := c.checkOverflow(after)
	if overflow {
		step.Metadata["serialization_overflow"] = true
		step.Metadata["serialized_size_bytes"] = size
	}

	rec := store.Step{
		StepID:         step.StepID,
		ExecutionID:    executionID,
		NodeName:       nodeName,
		StepIndex:      idx,
		TimestampStart: step.TimestampStart.Format(time.RFC3339Nano),
		Status:         string(step.Status),
		StateDiffJSON:  string(diffJSON),
		IsCheckpoint:   isCheckpoint,
		Error:          step.Error,
		Metadata:       step.Metadata,
	}
	if isCheckpoint {
		rec.StateBefore = stateBefore
		rec.StateAfter = stateAfter
	}
	if err := c.store.SaveStep(ctx, rec); err != nil {
		c.recordingError(ctx, "record_step", err)
		return step
	}

	c.emit(emit.Event{
		RunID:  executionID,
		Step:   idx,
		NodeID: nodeName,
		Msg:    "step_recorded",
		Meta:   map[string]any{"is_checkpoint": isCheckpoint, "status": string(step.Status)},
	})
	c.metrics.observeStep(step)
	return step
}

// RecordRouting records a conditional edge evaluation.
func (c *Collector) RecordRouting(ctx context.Context, stepID, executionID, sourceNode, targetNode, description string, inputs map[string]any, value any) {
	d := store.RoutingDecision{
		StepID:               stepID,
		ExecutionID:          executionID,
		SourceNode:           sourceNode,
		TargetNode:           targetNode,
		ConditionDescription: description,
		ConditionInputs:      inputs,
		EvaluatedValue:       value,
	}
	if err := c.store.SaveRoutingDecision(ctx, d); err != nil {
		c.recordingError(ctx, "record_routing", err)
		return
	}
	c.emit(emit.Event{RunID: executionID, Msg: "routing_decision", Meta: map[string]any{"source": sourceNode, "target": targetNode}})
}

func (c *Collector) nextIndex(executionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.counters[executionID]
	c.counters[executionID] = idx + 1
	return idx
}

func (c *Collector) checkOverflow(v tree.Value) (bool, int64) {
	b, err := tree.Marshal(v)
	if err != nil {
		return false, 0
	}
	size := int64(len(b))
	return c.cfg.MaxStateSizeBytes > 0 && size > c.cfg.MaxStateSizeBytes, size
}

func (c *Collector) emit(e emit.Event) {
	defer func() { // an emitter panic must never reach the host graph's call chain
		if r := recover(); r != nil {
			c.recordingError(context.Background(), "emit", fmt.Errorf("emitter panic: %v", r))
		}
	}()
	c.emitter.Emit(e)
}

func (c *Collector) recordingError(_ context.Context, op string, err error) {
	c.logger.Warn("trace: recording error", "op", op, "err", (&RecordingError{Op: op, Err: err}).Error())
}

// --- process-wide singleton, mirroring get_collector/set_collector ---

var globalCollector atomic.Pointer[Collector]

// SetCollector installs the process-wide Collector. Call it once during
// startup; subsequent calls replace the previous collector.
func SetCollector(c *Collector) { globalCollector.Store(c) }

// GetCollector returns the process-wide Collector, or nil if none has
// been installed. Instrumentation wrappers given a nil collector call
// through unchanged and record nothing.
func GetCollector() *Collector { return globalCollector.Load() }

// EnsureCollector returns the process-wide collector, creating and
// installing one backed by a SQLite store at dbPath if none exists yet —
// the Go analogue of enable_debugging's lazy collector bootstrap.
func EnsureCollector(dbPath string, opts ...Option) (*Collector, error) {
	if c := GetCollector(); c != nil {
		return c, nil
	}
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("trace: ensure collector: %w", err)
	}
	c, err := NewCollector(cfg, st, emit.NewNullEmitter())
	if err != nil {
		return nil, err
	}
	SetCollector(c)
	return c, nil
}
