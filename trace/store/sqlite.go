package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default, zero-setup Store backend, grounded on the
// host graph engine's own SQLiteStore[S] (graph/store/sqlite.go): same
// pure-Go driver, same WAL/busy_timeout/foreign_keys pragmas, same
// single-writer connection pool, applied to the
// executions/steps/routing_decisions schema instead of workflow_steps.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteStore opens (and migrates, if needed) a SQLite-backed trace
// store at path. ":memory:" opens an in-process, non-persistent database,
// useful for tests that still want to exercise the SQL code path instead
// of MemStore.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrStorageUnavailable, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create tables: %v", ErrStorageUnavailable, err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id   TEXT PRIMARY KEY,
			graph_name     TEXT NOT NULL,
			started_at     TEXT NOT NULL,
			ended_at       TEXT,
			status         TEXT NOT NULL DEFAULT 'running',
			initial_state  TEXT NOT NULL DEFAULT '{}',
			final_state    TEXT,
			step_count     INTEGER NOT NULL DEFAULT 0,
			metadata       TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			step_id         TEXT PRIMARY KEY,
			execution_id    TEXT NOT NULL,
			node_name       TEXT NOT NULL,
			step_index      INTEGER NOT NULL,
			timestamp_start TEXT NOT NULL,
			timestamp_end   TEXT,
			status          TEXT NOT NULL DEFAULT 'running',
			state_before    TEXT,
			state_after     TEXT,
			state_diff      TEXT NOT NULL DEFAULT '{"changed":[],"added":[],"removed":[]}',
			is_checkpoint   INTEGER NOT NULL DEFAULT 0,
			error           TEXT,
			metadata        TEXT NOT NULL DEFAULT '{}',
			FOREIGN KEY (execution_id) REFERENCES executions(execution_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_execution ON steps(execution_id, step_index)`,
		`CREATE TABLE IF NOT EXISTS routing_decisions (
			id                    INTEGER PRIMARY KEY AUTOINCREMENT,
			step_id               TEXT NOT NULL,
			execution_id          TEXT NOT NULL,
			source_node           TEXT NOT NULL,
			target_node           TEXT NOT NULL,
			condition_description TEXT NOT NULL DEFAULT '',
			condition_inputs      TEXT NOT NULL DEFAULT '{}',
			evaluated_value       TEXT,
			FOREIGN KEY (step_id) REFERENCES steps(step_id),
			FOREIGN KEY (execution_id) REFERENCES executions(execution_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_execution ON routing_decisions(execution_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) SaveExecution(ctx context.Context, exec Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	initial, err := marshalAny(exec.InitialState)
	if err != nil {
		return err
	}
	final, err := marshalAnyPtr(exec.FinalState)
	if err != nil {
		return err
	}
	meta, err := marshalAny(exec.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions
			(execution_id, graph_name, started_at, ended_at, status, initial_state, final_state, step_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			graph_name = excluded.graph_name,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			status = excluded.status,
			initial_state = excluded.initial_state,
			final_state = excluded.final_state,
			step_count = excluded.step_count,
			metadata = excluded.metadata
	`, exec.ExecutionID, exec.GraphName, exec.StartedAtRFC, nullableString(exec.EndedAtRFC),
		exec.Status, initial, final, exec.StepCount, meta)
	if err != nil {
		return fmt.Errorf("trace/store: save execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	final, err := marshalAnyPtr(exec.FinalState)
	if err != nil {
		return err
	}
	meta, err := marshalAny(exec.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET ended_at = ?, status = ?, final_state = ?, step_count = ?, metadata = ?
		WHERE execution_id = ?
	`, nullableString(exec.EndedAtRFC), exec.Status, final, exec.StepCount, meta, exec.ExecutionID)
	if err != nil {
		return fmt.Errorf("trace/store: update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetExecution(ctx context.Context, executionID string) (Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT * FROM executions WHERE execution_id = ?`, executionID)
	return scanExecution(row)
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, opts ListOptions) ([]Execution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM executions ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("trace/store: list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveStep(ctx context.Context, step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := marshalAnyPtr(step.StateBefore)
	if err != nil {
		return err
	}
	after, err := marshalAnyPtr(step.StateAfter)
	if err != nil {
		return err
	}
	meta, err := marshalAny(step.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO steps
			(step_id, execution_id, node_name, step_index, timestamp_start, timestamp_end,
			 status, state_before, state_after, state_diff, is_checkpoint, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, step.StepID, step.ExecutionID, step.NodeName, step.StepIndex, step.TimestampStart,
		nullableString(step.TimestampEnd), step.Status, before, after, step.StateDiffJSON,
		boolToInt(step.IsCheckpoint), nullableString(step.Error), meta)
	if err != nil {
		return fmt.Errorf("trace/store: save step: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetStep(ctx context.Context, stepID string) (Step, error) {
	row := s.db.QueryRowContext(ctx, `SELECT * FROM steps WHERE step_id = ?`, stepID)
	return scanStep(row)
}

func (s *SQLiteStore) ListSteps(ctx context.Context, executionID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM steps WHERE execution_id = ? ORDER BY step_index ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("trace/store: list steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveRoutingDecision(ctx context.Context, d RoutingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inputs, err := marshalAny(d.ConditionInputs)
	if err != nil {
		return err
	}
	value, err := marshalAny(d.EvaluatedValue)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routing_decisions
			(step_id, execution_id, source_node, target_node, condition_description, condition_inputs, evaluated_value)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.StepID, d.ExecutionID, d.SourceNode, d.TargetNode, d.ConditionDescription, inputs, value)
	if err != nil {
		return fmt.Errorf("trace/store: save routing decision: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRoutingDecisions(ctx context.Context, executionID string) ([]RoutingDecision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, execution_id, source_node, target_node, condition_description, condition_inputs, evaluated_value
		 FROM routing_decisions WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("trace/store: list routing decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RoutingDecision
	for rows.Next() {
		var d RoutingDecision
		var inputsJSON, valueJSON string
		if err := rows.Scan(&d.StepID, &d.ExecutionID, &d.SourceNode, &d.TargetNode,
			&d.ConditionDescription, &inputsJSON, &valueJSON); err != nil {
			return nil, fmt.Errorf("trace/store: scan routing decision: %w", err)
		}
		if err := json.Unmarshal([]byte(inputsJSON), &d.ConditionInputs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(valueJSON), &d.EvaluatedValue); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetStateAtStep(ctx context.Context, executionID string, stepIndex int) (map[string]any, error) {
	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	steps, err := s.ListSteps(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return reconstruct(exec.InitialState, steps, stepIndex)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (Execution, error) {
	var (
		e                       Execution
		endedAt, finalState     sql.NullString
		initialState, metadata string
	)
	if err := row.Scan(&e.ExecutionID, &e.GraphName, &e.StartedAtRFC, &endedAt, &e.Status,
		&initialState, &finalState, &e.StepCount, &metadata); err != nil {
		if err == sql.ErrNoRows {
			return Execution{}, ErrNotFound
		}
		return Execution{}, fmt.Errorf("trace/store: scan execution: %w", err)
	}
	e.EndedAtRFC = endedAt.String
	if err := json.Unmarshal([]byte(initialState), &e.InitialState); err != nil {
		return Execution{}, err
	}
	if finalState.Valid {
		if err := json.Unmarshal([]byte(finalState.String), &e.FinalState); err != nil {
			return Execution{}, err
		}
	}
	if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
		return Execution{}, err
	}
	return e, nil
}

func scanStep(row rowScanner) (Step, error) {
	var (
		st                                   Step
		timestampEnd, stateBefore, stateAfter, stepErr sql.NullString
		isCheckpoint                         int
		metadata                             string
	)
	if err := row.Scan(&st.StepID, &st.ExecutionID, &st.NodeName, &st.StepIndex, &st.TimestampStart,
		&timestampEnd, &st.Status, &stateBefore, &stateAfter, &st.StateDiffJSON, &isCheckpoint,
		&stepErr, &metadata); err != nil {
		if err == sql.ErrNoRows {
			return Step{}, ErrNotFound
		}
		return Step{}, fmt.Errorf("trace/store: scan step: %w", err)
	}
	st.TimestampEnd = timestampEnd.String
	st.IsCheckpoint = isCheckpoint != 0
	st.Error = stepErr.String
	if stateBefore.Valid {
		if err := json.Unmarshal([]byte(stateBefore.String), &st.StateBefore); err != nil {
			return Step{}, err
		}
	}
	if stateAfter.Valid {
		if err := json.Unmarshal([]byte(stateAfter.String), &st.StateAfter); err != nil {
			return Step{}, err
		}
	}
	if err := json.Unmarshal([]byte(metadata), &st.Metadata); err != nil {
		return Step{}, err
	}
	return st, nil
}

func marshalAny(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("trace/store: marshal: %w", err)
	}
	return string(b), nil
}

func marshalAnyPtr(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("trace/store: marshal: %w", err)
	}
	return string(b), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
