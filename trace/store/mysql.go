package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the production Store backend for deployments that already
// run MySQL/MariaDB for the host graph engine's own checkpoints
// (graph/store/mysql.go) — connection pool sizing and DSN handling are
// grounded directly on that file.
//
// Security warning carried over unchanged from the host engine: never
// hardcode credentials; read the DSN from an environment variable.
type MySQLStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewMySQLStore opens a MySQL-backed trace store using dsn, in the
// "[username[:password]@][protocol[(address)]]/dbname[?params]" format
// the go-sql-driver/mysql package expects.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open mysql: %v", ErrStorageUnavailable, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping mysql: %v", ErrStorageUnavailable, err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create tables: %v", ErrStorageUnavailable, err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id   VARCHAR(64) PRIMARY KEY,
			graph_name     VARCHAR(255) NOT NULL,
			started_at     VARCHAR(64) NOT NULL,
			ended_at       VARCHAR(64),
			status         VARCHAR(32) NOT NULL DEFAULT 'running',
			initial_state  JSON NOT NULL,
			final_state    JSON,
			step_count     INT NOT NULL DEFAULT 0,
			metadata       JSON NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS steps (
			step_id         VARCHAR(64) PRIMARY KEY,
			execution_id    VARCHAR(64) NOT NULL,
			node_name       VARCHAR(255) NOT NULL,
			step_index      INT NOT NULL,
			timestamp_start VARCHAR(64) NOT NULL,
			timestamp_end   VARCHAR(64),
			status          VARCHAR(32) NOT NULL DEFAULT 'running',
			state_before    JSON,
			state_after     JSON,
			state_diff      JSON NOT NULL,
			is_checkpoint   TINYINT NOT NULL DEFAULT 0,
			error           TEXT,
			metadata        JSON NOT NULL,
			INDEX idx_steps_execution (execution_id, step_index),
			CONSTRAINT fk_steps_execution FOREIGN KEY (execution_id) REFERENCES executions(execution_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS routing_decisions (
			id                    BIGINT AUTO_INCREMENT PRIMARY KEY,
			step_id               VARCHAR(64) NOT NULL,
			execution_id          VARCHAR(64) NOT NULL,
			source_node           VARCHAR(255) NOT NULL,
			target_node           VARCHAR(255) NOT NULL,
			condition_description TEXT NOT NULL,
			condition_inputs      JSON NOT NULL,
			evaluated_value       JSON,
			INDEX idx_routing_execution (execution_id),
			CONSTRAINT fk_routing_step FOREIGN KEY (step_id) REFERENCES steps(step_id),
			CONSTRAINT fk_routing_execution FOREIGN KEY (execution_id) REFERENCES executions(execution_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) SaveExecution(ctx context.Context, exec Execution) error {
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
		ON DUPLICATE KEY UPDATE
			graph_name = VALUES(graph_name),
			started_at = VALUES(started_at),
			ended_at = VALUES(ended_at),
			status = VALUES(status),
			initial_state = VALUES(initial_state),
			final_state = VALUES(final_state),
			step_count = VALUES(step_count),
			metadata = VALUES(metadata)
	`, exec.ExecutionID, exec.GraphName, exec.StartedAtRFC, nullableString(exec.EndedAtRFC),
		exec.Status, initial, final, exec.StepCount, meta)
	if err != nil {
		return fmt.Errorf("trace/store: save execution: %w", err)
	}
	return nil
}

func (s *MySQLStore) UpdateExecution(ctx context.Context, exec Execution) error {
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

func (s *MySQLStore) GetExecution(ctx context.Context, executionID string) (Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT execution_id, graph_name, started_at, ended_at, status, initial_state, final_state, step_count, metadata
		 FROM executions WHERE execution_id = ?`, executionID)
	return scanExecution(row)
}

func (s *MySQLStore) ListExecutions(ctx context.Context, opts ListOptions) ([]Execution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, graph_name, started_at, ended_at, status, initial_state, final_state, step_count, metadata
		 FROM executions ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, opts.Offset)
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

func (s *MySQLStore) SaveStep(ctx context.Context, step Step) error {
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

func (s *MySQLStore) GetStep(ctx context.Context, stepID string) (Step, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT step_id, execution_id, node_name, step_index, timestamp_start, timestamp_end,
		       status, state_before, state_after, state_diff, is_checkpoint, error, metadata
		FROM steps WHERE step_id = ?`, stepID)
	return scanStep(row)
}

func (s *MySQLStore) ListSteps(ctx context.Context, executionID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, execution_id, node_name, step_index, timestamp_start, timestamp_end,
		       status, state_before, state_after, state_diff, is_checkpoint, error, metadata
		FROM steps WHERE execution_id = ? ORDER BY step_index ASC`, executionID)
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

func (s *MySQLStore) SaveRoutingDecision(ctx context.Context, d RoutingDecision) error {
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

func (s *MySQLStore) GetRoutingDecisions(ctx context.Context, executionID string) ([]RoutingDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, execution_id, source_node, target_node, condition_description, condition_inputs, evaluated_value
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

func (s *MySQLStore) GetStateAtStep(ctx context.Context, executionID string, stepIndex int) (map[string]any, error) {
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

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
