package store

import (
	"database/sql"
	"time"

	"github.com/troupelabs/troupe/errors"
)

// ExecutionStore persists execution lifecycle and output. The database is the
// source of truth; the dispatcher's in-flight table is a cache over it.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const executionColumns = `id, persona_id, project_id, status, source, prompt,
	output, error_message, exit_code, duration_ms, session_id,
	total_cost_usd, worker_id, created_at, started_at, completed_at`

func scanExecution(row rowScanner) (*Execution, error) {
	var e Execution
	var personaID, projectID, errorMessage, sessionID, workerID sql.NullString
	var exitCode sql.NullInt64
	var durationMs sql.NullInt64
	var totalCost sql.NullFloat64
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(&e.ID, &personaID, &projectID, &e.Status, &e.Source,
		&e.Prompt, &e.Output, &errorMessage, &exitCode, &durationMs,
		&sessionID, &totalCost, &workerID, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	e.PersonaID = personaID.String
	e.ProjectID = projectID.String
	e.ErrorMessage = errorMessage.String
	e.SessionID = sessionID.String
	e.WorkerID = workerID.String

	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	if durationMs.Valid {
		e.DurationMs = &durationMs.Int64
	}
	if totalCost.Valid {
		e.TotalCostUSD = &totalCost.Float64
	}

	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at for execution %s", e.ID)
	}
	if startedAt.Valid {
		ts, err := time.Parse(time.RFC3339, startedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse started_at for execution %s", e.ID)
		}
		e.StartedAt = &ts
	}
	if completedAt.Valid {
		ts, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse completed_at for execution %s", e.ID)
		}
		e.CompletedAt = &ts
	}
	return &e, nil
}

// Create inserts a new execution in queued status.
func (s *ExecutionStore) Create(e *Execution) error {
	if e.Status == "" {
		e.Status = ExecStatusQueued
	}
	if e.Source == "" {
		e.Source = ExecSourceAPI
	}
	e.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO executions (id, persona_id, project_id, status, source, prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	personaID := sql.NullString{String: e.PersonaID, Valid: e.PersonaID != ""}
	projectID := sql.NullString{String: e.ProjectID, Valid: e.ProjectID != ""}

	_, err := s.db.Exec(query, e.ID, personaID, projectID, e.Status, e.Source,
		e.Prompt, e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}
	return nil
}

// Get retrieves an execution by ID.
func (s *ExecutionStore) Get(id string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = ?`

	e, err := scanExecution(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "execution %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get execution")
	}
	return e, nil
}

// List returns recent executions, newest first, optionally filtered by
// persona and status.
func (s *ExecutionStore) List(personaID, status string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	var args []any
	if personaID != "" {
		query += ` AND persona_id = ?`
		args = append(args, personaID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// MarkRunning transitions a queued execution to running on a worker.
func (s *ExecutionStore) MarkRunning(id, workerID string) error {
	query := `
		UPDATE executions
		SET status = ?, worker_id = ?, started_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := s.db.Exec(query, ExecStatusRunning, workerID,
		time.Now().UTC().Format(time.RFC3339), id, ExecStatusQueued)
	if err != nil {
		return errors.Wrap(err, "failed to mark execution running")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "queued execution %s", id)
	}
	return nil
}

// RevertQueued puts a running execution back in the queue, clearing its
// worker assignment. Used when a dispatch could not be completed.
func (s *ExecutionStore) RevertQueued(id string) error {
	query := `
		UPDATE executions
		SET status = ?, worker_id = NULL, started_at = NULL
		WHERE id = ?
	`
	result, err := s.db.Exec(query, ExecStatusQueued, id)
	if err != nil {
		return errors.Wrap(err, "failed to revert execution")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "execution %s", id)
	}
	return nil
}

// AppendOutput appends a chunk to the execution's accumulated output.
func (s *ExecutionStore) AppendOutput(id, chunk string) error {
	result, err := s.db.Exec(
		`UPDATE executions SET output = output || ? WHERE id = ?`, chunk, id)
	if err != nil {
		return errors.Wrap(err, "failed to append output")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "execution %s", id)
	}
	return nil
}

// FinalizeParams carries the completion report for an execution.
type FinalizeParams struct {
	Status       string
	ErrorMessage string
	ExitCode     *int
	DurationMs   *int64
	SessionID    string
	TotalCostUSD *float64
}

// Finalize records the terminal state of an execution. Already-finalized
// executions are left untouched so a late completion frame cannot overwrite
// a cancellation.
func (s *ExecutionStore) Finalize(id string, p FinalizeParams) error {
	query := `
		UPDATE executions
		SET status = ?, error_message = ?, exit_code = ?, duration_ms = ?,
		    session_id = ?, total_cost_usd = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)
	`
	errorMessage := sql.NullString{String: p.ErrorMessage, Valid: p.ErrorMessage != ""}
	sessionID := sql.NullString{String: p.SessionID, Valid: p.SessionID != ""}

	var exitCode sql.NullInt64
	if p.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*p.ExitCode), Valid: true}
	}
	var durationMs sql.NullInt64
	if p.DurationMs != nil {
		durationMs = sql.NullInt64{Int64: *p.DurationMs, Valid: true}
	}
	var totalCost sql.NullFloat64
	if p.TotalCostUSD != nil {
		totalCost = sql.NullFloat64{Float64: *p.TotalCostUSD, Valid: true}
	}

	result, err := s.db.Exec(query, p.Status, errorMessage, exitCode,
		durationMs, sessionID, totalCost,
		time.Now().UTC().Format(time.RFC3339),
		id, ExecStatusQueued, ExecStatusRunning)
	if err != nil {
		return errors.Wrap(err, "failed to finalize execution")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "active execution %s", id)
	}
	return nil
}

// CountRunning returns how many executions a persona currently has in
// running status.
func (s *ExecutionStore) CountRunning(personaID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM executions WHERE persona_id = ? AND status = ?`,
		personaID, ExecStatusRunning).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count running executions")
	}
	return count, nil
}

// FailOrphaned marks executions still queued or running as failed. Called
// once at startup: anything active in the database at boot belonged to a
// previous process and its worker is gone.
func (s *ExecutionStore) FailOrphaned(message string) (int64, error) {
	query := `
		UPDATE executions
		SET status = ?, error_message = ?, completed_at = ?
		WHERE status IN (?, ?)
	`
	result, err := s.db.Exec(query, ExecStatusFailed, message,
		time.Now().UTC().Format(time.RFC3339),
		ExecStatusQueued, ExecStatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to fail orphaned executions")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return rows, nil
}

// CostSince sums the recorded cost of a persona's executions completed at or
// after the cutoff. Budget tracking reads this at persona granularity.
func (s *ExecutionStore) CostSince(personaID string, cutoff time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT SUM(total_cost_usd) FROM executions
		WHERE persona_id = ? AND total_cost_usd IS NOT NULL AND completed_at >= ?
	`, personaID, cutoff.UTC().Format(time.RFC3339)).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum execution cost")
	}
	return total.Float64, nil
}
