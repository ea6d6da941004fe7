package store

import (
	"database/sql"
	"time"

	"github.com/troupelabs/troupe/errors"
)

// PersonaStore handles persistence of personas.
type PersonaStore struct {
	db *sql.DB
}

// NewPersonaStore creates a new persona store
func NewPersonaStore(db *sql.DB) *PersonaStore {
	return &PersonaStore{db: db}
}

const personaColumns = `id, project_id, user_id, name, description, system_prompt,
	structured_prompt, model_profile, max_concurrent, timeout_ms,
	budget_daily_usd, budget_monthly_usd, enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(row rowScanner) (*Persona, error) {
	var p Persona
	var userID, structuredPrompt, modelProfile sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID,
		&p.ProjectID,
		&userID,
		&p.Name,
		&p.Description,
		&p.SystemPrompt,
		&structuredPrompt,
		&modelProfile,
		&p.MaxConcurrent,
		&p.TimeoutMs,
		&p.BudgetDailyUSD,
		&p.BudgetMonthlyUSD,
		&p.Enabled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.UserID = userID.String
	p.StructuredPrompt = structuredPrompt.String
	p.ModelProfile = modelProfile.String

	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at for persona %s", p.ID)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for persona %s", p.ID)
	}
	return &p, nil
}

// Create inserts a new persona. MaxConcurrent defaults to 1 when unset.
func (s *PersonaStore) Create(p *Persona) error {
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = 1
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO personas (` + personaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	userID := sql.NullString{String: p.UserID, Valid: p.UserID != ""}
	structuredPrompt := sql.NullString{String: p.StructuredPrompt, Valid: p.StructuredPrompt != ""}
	modelProfile := sql.NullString{String: p.ModelProfile, Valid: p.ModelProfile != ""}

	_, err := s.db.Exec(query,
		p.ID,
		p.ProjectID,
		userID,
		p.Name,
		p.Description,
		p.SystemPrompt,
		structuredPrompt,
		modelProfile,
		p.MaxConcurrent,
		p.TimeoutMs,
		p.BudgetDailyUSD,
		p.BudgetMonthlyUSD,
		p.Enabled,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create persona")
	}
	return nil
}

// Get retrieves a persona by ID.
func (s *PersonaStore) Get(id string) (*Persona, error) {
	query := `SELECT ` + personaColumns + ` FROM personas WHERE id = ?`

	p, err := scanPersona(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "persona %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get persona")
	}
	return p, nil
}

// List returns personas, optionally filtered to a project, newest first.
func (s *PersonaStore) List(projectID string) ([]*Persona, error) {
	query := `SELECT ` + personaColumns + ` FROM personas`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC LIMIT 500`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list personas")
	}
	defer rows.Close()

	var personas []*Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan persona")
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

// Update rewrites the mutable fields of a persona.
func (s *PersonaStore) Update(p *Persona) error {
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = 1
	}
	query := `
		UPDATE personas
		SET name = ?, description = ?, system_prompt = ?, structured_prompt = ?,
		    model_profile = ?, max_concurrent = ?, timeout_ms = ?,
		    budget_daily_usd = ?, budget_monthly_usd = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`
	structuredPrompt := sql.NullString{String: p.StructuredPrompt, Valid: p.StructuredPrompt != ""}
	modelProfile := sql.NullString{String: p.ModelProfile, Valid: p.ModelProfile != ""}

	result, err := s.db.Exec(query,
		p.Name,
		p.Description,
		p.SystemPrompt,
		structuredPrompt,
		modelProfile,
		p.MaxConcurrent,
		p.TimeoutMs,
		p.BudgetDailyUSD,
		p.BudgetMonthlyUSD,
		p.Enabled,
		time.Now().UTC().Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update persona")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "persona %s", p.ID)
	}
	return nil
}

// Delete removes a persona. Attached tools, credentials, subscriptions and
// triggers go with it via foreign keys.
func (s *PersonaStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM personas WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete persona")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "persona %s", id)
	}
	return nil
}
