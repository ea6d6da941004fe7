package store

import (
	"database/sql"
	"time"

	"github.com/troupelabs/troupe/errors"
)

// TriggerStore persists scheduled triggers.
type TriggerStore struct {
	db *sql.DB
}

// NewTriggerStore creates a new trigger store
func NewTriggerStore(db *sql.DB) *TriggerStore {
	return &TriggerStore{db: db}
}

const triggerColumns = `id, project_id, persona_id, trigger_type, config, enabled,
	use_case_id, last_triggered_at, next_trigger_at, created_at`

func scanTrigger(row rowScanner) (*Trigger, error) {
	var t Trigger
	var config, useCaseID, lastTriggered, nextTrigger sql.NullString
	var createdAt string

	err := row.Scan(&t.ID, &t.ProjectID, &t.PersonaID, &t.TriggerType, &config,
		&t.Enabled, &useCaseID, &lastTriggered, &nextTrigger, &createdAt)
	if err != nil {
		return nil, err
	}

	t.Config = config.String
	t.UseCaseID = useCaseID.String

	if lastTriggered.Valid {
		ts, err := time.Parse(time.RFC3339, lastTriggered.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse last_triggered_at for trigger %s", t.ID)
		}
		t.LastTriggeredAt = &ts
	}
	if nextTrigger.Valid {
		ts, err := time.Parse(time.RFC3339, nextTrigger.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse next_trigger_at for trigger %s", t.ID)
		}
		t.NextTriggerAt = &ts
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at for trigger %s", t.ID)
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// Create inserts a new trigger.
func (s *TriggerStore) Create(t *Trigger) error {
	if t.TriggerType == "" {
		t.TriggerType = TriggerTypeSchedule
	}
	t.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO triggers (` + triggerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	config := sql.NullString{String: t.Config, Valid: t.Config != ""}
	useCaseID := sql.NullString{String: t.UseCaseID, Valid: t.UseCaseID != ""}

	_, err := s.db.Exec(query, t.ID, t.ProjectID, t.PersonaID, t.TriggerType,
		config, t.Enabled, useCaseID, nullTime(t.LastTriggeredAt),
		nullTime(t.NextTriggerAt), t.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "failed to create trigger")
	}
	return nil
}

// Get retrieves a trigger by ID.
func (s *TriggerStore) Get(id string) (*Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE id = ?`

	t, err := scanTrigger(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "trigger %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get trigger")
	}
	return t, nil
}

// List returns triggers, optionally filtered to a persona.
func (s *TriggerStore) List(personaID string) ([]*Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers`
	var args []any
	if personaID != "" {
		query += ` WHERE persona_id = ?`
		args = append(args, personaID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list triggers")
	}
	defer rows.Close()

	var triggers []*Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan trigger")
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// Due returns enabled triggers whose next fire time has arrived. Triggers
// that have never been scheduled (next_trigger_at NULL) are due immediately.
func (s *TriggerStore) Due(now time.Time) ([]*Trigger, error) {
	query := `
		SELECT ` + triggerColumns + `
		FROM triggers
		WHERE enabled = 1 AND (next_trigger_at IS NULL OR next_trigger_at <= ?)
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(query, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due triggers")
	}
	defer rows.Close()

	var triggers []*Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan trigger")
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// UpdateTimings records a firing and the computed next fire time.
func (s *TriggerStore) UpdateTimings(id string, lastTriggered, nextTrigger time.Time) error {
	query := `
		UPDATE triggers
		SET last_triggered_at = ?, next_trigger_at = ?
		WHERE id = ?
	`
	result, err := s.db.Exec(query,
		lastTriggered.UTC().Format(time.RFC3339),
		nextTrigger.UTC().Format(time.RFC3339),
		id)
	if err != nil {
		return errors.Wrap(err, "failed to update trigger timings")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "trigger %s", id)
	}
	return nil
}

// SetEnabled flips a trigger on or off.
func (s *TriggerStore) SetEnabled(id string, enabled bool) error {
	result, err := s.db.Exec(`UPDATE triggers SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return errors.Wrap(err, "failed to update trigger")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "trigger %s", id)
	}
	return nil
}

// Delete removes a trigger.
func (s *TriggerStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete trigger")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "trigger %s", id)
	}
	return nil
}
