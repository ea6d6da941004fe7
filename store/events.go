package store

import (
	"database/sql"
	"time"

	"github.com/troupelabs/troupe/errors"
)

// EventStore persists the append-only event queue.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates a new event store
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `id, event_type, source_type, source_id, target_persona_id,
	use_case_id, project_id, payload, status, status_message, created_at, processed_at`

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var sourceType, sourceID, targetPersonaID, useCaseID sql.NullString
	var payload, statusMessage, processedAt sql.NullString
	var createdAt string

	err := row.Scan(&e.ID, &e.EventType, &sourceType, &sourceID, &targetPersonaID,
		&useCaseID, &e.ProjectID, &payload, &e.Status, &statusMessage,
		&createdAt, &processedAt)
	if err != nil {
		return nil, err
	}

	e.SourceType = sourceType.String
	e.SourceID = sourceID.String
	e.TargetPersonaID = targetPersonaID.String
	e.UseCaseID = useCaseID.String
	e.Payload = payload.String
	e.StatusMessage = statusMessage.String

	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at for event %s", e.ID)
	}
	if processedAt.Valid {
		t, err := time.Parse(time.RFC3339, processedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse processed_at for event %s", e.ID)
		}
		e.ProcessedAt = &t
	}
	return &e, nil
}

// Create appends a new event in pending status.
func (s *EventStore) Create(e *Event) error {
	if e.Status == "" {
		e.Status = EventStatusPending
	}
	e.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO events (id, event_type, source_type, source_id, target_persona_id,
			use_case_id, project_id, payload, status, status_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	sourceType := sql.NullString{String: e.SourceType, Valid: e.SourceType != ""}
	sourceID := sql.NullString{String: e.SourceID, Valid: e.SourceID != ""}
	targetPersonaID := sql.NullString{String: e.TargetPersonaID, Valid: e.TargetPersonaID != ""}
	useCaseID := sql.NullString{String: e.UseCaseID, Valid: e.UseCaseID != ""}
	payload := sql.NullString{String: e.Payload, Valid: e.Payload != ""}
	statusMessage := sql.NullString{String: e.StatusMessage, Valid: e.StatusMessage != ""}

	_, err := s.db.Exec(query, e.ID, e.EventType, sourceType, sourceID,
		targetPersonaID, useCaseID, e.ProjectID, payload, e.Status,
		statusMessage, e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "failed to create event")
	}
	return nil
}

// Get retrieves an event by ID.
func (s *EventStore) Get(id string) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`

	e, err := scanEvent(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "event %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get event")
	}
	return e, nil
}

// ListPending returns up to limit pending events, oldest first.
func (s *EventStore) ListPending(limit int) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`
	rows, err := s.db.Query(query, EventStatusPending, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending events")
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// List returns recent events for a project, newest first. An empty projectID
// lists across projects.
func (s *EventStore) List(projectID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkProcessing transitions a pending event to processing. Returns false
// without error when another processor already claimed the event, so ticks
// overlapping on a slow cycle never double-deliver.
func (s *EventStore) MarkProcessing(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE events SET status = ? WHERE id = ? AND status = ?`,
		EventStatusProcessing, id, EventStatusPending)
	if err != nil {
		return false, errors.Wrap(err, "failed to mark event processing")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows > 0, nil
}

// SetStatus records the terminal status of an event and stamps processed_at.
func (s *EventStore) SetStatus(id, status, message string) error {
	query := `
		UPDATE events
		SET status = ?, status_message = ?, processed_at = ?
		WHERE id = ?
	`
	statusMessage := sql.NullString{String: message, Valid: message != ""}

	result, err := s.db.Exec(query, status, statusMessage,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrap(err, "failed to set event status")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "event %s", id)
	}
	return nil
}
