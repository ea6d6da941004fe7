package store

import (
	"database/sql"
	"time"

	"github.com/troupelabs/troupe/errors"
)

// SubscriptionStore persists event subscriptions.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore creates a new subscription store
func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `id, project_id, event_type, target_persona_id,
	source_filter, enabled, created_at`

func scanSubscription(row rowScanner) (*Subscription, error) {
	var sub Subscription
	var sourceFilter sql.NullString
	var createdAt string

	err := row.Scan(&sub.ID, &sub.ProjectID, &sub.EventType, &sub.TargetPersonaID,
		&sourceFilter, &sub.Enabled, &createdAt)
	if err != nil {
		return nil, err
	}

	sub.SourceFilter = sourceFilter.String

	if sub.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at for subscription %s", sub.ID)
	}
	return &sub, nil
}

// Create inserts a new subscription.
func (s *SubscriptionStore) Create(sub *Subscription) error {
	sub.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO event_subscriptions (` + subscriptionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	sourceFilter := sql.NullString{String: sub.SourceFilter, Valid: sub.SourceFilter != ""}

	_, err := s.db.Exec(query, sub.ID, sub.ProjectID, sub.EventType,
		sub.TargetPersonaID, sourceFilter, sub.Enabled,
		sub.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "failed to create subscription")
	}
	return nil
}

// Get retrieves a subscription by ID.
func (s *SubscriptionStore) Get(id string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM event_subscriptions WHERE id = ?`

	sub, err := scanSubscription(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "subscription %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get subscription")
	}
	return sub, nil
}

// List returns subscriptions, optionally filtered to a project.
func (s *SubscriptionStore) List(projectID string) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM event_subscriptions`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list subscriptions")
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan subscription")
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Matching returns enabled subscriptions for an event type. A non-empty
// projectID scopes the result to that project; empty matches across all
// projects, which is how default-project events fan out. Per-event narrowing
// (source filter, target persona) happens in the processor, which knows what
// the concrete event carries.
func (s *SubscriptionStore) Matching(projectID, eventType string) ([]*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM event_subscriptions
		WHERE event_type = ? AND enabled = 1
	`
	args := []any{eventType}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to match subscriptions")
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan subscription")
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SetEnabled flips a subscription on or off.
func (s *SubscriptionStore) SetEnabled(id string, enabled bool) error {
	result, err := s.db.Exec(
		`UPDATE event_subscriptions SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return errors.Wrap(err, "failed to update subscription")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "subscription %s", id)
	}
	return nil
}

// Delete removes a subscription.
func (s *SubscriptionStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM event_subscriptions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete subscription")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "subscription %s", id)
	}
	return nil
}
