package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/troupelabs/troupe/errors"
)

// ToolStore handles tool definitions and their attachment to personas.
type ToolStore struct {
	db *sql.DB
}

// NewToolStore creates a new tool store
func NewToolStore(db *sql.DB) *ToolStore {
	return &ToolStore{db: db}
}

const toolColumns = `id, name, description, usage, schema, created_at`

func scanTool(row rowScanner) (*ToolDefinition, error) {
	var t ToolDefinition
	var usage, schema sql.NullString
	var createdAt string

	err := row.Scan(&t.ID, &t.Name, &t.Description, &usage, &schema, &createdAt)
	if err != nil {
		return nil, err
	}

	t.Usage = usage.String
	t.Schema = schema.String

	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at for tool %s", t.ID)
	}
	return &t, nil
}

// Create inserts a new tool definition. Names are unique.
func (s *ToolStore) Create(t *ToolDefinition) error {
	t.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO tool_definitions (` + toolColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	usage := sql.NullString{String: t.Usage, Valid: t.Usage != ""}
	schema := sql.NullString{String: t.Schema, Valid: t.Schema != ""}

	_, err := s.db.Exec(query, t.ID, t.Name, t.Description, usage, schema,
		t.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.Wrapf(errors.ErrConflict, "tool name %q already exists", t.Name)
		}
		return errors.Wrap(err, "failed to create tool definition")
	}
	return nil
}

// Get retrieves a tool definition by ID.
func (s *ToolStore) Get(id string) (*ToolDefinition, error) {
	query := `SELECT ` + toolColumns + ` FROM tool_definitions WHERE id = ?`

	t, err := scanTool(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "tool %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tool definition")
	}
	return t, nil
}

// List returns all tool definitions ordered by name.
func (s *ToolStore) List() ([]*ToolDefinition, error) {
	query := `SELECT ` + toolColumns + ` FROM tool_definitions ORDER BY name ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tool definitions")
	}
	defer rows.Close()

	var tools []*ToolDefinition
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan tool definition")
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

// Delete removes a tool definition and detaches it from all personas.
func (s *ToolStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM tool_definitions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete tool definition")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "tool %s", id)
	}
	return nil
}

// Attach links a tool to a persona. Attaching twice is a no-op.
func (s *ToolStore) Attach(personaID, toolID string) error {
	query := `
		INSERT INTO persona_tools (persona_id, tool_id)
		VALUES (?, ?)
		ON CONFLICT (persona_id, tool_id) DO NOTHING
	`
	_, err := s.db.Exec(query, personaID, toolID)
	if err != nil {
		return errors.Wrap(err, "failed to attach tool")
	}
	return nil
}

// Detach unlinks a tool from a persona.
func (s *ToolStore) Detach(personaID, toolID string) error {
	result, err := s.db.Exec(
		`DELETE FROM persona_tools WHERE persona_id = ? AND tool_id = ?`,
		personaID, toolID)
	if err != nil {
		return errors.Wrap(err, "failed to detach tool")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "tool %s not attached to persona %s", toolID, personaID)
	}
	return nil
}

// ListForPersona returns the tools attached to a persona ordered by name.
// Prompt assembly depends on this ordering being stable.
func (s *ToolStore) ListForPersona(personaID string) ([]*ToolDefinition, error) {
	query := `
		SELECT t.id, t.name, t.description, t.usage, t.schema, t.created_at
		FROM tool_definitions t
		JOIN persona_tools pt ON pt.tool_id = t.id
		WHERE pt.persona_id = ?
		ORDER BY t.name ASC
	`
	rows, err := s.db.Query(query, personaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list persona tools")
	}
	defer rows.Close()

	var tools []*ToolDefinition
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan tool definition")
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}
