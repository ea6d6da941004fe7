package store

import (
	"database/sql"
	"time"

	"github.com/troupelabs/troupe/errors"
)

// CredentialStore persists encrypted connector credentials. Only ciphertext
// ever touches the database; decryption happens in memory at dispatch time.
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore creates a new credential store
func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

const credentialColumns = `id, persona_id, connector, ciphertext, iv, auth_tag, created_at`

func scanCredential(row rowScanner) (*Credential, error) {
	var c Credential
	var createdAt string

	err := row.Scan(&c.ID, &c.PersonaID, &c.Connector, &c.Ciphertext, &c.IV,
		&c.AuthTag, &createdAt)
	if err != nil {
		return nil, err
	}

	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at for credential %s", c.ID)
	}
	return &c, nil
}

// Put stores a credential, replacing any existing one for the same
// persona and connector.
func (s *CredentialStore) Put(c *Credential) error {
	c.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (persona_id, connector) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			iv = excluded.iv,
			auth_tag = excluded.auth_tag,
			created_at = excluded.created_at
	`
	_, err := s.db.Exec(query, c.ID, c.PersonaID, c.Connector, c.Ciphertext,
		c.IV, c.AuthTag, c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "failed to store credential")
	}
	return nil
}

// ListForPersona returns all encrypted credentials for a persona. Callers
// that serve read APIs must use ListConnectors instead.
func (s *CredentialStore) ListForPersona(personaID string) ([]*Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE persona_id = ?
		ORDER BY connector ASC
	`
	rows, err := s.db.Query(query, personaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list credentials")
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan credential")
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// ListConnectors returns only the connector names configured for a persona,
// for read APIs that must never expose stored material.
func (s *CredentialStore) ListConnectors(personaID string) ([]string, error) {
	query := `
		SELECT connector FROM credentials
		WHERE persona_id = ?
		ORDER BY connector ASC
	`
	rows, err := s.db.Query(query, personaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list connectors")
	}
	defer rows.Close()

	var connectors []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "failed to scan connector")
		}
		connectors = append(connectors, name)
	}
	return connectors, rows.Err()
}

// Delete removes a persona's credential for one connector.
func (s *CredentialStore) Delete(personaID, connector string) error {
	result, err := s.db.Exec(
		`DELETE FROM credentials WHERE persona_id = ? AND connector = ?`,
		personaID, connector)
	if err != nil {
		return errors.Wrap(err, "failed to delete credential")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "credential %s for persona %s", connector, personaID)
	}
	return nil
}
