package secrets

import (
	"encoding/json"
	"strings"

	"github.com/troupelabs/troupe/errors"
)

// Materializer turns stored credentials into worker environment variables.
// Field values go straight from the decrypt buffer into the env map handed
// to the dispatcher; nothing here logs or retains them.
type Materializer struct {
	key *MasterKey
}

// NewMaterializer creates a materializer over the master key. A nil key is
// allowed and makes Materialize fail, for deployments without a passphrase.
func NewMaterializer(key *MasterKey) *Materializer {
	return &Materializer{key: key}
}

// Enabled reports whether a master key is configured.
func (m *Materializer) Enabled() bool {
	return m.key != nil
}

// Materialize decrypts one connector credential into env entries. A flat
// JSON object of string fields becomes one CONNECTOR_<NAME>_<FIELD> entry
// per field; any other plaintext is injected whole under the base name.
func (m *Materializer) Materialize(connector string, s *Sealed) (map[string]string, error) {
	if m.key == nil {
		return nil, errors.Wrapf(errors.ErrDecryptFailed, "no credential passphrase configured")
	}

	plaintext, err := m.key.Decrypt(s)
	if err != nil {
		return nil, errors.Wrapf(err, "connector %s", connector)
	}

	var fields map[string]string
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return map[string]string{BaseKey(connector): string(plaintext)}, nil
	}

	env := make(map[string]string, len(fields))
	for field, value := range fields {
		env[EnvKey(connector, field)] = value
	}
	return env, nil
}

// BaseKey builds the base environment variable name for a connector,
// e.g. "github" -> "CONNECTOR_GITHUB". Prompt assembly advertises these
// names as credential hints.
func BaseKey(connector string) string {
	return "CONNECTOR_" + sanitize(connector)
}

// EnvKey builds the environment variable name for one credential field,
// e.g. ("github", "api-token") -> "CONNECTOR_GITHUB_API_TOKEN".
func EnvKey(connector, field string) string {
	return BaseKey(connector) + "_" + sanitize(field)
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
