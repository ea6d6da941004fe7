package pool

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"

	"github.com/troupelabs/troupe/errors"
)

// sessionTokenTTL bounds JWT session tokens. Workers reconnect and re-hello
// well inside this window.
const sessionTokenTTL = 24 * time.Hour

// mintSessionToken issues the per-session token carried in the ack frame.
// With a session secret configured it is a signed JWT the worker can present
// to sibling services; otherwise an opaque random token.
func mintSessionToken(secret, workerID string) (string, error) {
	if secret == "" {
		raw := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, raw); err != nil {
			return "", errors.Wrap(err, "failed to generate session token")
		}
		return base58.Encode(raw), nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": workerID,
		"iss": "troupe",
		"iat": now.Unix(),
		"exp": now.Add(sessionTokenTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign session token")
	}
	return signed, nil
}
