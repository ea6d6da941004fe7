// Package secrets encrypts connector credentials at rest with AES-256-GCM.
// The master key is derived from an operator passphrase; decrypted material
// exists only in memory on its way into a worker's environment and is never
// logged or persisted.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/troupelabs/troupe/errors"
)

const (
	// KeySize is the AES key size in bytes (256 bits).
	KeySize = 32

	// NonceSize is the AES-GCM nonce size in bytes.
	NonceSize = 12

	// PBKDF2Iterations is the key derivation work factor.
	PBKDF2Iterations = 100000
)

// keySalt pins the derivation so one passphrase always yields one key.
// Changing it invalidates every stored credential.
var keySalt = []byte("troupe.credentials.v1")

// Sealed is an encrypted credential blob as it is stored: the GCM
// ciphertext, nonce and authentication tag, each base64-encoded.
type Sealed struct {
	Ciphertext string
	IV         string
	AuthTag    string
}

// MasterKey is the derived credential encryption key.
type MasterKey struct {
	key [KeySize]byte
}

// NewMasterKey derives a master key from a passphrase.
func NewMasterKey(passphrase string) (*MasterKey, error) {
	if passphrase == "" {
		return nil, errors.New("credential passphrase cannot be empty")
	}
	derived := pbkdf2.Key([]byte(passphrase), keySalt, PBKDF2Iterations, KeySize, sha256.New)

	mk := &MasterKey{}
	copy(mk.key[:], derived)
	return mk, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (mk *MasterKey) Encrypt(plaintext []byte) (*Sealed, error) {
	gcm, err := mk.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	tagAt := len(sealed) - gcm.Overhead()

	return &Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagAt]),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[tagAt:]),
	}, nil
}

// Decrypt opens a sealed blob. A wrong key, corrupted field or tampered
// ciphertext yields ErrDecryptFailed without detail.
func (mk *MasterKey) Decrypt(s *Sealed) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return nil, errors.ErrDecryptFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(s.IV)
	if err != nil {
		return nil, errors.ErrDecryptFailed
	}
	tag, err := base64.StdEncoding.DecodeString(s.AuthTag)
	if err != nil {
		return nil, errors.ErrDecryptFailed
	}

	gcm, err := mk.aead()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return nil, errors.ErrDecryptFailed
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, errors.ErrDecryptFailed
	}
	return plaintext, nil
}

func (mk *MasterKey) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(mk.key[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCM")
	}
	return gcm, nil
}

// GeneratePassphrase returns a random passphrase suitable for the
// credential_passphrase config setting.
func GeneratePassphrase() (string, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", errors.Wrap(err, "failed to generate passphrase")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
