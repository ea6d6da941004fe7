package commands

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/mr-tron/base58"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/troupelabs/troupe/am"
	"github.com/troupelabs/troupe/errors"
	"github.com/troupelabs/troupe/secrets"
)

// KeygenCmd mints the shared secrets the orchestrator runs on
var KeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate worker tokens, API keys, and credential passphrases",
	Long: `Generate the shared secrets the orchestrator runs on.

Each secret is printed exactly once and persisted to the local overrides
file (~/.troupe/troupe_local.toml). The API key itself is never stored;
only its SHA-256 hash is. A running orchestrator reads these values at
startup, so restart serve after rotating.

Examples:
  troupe keygen worker-token      # Mint the shared worker connect token
  troupe keygen api-key           # Mint a team API key (hash persisted)
  troupe keygen passphrase        # Mint the credential master passphrase`,
}

var keygenWorkerTokenCmd = &cobra.Command{
	Use:   "worker-token",
	Short: "Mint and persist the shared worker connect token",
	Long: `Mint a new shared worker token and persist it to the local overrides file.

Workers present this token as ?token= when connecting. Rotating it cuts
off workers still carrying the old one at their next reconnect.`,
	RunE: runKeygenWorkerToken,
}

var keygenAPIKeyCmd = &cobra.Command{
	Use:   "api-key",
	Short: "Mint a team API key and persist its hash",
	Long: `Mint a new team API key.

The key is printed once; only its SHA-256 hash is persisted. Clients send
the key in the "X-API-Key" header.`,
	RunE: runKeygenAPIKey,
}

var keygenPassphraseCmd = &cobra.Command{
	Use:   "passphrase",
	Short: "Mint and persist the credential master passphrase",
	Long: `Mint a new credential master passphrase and persist it to the local
overrides file.

Rotating the passphrase makes credentials sealed under the old one
undecryptable; re-enter them after rotating.`,
	RunE: runKeygenPassphrase,
}

func init() {
	KeygenCmd.AddCommand(keygenWorkerTokenCmd)
	KeygenCmd.AddCommand(keygenAPIKeyCmd)
	KeygenCmd.AddCommand(keygenPassphraseCmd)
}

func runKeygenWorkerToken(cmd *cobra.Command, args []string) error {
	tok, err := mintKey(32)
	if err != nil {
		return errors.Wrap(err, "failed to generate worker token")
	}
	if err := am.UpdateWorkersToken(tok); err != nil {
		return errors.Wrap(err, "failed to persist worker token")
	}

	pterm.Success.Printf("Worker token saved to %s\n", am.LocalOverridesPath())
	pterm.Printf("\n  %s\n\n", tok)
	pterm.Warning.Println("Hand this token to workers; it will not be shown again.")
	pterm.Info.Println("Restart serve for the new token to take effect.")
	return nil
}

func runKeygenAPIKey(cmd *cobra.Command, args []string) error {
	key, err := mintKey(32)
	if err != nil {
		return errors.Wrap(err, "failed to generate API key")
	}

	hash := sha256.Sum256([]byte(key))
	if err := am.UpdateServerAPIKeyHash(hex.EncodeToString(hash[:])); err != nil {
		return errors.Wrap(err, "failed to persist API key hash")
	}

	pterm.Success.Printf("API key hash saved to %s\n", am.LocalOverridesPath())
	pterm.Printf("\n  %s\n\n", key)
	pterm.Warning.Println("Save this key now; only its hash is stored and it cannot be recovered.")
	pterm.Info.Println("Restart serve for API authentication to use the new key.")
	return nil
}

func runKeygenPassphrase(cmd *cobra.Command, args []string) error {
	passphrase, err := secrets.GeneratePassphrase()
	if err != nil {
		return errors.Wrap(err, "failed to generate credential passphrase")
	}
	if err := am.UpdateSecretsPassphrase(passphrase); err != nil {
		return errors.Wrap(err, "failed to persist credential passphrase")
	}

	pterm.Success.Printf("Credential passphrase saved to %s\n", am.LocalOverridesPath())
	pterm.Warning.Println("Credentials sealed under the previous passphrase can no longer be decrypted; re-enter them.")
	pterm.Info.Println("Restart serve for the new passphrase to take effect.")
	return nil
}

// mintKey returns n random bytes base58-encoded, the same alphabet used for
// worker session tokens.
func mintKey(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return base58.Encode(raw), nil
}
