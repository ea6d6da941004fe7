package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/troupelabs/troupe/cmd/troupe/commands"
	"github.com/troupelabs/troupe/logger"
)

var rootCmd = &cobra.Command{
	Use:   "troupe",
	Short: "Troupe - Persona execution orchestrator",
	Long: `Troupe - Multi-tenant persona execution orchestrator.

Troupe queues persona executions, dispatches them to registered workers
over WebSocket, and turns events and schedules into new work.

Available commands:
  serve   - Start the orchestrator (API + worker listeners)
  config  - Manage troupe configuration
  db      - Manage troupe database operations
  keygen  - Generate worker tokens, API keys, and credential passphrases
  version - Show troupe version information

Examples:
  troupe serve                  # Start the orchestrator in foreground
  troupe config show            # Show current configuration
  troupe keygen worker-token    # Mint and persist a worker token
  troupe db stats               # Show database statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize global logger before any command runs
		// Skip for commands whose output must stay machine-readable (like 'config show')
		if cmd.Name() == "show" || cmd.Name() == "get" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(verbosity, jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON instead of console output")

	// Add commands
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.KeygenCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
