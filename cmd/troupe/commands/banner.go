package commands

import (
	"fmt"

	"github.com/troupelabs/troupe/logger"
	"github.com/troupelabs/troupe/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, dbPath string, apiPort, workerPort int) {
	// ANSI escape codes
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	white := "\033[37m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔════════════════════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                                        ║\n")
	fmt.Printf("   ║   %s████████ ██████   ██████  ██    ██ ██████  ███████%s   ║\n", white+bold, reset+cyan+bold)
	fmt.Printf("   ║   %s   ██    ██   ██ ██    ██ ██    ██ ██   ██ ██     %s   ║\n", white+bold, reset+cyan+bold)
	fmt.Printf("   ║   %s   ██    ██████  ██    ██ ██    ██ ██████  █████  %s   ║\n", white+bold, reset+cyan+bold)
	fmt.Printf("   ║   %s   ██    ██   ██ ██    ██ ██    ██ ██      ██     %s   ║\n", white+bold, reset+cyan+bold)
	fmt.Printf("   ║   %s   ██    ██   ██  ██████   ██████  ██      ███████%s   ║\n", white+bold, reset+cyan+bold)
	fmt.Printf("   ║                                                        ║\n")
	fmt.Printf("   ║   %s▣ Personas  ⟐ Workers  ◈ Events  ⚡ Triggers%s          ║\n", yellow, reset+cyan+bold)
	fmt.Printf("   ║                                                        ║\n")
	fmt.Printf("   ╚════════════════════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ Troupe Info ───────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	if dbPath != "" {
		fmt.Printf("%s│%s Database:  %s\n", green, reset, dbPath)
	}
	fmt.Printf("%s│%s API:       http://localhost:%d\n", green, reset, apiPort)
	fmt.Printf("%s│%s Workers:   ws://localhost:%d/\n", green, reset, workerPort)
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ Workers can now register and pick up executions%s\n", yellow, bold, reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
