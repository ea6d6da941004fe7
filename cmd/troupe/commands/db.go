package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/troupelabs/troupe/errors"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage troupe database",
	Long: `Manage database operations including statistics and diagnostics.

Examples:
  troupe db stats                 # Show database statistics
  troupe db stats --limit 10      # Show last 10 executions`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display database statistics including persona, event, and execution counts by status",
	RunE:  runDbStats,
}

var (
	statsLimitFlag int
	statsDBPath    string
)

func init() {
	DbCmd.AddCommand(dbStatsCmd)
	dbStatsCmd.Flags().IntVar(&statsLimitFlag, "limit", 20, "Number of recent executions to show")
	dbStatsCmd.Flags().StringVar(&statsDBPath, "db-path", "", "Custom database path (overrides config)")
}

func runDbStats(cmd *cobra.Command, args []string) error {
	// Open and migrate database
	database, err := openDatabase(statsDBPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	// Get basic table counts
	var personas, tools, credentials, subscriptions, triggers, enabledTriggers int
	err = database.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM personas),
			(SELECT COUNT(*) FROM tool_definitions),
			(SELECT COUNT(*) FROM credentials),
			(SELECT COUNT(*) FROM event_subscriptions),
			(SELECT COUNT(*) FROM triggers),
			(SELECT COUNT(*) FROM triggers WHERE enabled = 1)
	`).Scan(&personas, &tools, &credentials, &subscriptions, &triggers, &enabledTriggers)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query table counts: %w", err)
	}

	// Print database info
	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Personas:         %d\n", personas)
	fmt.Printf("Tool Definitions: %d\n", tools)
	fmt.Printf("Credentials:      %d\n", credentials)
	fmt.Printf("Subscriptions:    %d\n", subscriptions)
	fmt.Printf("Triggers:         %d (%d enabled)\n", triggers, enabledTriggers)
	fmt.Println()

	// Events by status
	eventCounts, eventTotal, err := countByStatus(database, "events")
	if err != nil {
		return fmt.Errorf("failed to query event counts: %w", err)
	}
	fmt.Printf("Events (%d total):\n", eventTotal)
	for _, status := range []string{"pending", "processing", "delivered", "partial", "failed", "skipped"} {
		if n, ok := eventCounts[status]; ok {
			fmt.Printf("  %-12s %d\n", status, n)
		}
	}
	if eventTotal == 0 {
		fmt.Println("  No events recorded yet")
	}
	fmt.Println()

	// Executions by status
	execCounts, execTotal, err := countByStatus(database, "executions")
	if err != nil {
		return fmt.Errorf("failed to query execution counts: %w", err)
	}
	fmt.Printf("Executions (%d total):\n", execTotal)
	for _, status := range []string{"queued", "running", "completed", "failed", "cancelled"} {
		if n, ok := execCounts[status]; ok {
			fmt.Printf("  %-12s %d\n", status, n)
		}
	}
	if execTotal == 0 {
		fmt.Println("  No executions recorded yet")
	}
	fmt.Println()

	// Recent executions
	rows, err := database.Query(`
		SELECT id, persona_id, status, source, created_at
		FROM executions
		ORDER BY created_at DESC
		LIMIT ?
	`, statsLimitFlag)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query recent executions: %w", err)
	}
	if err == nil {
		defer rows.Close()

		var hasRows bool
		fmt.Printf("Recent Executions (last %d):\n", statsLimitFlag)
		fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")

		for rows.Next() {
			hasRows = true
			var (
				id        string
				personaID sql.NullString
				status    string
				source    string
				createdAt string
			)
			if err := rows.Scan(&id, &personaID, &status, &source, &createdAt); err != nil {
				return fmt.Errorf("failed to scan execution: %w", err)
			}

			timestamp := createdAt
			if len(timestamp) > 19 {
				timestamp = timestamp[:19] // trim to YYYY-MM-DDTHH:MM:SS
			}
			fmt.Printf("  [%s] %s %s (source=%s, persona=%s)\n",
				timestamp, id, status, source, nullStringValue(personaID))
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate executions: %w", err)
		}

		if !hasRows {
			fmt.Println("  No executions recorded yet")
		}
	}

	return nil
}

// countByStatus returns per-status row counts and the total for a table.
func countByStatus(database *sql.DB, table string) (map[string]int, int, error) {
	rows, err := database.Query(fmt.Sprintf("SELECT status, COUNT(*) FROM %s GROUP BY status", table))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	total := 0
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, 0, err
		}
		counts[status] = n
		total += n
	}
	return counts, total, rows.Err()
}

// nullStringValue returns the value of a sql.NullString or a placeholder if NULL
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return "<none>"
}
