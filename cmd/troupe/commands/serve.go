package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/troupelabs/troupe/am"
	"github.com/troupelabs/troupe/dispatch"
	"github.com/troupelabs/troupe/errors"
	"github.com/troupelabs/troupe/logger"
	"github.com/troupelabs/troupe/pool"
	"github.com/troupelabs/troupe/schedule"
	"github.com/troupelabs/troupe/secrets"
	"github.com/troupelabs/troupe/server"
	"github.com/troupelabs/troupe/token"
)

// ServeCmd starts the troupe orchestrator
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the troupe orchestrator",
	Long: `Start the orchestrator in foreground mode.

The orchestrator will:
- Accept worker registrations on the worker WebSocket listener
- Dispatch queued persona executions to idle workers
- Drain pending events into executions via subscriptions
- Fire due triggers on schedule
- Run until interrupted (Ctrl+C) with graceful shutdown

On first run a worker token and a credential passphrase are generated
and persisted to the local overrides file. The worker token is printed
once; hand it to workers before closing the terminal.`,
	RunE: runServe,
}

var (
	serveDBPath  string
	serveDevMode bool
)

func init() {
	// Serve command flags
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
	ServeCmd.Flags().BoolVar(&serveDevMode, "dev", false, "Enable development mode (relaxed CORS)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Get verbosity flag - default to 1 (Info) for the daemon so startup is visible
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(verbosity, jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	// Load configuration
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// First run: mint the secrets the orchestrator cannot start without
	if err := provisionFirstRun(cfg); err != nil {
		return err
	}

	// Determine database path - priority: --db-path flag > DB_PATH env > config
	dbPath := serveDBPath

	// Open and migrate database
	database, err := openDatabase(dbPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	// Resolve the actual path used by openDatabase for the banner
	if dbPath == "" {
		resolvedPath, err := am.GetDatabasePath()
		if err != nil || resolvedPath == "" {
			dbPath = "troupe.db" // Default fallback, same as openDatabase
		} else {
			dbPath = resolvedPath
		}
	}

	// Derive the credential master key from the configured passphrase
	masterKey, err := secrets.NewMasterKey(cfg.Secrets.Passphrase)
	if err != nil {
		return errors.Wrap(err, "failed to derive credential master key")
	}

	srvCfg := buildServerConfig(cfg)
	if serveDevMode {
		srvCfg.DevMode = true
	}

	// Print startup banner
	printStartupBanner(verbosity, dbPath, srvCfg.APIPort, srvCfg.WorkerPort)

	// Create server
	srv, err := server.New(srvCfg, database, masterKey, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start listeners and engines; Start returns once everything is bound
	if err := srv.Start(ctx); err != nil {
		return errors.Wrap(err, "server failed to start")
	}

	// Watch the local overrides file so config drift is at least visible
	startConfigWatcher()
	defer stopConfigWatcher()

	// GRACE: Wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// First Ctrl+C - graceful shutdown
	pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

	// Start graceful shutdown in background
	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- srv.Stop()
	}()

	// Wait for either shutdown completion or second Ctrl+C
	select {
	case err := <-shutdownDone:
		// Graceful shutdown completed
		if err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		pterm.Success.Println("Orchestrator stopped cleanly")
		return nil
	case <-sigChan:
		// Second Ctrl+C - force immediate exit
		pterm.Warning.Println("\nForce shutdown - exiting immediately")
		os.Exit(1)
		return nil // unreachable
	}
}

// provisionFirstRun generates and persists the worker token and credential
// passphrase when the config carries neither. The worker token is printed
// once so it can be handed to workers; the passphrase is persisted silently.
func provisionFirstRun(cfg *am.Config) error {
	if cfg.Workers.Token == "" {
		tok, err := mintKey(32)
		if err != nil {
			return errors.Wrap(err, "failed to generate worker token")
		}
		if err := am.UpdateWorkersToken(tok); err != nil {
			return errors.Wrap(err, "failed to persist worker token")
		}
		cfg.Workers.Token = tok
		pterm.Warning.Printf("Generated worker token (saved to %s):\n", am.LocalOverridesPath())
		pterm.Warning.Printf("  %s\n", tok)
		pterm.Warning.Println("Hand this token to workers; it will not be shown again.")
	}

	if cfg.Secrets.Passphrase == "" {
		passphrase, err := secrets.GeneratePassphrase()
		if err != nil {
			return errors.Wrap(err, "failed to generate credential passphrase")
		}
		if err := am.UpdateSecretsPassphrase(passphrase); err != nil {
			return errors.Wrap(err, "failed to persist credential passphrase")
		}
		cfg.Secrets.Passphrase = passphrase
		pterm.Info.Printf("Generated credential passphrase (saved to %s)\n", am.LocalOverridesPath())
	}

	return nil
}

// buildServerConfig maps the layered TOML config onto the server's component
// configs. Zero values fall through to each package's own defaults.
func buildServerConfig(cfg *am.Config) server.Config {
	srvCfg := server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		DevMode:        cfg.Server.DevMode,
		APIKeyHash:     cfg.Server.APIKeyHash,
		ShutdownGrace:  time.Duration(cfg.Server.ShutdownGraceSeconds) * time.Second,
		BusEnabled:     cfg.Bus.Enabled,
		Pool: pool.Config{
			WorkerToken:       cfg.Workers.Token,
			MinWorkerVersion:  cfg.Workers.MinVersion,
			SessionSecret:     cfg.Workers.SessionSecret,
			HelloTimeout:      time.Duration(cfg.Workers.HelloTimeoutSeconds) * time.Second,
			HeartbeatInterval: time.Duration(cfg.Workers.HeartbeatIntervalSeconds) * time.Second,
			HeartbeatTimeout:  time.Duration(cfg.Workers.HeartbeatTimeoutSeconds) * time.Second,
		},
		Dispatch: dispatch.Config{
			StaticToken:      cfg.Dispatch.StaticToken,
			DefaultTimeoutMs: cfg.Dispatch.DefaultTimeoutMs,
			MaxOutputBytes:   cfg.Dispatch.MaxOutputBytes,
			Retain:           time.Duration(cfg.Dispatch.RetainSeconds) * time.Second,
		},
		Token: token.Config{
			TokenURL: cfg.OAuth.TokenURL,
			ClientID: cfg.OAuth.ClientID,
		},
		Processor: schedule.ProcessorConfig{
			Tick:  time.Duration(cfg.Events.TickSeconds) * time.Second,
			Batch: cfg.Events.Batch,
		},
		Scheduler: schedule.SchedulerConfig{
			Tick: time.Duration(cfg.Triggers.TickSeconds) * time.Second,
		},
	}
	if cfg.Server.APIPort != nil {
		srvCfg.APIPort = *cfg.Server.APIPort
	}
	if cfg.Server.WorkerPort != nil {
		srvCfg.WorkerPort = *cfg.Server.WorkerPort
	}
	return srvCfg
}

// startConfigWatcher watches the local overrides file and reloads the viper
// state when it changes. Component configs are bound at startup, so the
// reload mostly makes rotation visible: the log line tells the operator a
// restart is needed for the new values to reach the pool and dispatcher.
func startConfigWatcher() {
	path := am.LocalOverridesPath()
	if _, err := os.Stat(path); err != nil {
		return // nothing to watch yet
	}
	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		logger.Logger.Warnw("Config watcher unavailable", "path", path, "error", err)
		return
	}
	watcher.OnReload(func(cfg *am.Config) error {
		logger.Logger.Infow("Local overrides changed; component settings apply on next restart", "path", path)
		return nil
	})
	watcher.Start()
	am.SetGlobalWatcher(watcher)
}

func stopConfigWatcher() {
	if watcher := am.GetGlobalWatcher(); watcher != nil {
		_ = watcher.Stop()
	}
}
