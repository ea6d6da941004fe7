// Package server is the orchestrator's composition root and HTTP surface:
// the CRUD API on one port, the worker WebSocket listener on another, and
// the lifecycle that brings the pool, dispatcher and periodic engines up
// and down around them.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/troupelabs/troupe/budget"
	"github.com/troupelabs/troupe/bus"
	"github.com/troupelabs/troupe/dispatch"
	"github.com/troupelabs/troupe/pool"
	"github.com/troupelabs/troupe/schedule"
	"github.com/troupelabs/troupe/secrets"
	"github.com/troupelabs/troupe/store"
	"github.com/troupelabs/troupe/token"
)

const (
	// DefaultAPIPort serves the CRUD surface.
	DefaultAPIPort = 7700

	// DefaultWorkerPort serves the worker WebSocket listener.
	DefaultWorkerPort = 7701

	// DefaultShutdownGrace is broadcast to workers at shutdown.
	DefaultShutdownGrace = 30 * time.Second

	// ShutdownTimeout bounds how long Stop waits for the listeners and
	// background goroutines to drain.
	ShutdownTimeout = 10 * time.Second
)

// Config carries everything the server needs to assemble the orchestrator.
type Config struct {
	APIPort    int
	WorkerPort int

	// AllowedOrigins gates CORS and echoes the matching Origin back.
	// Prefix match, so "http://localhost" covers any port. Empty means
	// localhost only.
	AllowedOrigins []string

	// DevMode relaxes CORS method/header restrictions.
	DevMode bool

	// APIKeyHash is the hex SHA-256 of the team API key. Empty disables
	// API authentication; the worker port keeps its own token gate.
	APIKeyHash string

	// ShutdownGrace is the grace period broadcast to workers in the
	// shutdown frame.
	ShutdownGrace time.Duration

	// BusEnabled switches the opaque bus between the in-process broker
	// and a no-op client.
	BusEnabled bool

	Pool      pool.Config
	Dispatch  dispatch.Config
	Token     token.Config
	Processor schedule.ProcessorConfig
	Scheduler schedule.SchedulerConfig
}

// Server owns the orchestrator's components and its two HTTP listeners.
type Server struct {
	cfg Config

	db        *sql.DB
	stores    *store.Stores
	eventBus  bus.Bus
	tokens    *token.Provider
	masterKey *secrets.MasterKey
	workers   *pool.Pool
	disp      *dispatch.Dispatcher
	processor *schedule.EventProcessor
	scheduler *schedule.TriggerScheduler
	budgets   *budget.Tracker
	log       *zap.SugaredLogger

	apiServer    *http.Server
	workerServer *http.Server

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles the orchestrator over an open database handle. The caller
// keeps ownership of db. masterKey may be nil; credential endpoints then
// refuse writes and dispatch runs credential-free.
func New(cfg Config, db *sql.DB, masterKey *secrets.MasterKey, log *zap.SugaredLogger) (*Server, error) {
	if cfg.APIPort == 0 {
		cfg.APIPort = DefaultAPIPort
	}
	if cfg.WorkerPort == 0 {
		cfg.WorkerPort = DefaultWorkerPort
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	workers, err := pool.NewPool(cfg.Pool, log)
	if err != nil {
		return nil, err
	}

	var eventBus bus.Bus
	if cfg.BusEnabled {
		eventBus = bus.NewGoChannelBus(log)
	} else {
		eventBus = bus.NewNoopBus()
	}

	stores := store.New(db)
	tokens := token.NewProvider(cfg.Token, log)
	tracker := budget.NewTracker(stores, log)
	disp := dispatch.NewDispatcher(cfg.Dispatch, workers, stores, tokens,
		secrets.NewMaterializer(masterKey), eventBus, tracker, log)

	return &Server{
		cfg:       cfg,
		db:        db,
		stores:    stores,
		eventBus:  eventBus,
		tokens:    tokens,
		masterKey: masterKey,
		workers:   workers,
		disp:      disp,
		processor: schedule.NewEventProcessor(cfg.Processor, stores, disp, log),
		scheduler: schedule.NewTriggerScheduler(cfg.Scheduler, stores, log),
		budgets:   tracker,
		log:       log,
	}, nil
}
