package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/troupelabs/troupe/errors"
)

// ServerState tracks the lifecycle for the status endpoint.
type ServerState int32

const (
	ServerStateStarting ServerState = iota
	ServerStateRunning
	ServerStateDraining
	ServerStateStopped
)

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.log.Infow("Server state changed", "new_state", stateString(newState))
}

func stateString(state ServerState) string {
	switch state {
	case ServerStateStarting:
		return "starting"
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Start brings the orchestrator up: dispatcher, periodic engines, token
// warmer, then both listeners. Binding failures surface here rather than
// from the serve goroutines.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.disp.Start(s.ctx); err != nil {
		return errors.Wrap(err, "start dispatcher")
	}
	s.processor.Start(s.ctx)
	s.scheduler.Start(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tokens.KeepWarm(s.ctx)
	}()

	apiLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.APIPort))
	if err != nil {
		return errors.Wrapf(err, "bind API port %d", s.cfg.APIPort)
	}
	workerLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.WorkerPort))
	if err != nil {
		_ = apiLn.Close()
		return errors.Wrapf(err, "bind worker port %d", s.cfg.WorkerPort)
	}

	s.apiServer = &http.Server{Handler: s.routes()}
	s.workerServer = &http.Server{Handler: s.workerRoutes()}

	s.wg.Add(2)
	go s.serve("api", s.apiServer, apiLn)
	go s.serve("workers", s.workerServer, workerLn)

	s.setState(ServerStateRunning)
	s.log.Infow("Server ready",
		"api_addr", apiLn.Addr().String(),
		"worker_addr", workerLn.Addr().String(),
		"auth", s.cfg.APIKeyHash != "",
		"bus", s.cfg.BusEnabled,
	)
	return nil
}

func (s *Server) serve(name string, srv *http.Server, ln net.Listener) {
	defer s.wg.Done()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Errorw("HTTP listener stopped", "listener", name, "error", err)
	}
}

// Stop tears the orchestrator down in reverse: the API listener first so no
// new work arrives, then the engines, the dispatcher, and finally the worker
// pool with a shutdown broadcast. The database stays open for the caller.
func (s *Server) Stop() error {
	s.setState(ServerStateDraining)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if s.apiServer != nil {
		if err := s.apiServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warnw("API listener shutdown error", "error", err)
		}
	}

	s.scheduler.Stop()
	s.processor.Stop()
	s.disp.Stop()
	s.workers.Shutdown("orchestrator shutting down", s.cfg.ShutdownGrace)

	if s.workerServer != nil {
		if err := s.workerServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warnw("Worker listener shutdown error", "error", err)
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if err := s.eventBus.Close(); err != nil {
		s.log.Warnw("Bus close error", "error", err)
	}

	s.setState(ServerStateStopped)
	s.log.Infow("Server shutdown complete")
	return nil
}
