package server

import (
	"context"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/troupelabs/troupe/version"
)

// HandleHealth serves the liveness endpoint with version info. Answers
// without auth so probes and workers can check reachability.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status := "ok"
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Errorw("Health check database ping failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	versionInfo := version.Get()
	health := map[string]interface{}{
		"status":      status,
		"state":       stateString(s.getState()),
		"version":     versionInfo.Version,
		"commit":      versionInfo.CommitHash,
		"build_time":  versionInfo.BuildTime,
		"workers":     len(s.workers.Snapshot()),
		"queue_depth": s.disp.QueueDepth(),
	}

	writeJSON(w, code, health)
}

// HandleStatus serves the orchestrator-wide status view: lifecycle state,
// connected workers, queue depth and host memory.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	workers := s.workers.Snapshot()
	resp := StatusResponse{
		State:       stateString(s.getState()),
		Workers:     workers,
		WorkerCount: len(workers),
		QueueDepth:  s.disp.QueueDepth(),
		InFlight:    s.disp.ActiveCount(),
		Bus:         BusStatus{Enabled: s.cfg.BusEnabled},
		Token:       s.tokens.Status(),
		System:      systemStatus(),
	}

	writeJSON(w, http.StatusOK, resp)
}

// systemStatus reads host memory. Readings are zero when the host stats
// are unavailable.
func systemStatus() SystemStatus {
	v, err := mem.VirtualMemory()
	if err != nil || v.Total == 0 {
		return SystemStatus{}
	}

	const gb = 1024 * 1024 * 1024
	usedGB := float64(v.Total-v.Available) / gb
	totalGB := float64(v.Total) / gb
	return SystemStatus{
		MemoryUsedGB:  usedGB,
		MemoryTotalGB: totalGB,
		MemoryPercent: (usedGB / totalGB) * 100,
	}
}

// HandleBudget serves GET /api/budget/{personaId} with the persona's spend
// against its daily and monthly limits.
func (s *Server) HandleBudget(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	parts := extractPathParts(r.URL.Path, "/api/budget/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "persona id required")
		return
	}

	status, err := s.budgets.Status(parts[0])
	if err != nil {
		handleError(w, s.log, err, "failed to get budget status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}
