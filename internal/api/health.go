package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/groundloop-ai/groundloop/internal/core"
)

// healthResponse reports service liveness plus host diagnostics.
type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	ActiveRuns    int     `json:"active_runs"`
	Goroutines    int     `json:"goroutines"`
	Hostname      string  `json:"hostname,omitempty"`
	Platform      string  `json:"platform,omitempty"`
	MemUsedPct    float64 `json:"mem_used_pct,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.started).Seconds(),
		ActiveRuns:    s.orch.Registry().Len(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if info, err := host.Info(); err == nil {
		resp.Hostname = info.Hostname
		resp.Platform = info.Platform
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPct = vm.UsedPercent
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleMetrics serves per-workspace run counts from the derived index.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		respondError(w, http.StatusServiceUnavailable, "run index not configured")
		return
	}
	workspaceID := core.WorkspaceID(r.URL.Query().Get("workspace_id"))
	metrics, err := s.index.Metrics(workspaceID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}
