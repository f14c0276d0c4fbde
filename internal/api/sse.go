package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/groundloop-ai/groundloop/internal/core"
)

// keepAliveInterval is how often an SSE comment goes out so proxies
// keep the idle connection open.
const keepAliveInterval = 25 * time.Second

// handleRunEvents streams a run's events over SSE. A subscriber always
// receives the full history first, then live events, in publish order.
// For runs whose queue was already disposed, the persisted event log is
// replayed and the stream ends.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := core.RunID(chi.URLParam(r, "runID"))
	if !s.runs.Exists(runID) {
		respondDomainError(w, core.ErrNotFound("run", string(runID)))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	run, err := s.runs.Load(runID)
	if err == nil && run.IsTerminal() && s.bus.Buffered(runID) == 0 {
		s.replayEventLog(w, flusher, runID)
		return
	}

	ch := s.bus.Subscribe(runID)
	defer s.bus.Unsubscribe(runID, ch)
	s.logger.Info("event stream connected", "run_id", string(runID), "remote_addr", r.RemoteAddr)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event stream disconnected", "run_id", string(runID))
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				return
			}
			writeSSEEvent(w, flusher, event)
		}
	}
}

// replayEventLog serves a finished run's events from the durable log.
func (s *Server) replayEventLog(w http.ResponseWriter, flusher http.Flusher, runID core.RunID) {
	logged, err := s.runs.ReadEvents(runID)
	if err != nil {
		s.logger.Warn("replaying event log", "run_id", string(runID), "error", err)
		return
	}
	for _, event := range logged {
		writeSSEEvent(w, flusher, event)
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event core.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: run_event\ndata: %s\n\n", data)
	flusher.Flush()
}
