package orchestrator

import (
	"context"
	"sync"

	"github.com/groundloop-ai/groundloop/internal/core"
)

// Registry tracks active run workers and owns their cancel functions.
// It is scoped to one Orchestrator instance, so two engines in the same
// process never see each other's runs.
type Registry struct {
	mu     sync.Mutex
	active map[core.RunID]context.CancelFunc
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[core.RunID]context.CancelFunc),
	}
}

// Register derives a cancellable context for a run worker and records
// its cancel function.
func (r *Registry) Register(parent context.Context, runID core.RunID) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.active[runID] = cancel
	r.mu.Unlock()
	return ctx, cancel
}

// Cancel cancels a run's worker context. It reports whether the run
// was active.
func (r *Registry) Cancel(runID core.RunID) bool {
	r.mu.Lock()
	cancel, ok := r.active[runID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Remove drops a run from the registry once its worker has exited.
func (r *Registry) Remove(runID core.RunID) {
	r.mu.Lock()
	cancel, ok := r.active[runID]
	delete(r.active, runID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Active returns the IDs of runs with live workers.
func (r *Registry) Active() []core.RunID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]core.RunID, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of active workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// CancelAll cancels every active worker, used during server shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.active))
	for _, cancel := range r.active {
		cancels = append(cancels, cancel)
	}
	r.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
