package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/groundloop-ai/groundloop/internal/core"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := NewRunStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRunStore: %v", err)
	}
	return s
}

func TestRunStore_CreateAndLoad(t *testing.T) {
	s := newTestStore(t)

	run, err := s.Create("ws_abc", "hash123")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(string(run.ID), "run_") {
		t.Fatalf("unexpected run ID %q", run.ID)
	}
	if _, err := os.Stat(s.ArtifactsDir(run.ID)); err != nil {
		t.Fatalf("artifacts dir not created: %v", err)
	}

	loaded, err := s.Load(run.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != run.ID || loaded.WorkspaceID != "ws_abc" || loaded.InputsHash != "hash123" {
		t.Fatalf("loaded run mismatch: %+v", loaded)
	}
	if loaded.Status != core.RunStatusPending {
		t.Fatalf("fresh run must be pending, got %s", loaded.Status)
	}
}

func TestRunStore_LoadNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("run_missing")
	if core.GetCategory(err) != core.ErrCatNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestRunStore_LoadDetectsCorruption(t *testing.T) {
	s := newTestStore(t)
	run, err := s.Create("ws_abc", "h")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, err := os.ReadFile(s.StatePath(run.ID))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	tampered := strings.Replace(string(data), "ws_abc", "ws_xyz", 1)
	if tampered == string(data) {
		t.Fatalf("tampering had no effect")
	}
	if err := os.WriteFile(s.StatePath(run.ID), []byte(tampered), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = s.Load(run.ID)
	var derr *core.DomainError
	if !errors.As(err, &derr) || derr.Code != core.CodeStateCorrupted {
		t.Fatalf("expected %s, got %v", core.CodeStateCorrupted, err)
	}
}

func TestRunStore_MutatePreservesConcurrentUpdates(t *testing.T) {
	s := newTestStore(t)
	run, err := s.Create("ws_abc", "h")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Mutate(run.ID, func(r *core.Run) error {
				r.RetryCount++
				return nil
			})
			if err != nil {
				t.Errorf("Mutate: %v", err)
			}
		}()
	}
	wg.Wait()

	loaded, err := s.Load(run.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.RetryCount != 20 {
		t.Fatalf("lost updates: retry count %d, want 20", loaded.RetryCount)
	}
}

func TestRunStore_MutatePropagatesFnError(t *testing.T) {
	s := newTestStore(t)
	run, err := s.Create("ws_abc", "h")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sentinel := errors.New("rejected")
	if _, err := s.Mutate(run.ID, func(r *core.Run) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestRunStore_AppendAndReadEvents(t *testing.T) {
	s := newTestStore(t)
	run, err := s.Create("ws_abc", "h")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	stages := []core.Stage{core.StageIntake, core.StageSynthesize, core.StageSelectFeature}
	for _, stage := range stages {
		if err := s.AppendEvent(run.ID, core.NewEvent(stage, "worker", core.ActionStageStart, "")); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := s.ReadEvents(run.ID)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, stage := range stages {
		if events[i].Stage != string(stage) {
			t.Fatalf("events out of order at %d: %s", i, events[i].Stage)
		}
	}
}

func TestRunStore_ReadEventsEmptyLog(t *testing.T) {
	s := newTestStore(t)
	events, err := s.ReadEvents("run_nolog")
	if err != nil || events != nil {
		t.Fatalf("expected empty result, got %v, %v", events, err)
	}
}

func TestRunStore_AwaitChangeWokenBySave(t *testing.T) {
	s := newTestStore(t)
	run, err := s.Create("ws_abc", "h")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan time.Duration, 1)
	go func() {
		start := time.Now()
		// Interval far beyond the test budget: only a save notification
		// can wake this before the deadline.
		s.AwaitChange(context.Background(), run.ID, time.Minute)
		done <- time.Since(start)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := s.Save(run); err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case elapsed := <-done:
		if elapsed >= time.Minute {
			t.Fatalf("waiter slept the full interval")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("waiter not woken by save")
	}
}

func TestRunStore_AwaitChangeHonorsContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.AwaitChange(ctx, "run_never", time.Minute)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("waiter not released by context cancel")
	}
}

func TestRunStore_ListIDs(t *testing.T) {
	s := newTestStore(t)
	first, _ := s.Create("ws_a", "h1")
	second, _ := s.Create("ws_a", "h2")

	ids, err := s.ListIDs()
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(ids))
	}
	seen := map[core.RunID]bool{ids[0]: true, ids[1]: true}
	if !seen[first.ID] || !seen[second.ID] {
		t.Fatalf("missing IDs: %v", ids)
	}
}

func TestComputeInputsHash_Deterministic(t *testing.T) {
	a := ComputeInputsHash(map[string]interface{}{"goal": "ship", "workspace": "ws1"})
	b := ComputeInputsHash(map[string]interface{}{"workspace": "ws1", "goal": "ship"})
	if a != b {
		t.Fatalf("hash must not depend on key order")
	}
	c := ComputeInputsHash(map[string]interface{}{"goal": "other", "workspace": "ws1"})
	if a == c {
		t.Fatalf("different inputs must hash differently")
	}
}

func TestNewID_Format(t *testing.T) {
	id := NewID("run")
	if !strings.HasPrefix(id, "run_") || len(id) != len("run_")+12 {
		t.Fatalf("unexpected ID format %q", id)
	}
}

func TestRunStore_WatchSignalsOnSave(t *testing.T) {
	s := newTestStore(t)
	run, err := s.Create("ws_abc", "hash")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes, err := s.Watch(ctx, run.ID)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	run.RetryCount = 1
	if err := s.Save(run); err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case _, open := <-changes:
		if !open {
			t.Fatalf("watch channel closed before signaling")
		}
	case <-ctx.Done():
		t.Fatalf("no change signal after save")
	}
}

func TestRunStore_WatchClosesOnCancel(t *testing.T) {
	s := newTestStore(t)
	run, err := s.Create("ws_abc", "hash")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := s.Watch(ctx, run.ID)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, open := <-changes:
			if !open {
				return
			}
		case <-deadline:
			t.Fatalf("watch channel not closed after cancel")
		}
	}
}
