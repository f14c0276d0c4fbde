package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/groundloop-ai/groundloop/internal/core"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func indexedRun(id core.RunID, ws core.WorkspaceID, status core.RunStatus, createdAt time.Time) *core.Run {
	run := core.NewRun(id, ws, "hash")
	run.Status = status
	run.CreatedAt = createdAt
	if status == core.RunStatusCompleted || status == core.RunStatusFailed {
		done := createdAt.Add(time.Minute)
		run.CompletedAt = &done
	}
	return run
}

func TestIndex_UpsertAndList(t *testing.T) {
	ix := newTestIndex(t)
	base := time.Now().UTC().Truncate(time.Second)

	runs := []*core.Run{
		indexedRun("run_1", "ws_a", core.RunStatusCompleted, base.Add(-2*time.Hour)),
		indexedRun("run_2", "ws_a", core.RunStatusFailed, base.Add(-time.Hour)),
		indexedRun("run_3", "ws_b", core.RunStatusRunning, base),
	}
	for _, run := range runs {
		if err := ix.Upsert(run); err != nil {
			t.Fatalf("Upsert %s: %v", run.ID, err)
		}
	}

	all, err := ix.List("", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}
	if all[0].RunID != "run_3" {
		t.Fatalf("expected newest first, got %s", all[0].RunID)
	}
	if all[1].CompletedAt == nil {
		t.Fatalf("failed run must carry completed_at")
	}

	filtered, err := ix.List("ws_a", 10)
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 rows for ws_a, got %d", len(filtered))
	}
}

func TestIndex_UpsertReplacesRow(t *testing.T) {
	ix := newTestIndex(t)
	run := indexedRun("run_1", "ws_a", core.RunStatusRunning, time.Now().UTC())
	if err := ix.Upsert(run); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	run.Status = core.RunStatusFailed
	run.RetryCount = 2
	if err := ix.Upsert(run); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}

	rows, err := ix.List("ws_a", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("upsert must not duplicate rows, got %d", len(rows))
	}
	if rows[0].Status != core.RunStatusFailed || rows[0].RetryCount != 2 {
		t.Fatalf("row not updated: %+v", rows[0])
	}
}

func TestIndex_Metrics(t *testing.T) {
	ix := newTestIndex(t)
	base := time.Now().UTC()

	seed := []struct {
		id     core.RunID
		ws     core.WorkspaceID
		status core.RunStatus
	}{
		{"run_1", "ws_a", core.RunStatusCompleted},
		{"run_2", "ws_a", core.RunStatusCompleted},
		{"run_3", "ws_a", core.RunStatusFailed},
		{"run_4", "ws_a", core.RunStatusRunning},
		{"run_5", "ws_b", core.RunStatusCancelled},
	}
	for i, s := range seed {
		if err := ix.Upsert(indexedRun(s.id, s.ws, s.status, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Upsert %s: %v", s.id, err)
		}
	}

	m, err := ix.Metrics("")
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if m.Total != 5 || m.Completed != 2 || m.Failed != 1 || m.Cancelled != 1 || m.Active != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}

	scoped, err := ix.Metrics("ws_a")
	if err != nil {
		t.Fatalf("Metrics scoped: %v", err)
	}
	if scoped.Total != 4 || scoped.Cancelled != 0 {
		t.Fatalf("unexpected scoped metrics: %+v", scoped)
	}
}
