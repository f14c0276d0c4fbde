// Package store provides durable, crash-consistent persistence for
// runs and workspaces: atomic state files, append-only event logs, and
// a derived SQLite index for listing and metrics.
package store

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/groundloop-ai/groundloop/internal/core"
)

const (
	stateFileName = "state.json"
	logFileName   = "run-log.jsonl"
	artifactsDir  = "artifacts"
)

// RunStore persists runs under <root>/<run_id>/. Saves are atomic:
// serialize to a temporary file, then rename into place, so a
// concurrent reader observes the old state or the new state in full.
type RunStore struct {
	root  string
	index *Index

	mu      sync.Mutex
	locks   map[core.RunID]*sync.Mutex
	waiters map[core.RunID][]chan struct{}
}

// RunStoreOption configures the store.
type RunStoreOption func(*RunStore)

// WithIndex attaches a derived SQLite index updated on every save.
func WithIndex(index *Index) RunStoreOption {
	return func(s *RunStore) {
		s.index = index
	}
}

// NewRunStore creates a run store rooted at the given directory.
func NewRunStore(root string, opts ...RunStoreOption) (*RunStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating runs directory: %w", err)
	}
	s := &RunStore{
		root:    root,
		locks:   make(map[core.RunID]*sync.Mutex),
		waiters: make(map[core.RunID][]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewID allocates an identifier with the given prefix.
func NewID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// Create allocates a fresh run with an empty artifacts area.
func (s *RunStore) Create(workspaceID core.WorkspaceID, inputsHash string) (*core.Run, error) {
	run := core.NewRun(core.RunID(NewID("run")), workspaceID, inputsHash)
	if err := os.MkdirAll(s.ArtifactsDir(run.ID), 0o755); err != nil {
		return nil, core.ErrInfrastructure("creating run directories").WithCause(err)
	}
	if err := s.Save(run); err != nil {
		return nil, err
	}
	return run, nil
}

// stateEnvelope wraps run state with integrity metadata.
type stateEnvelope struct {
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
	Run       *core.Run `json:"run"`
}

// Save persists run state atomically and wakes any waiters.
func (s *RunStore) Save(run *core.Run) error {
	lock := s.runLock(run.ID)
	lock.Lock()
	defer lock.Unlock()
	return s.saveLocked(run)
}

func (s *RunStore) saveLocked(run *core.Run) error {
	runBytes, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}
	hash := sha256.Sum256(runBytes)

	envelope := stateEnvelope{
		Version:   1,
		Checksum:  hex.EncodeToString(hash[:]),
		UpdatedAt: time.Now().UTC(),
		Run:       run,
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	if err := os.MkdirAll(s.RunDir(run.ID), 0o755); err != nil {
		return core.ErrInfrastructure("creating run directory").WithCause(err)
	}
	if err := atomicWriteFile(s.StatePath(run.ID), data, 0o644); err != nil {
		return core.ErrInfrastructure("writing state file").WithCause(err)
	}

	if s.index != nil {
		// The JSON state file is authoritative; a stale index row only
		// degrades listing, so index errors are not fatal.
		_ = s.index.Upsert(run)
	}

	s.notifySaved(run.ID)
	return nil
}

// Mutate reloads a run, applies fn, and saves, all under the per-run
// lock. Narrow external mutations (feature selection, approval,
// cancel) and the worker's own saves both go through here, so a
// one-field update can never be lost to a concurrent full-state save.
func (s *RunStore) Mutate(runID core.RunID, fn func(*core.Run) error) (*core.Run, error) {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := s.load(runID)
	if err != nil {
		return nil, err
	}
	if err := fn(run); err != nil {
		return nil, err
	}
	if err := s.saveLocked(run); err != nil {
		return nil, err
	}
	return run, nil
}

// Load retrieves a run, verifying the state checksum.
func (s *RunStore) Load(runID core.RunID) (*core.Run, error) {
	return s.load(runID)
}

func (s *RunStore) load(runID core.RunID) (*core.Run, error) {
	data, err := os.ReadFile(s.StatePath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("run", string(runID))
		}
		return nil, core.ErrInfrastructure("reading state file").WithCause(err)
	}

	var envelope stateEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "unmarshaling state envelope").WithCause(err)
	}
	if envelope.Run == nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "state envelope has no run")
	}

	runBytes, err := json.Marshal(envelope.Run)
	if err != nil {
		return nil, fmt.Errorf("marshaling run for checksum: %w", err)
	}
	hash := sha256.Sum256(runBytes)
	if hex.EncodeToString(hash[:]) != envelope.Checksum {
		return nil, core.ErrState(core.CodeStateCorrupted, "checksum mismatch")
	}

	return envelope.Run, nil
}

// Exists reports whether a run's state file is present.
func (s *RunStore) Exists(runID core.RunID) bool {
	_, err := os.Stat(s.StatePath(runID))
	return err == nil
}

// AppendEvent appends one event to the run's newline-delimited log.
func (s *RunStore) AppendEvent(runID core.RunID, event core.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := os.MkdirAll(s.ArtifactsDir(runID), 0o755); err != nil {
		return core.ErrInfrastructure("creating artifacts directory").WithCause(err)
	}
	f, err := os.OpenFile(s.LogPath(runID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return core.ErrInfrastructure("opening event log").WithCause(err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return core.ErrInfrastructure("appending event").WithCause(err)
	}
	return nil
}

// ReadEvents returns the run's event log in append order.
func (s *RunStore) ReadEvents(runID core.RunID) ([]core.Event, error) {
	f, err := os.Open(s.LogPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.ErrInfrastructure("opening event log").WithCause(err)
	}
	defer f.Close()

	var events []core.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event core.Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

// ListIDs returns all persisted run IDs, newest directory first.
func (s *RunStore) ListIDs() ([]core.RunID, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, core.ErrInfrastructure("reading runs directory").WithCause(err)
	}
	type dirInfo struct {
		id  core.RunID
		mod time.Time
	}
	var dirs []dirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirInfo{id: core.RunID(entry.Name()), mod: info.ModTime()})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mod.After(dirs[j].mod) })
	ids := make([]core.RunID, 0, len(dirs))
	for _, d := range dirs {
		ids = append(ids, d.id)
	}
	return ids, nil
}

// AwaitChange blocks until the run is saved again, the interval
// elapses, or the context is cancelled. Gated waits poll through here:
// the notification wakes them promptly, the interval is the safety net
// for missed notifications.
func (s *RunStore) AwaitChange(ctx context.Context, runID core.RunID, interval time.Duration) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.waiters[runID] = append(s.waiters[runID], ch)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		remaining := s.waiters[runID][:0]
		for _, w := range s.waiters[runID] {
			if w != ch {
				remaining = append(remaining, w)
			}
		}
		if len(remaining) == 0 {
			delete(s.waiters, runID)
		} else {
			s.waiters[runID] = remaining
		}
		s.mu.Unlock()
	}()

	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-ch:
	case <-timer.C:
	}
}

func (s *RunStore) notifySaved(runID core.RunID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.waiters[runID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *RunStore) runLock(runID core.RunID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[runID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[runID] = lock
	}
	return lock
}

// Root returns the store's root directory.
func (s *RunStore) Root() string {
	return s.root
}

// RunDir returns the directory holding one run's files.
func (s *RunStore) RunDir(runID core.RunID) string {
	return filepath.Join(s.root, string(runID))
}

// ArtifactsDir returns the run's artifact directory.
func (s *RunStore) ArtifactsDir(runID core.RunID) string {
	return filepath.Join(s.RunDir(runID), artifactsDir)
}

// StatePath returns the run's state file path.
func (s *RunStore) StatePath(runID core.RunID) string {
	return filepath.Join(s.RunDir(runID), stateFileName)
}

// LogPath returns the run's event log path.
func (s *RunStore) LogPath(runID core.RunID) string {
	return filepath.Join(s.ArtifactsDir(runID), logFileName)
}

// ComputeInputsHash fingerprints a run request for idempotence auditing.
func ComputeInputsHash(payload map[string]interface{}) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, payload[k])
	}
	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}
