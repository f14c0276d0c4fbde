package store

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/groundloop-ai/groundloop/internal/core"
)

// Watch reports state-file writes for a run as they land on disk. It
// complements AwaitChange for observers outside the saving process,
// where the in-memory notification cannot reach. The channel closes
// when the context is cancelled or the watcher fails.
func (s *RunStore) Watch(ctx context.Context, runID core.RunID) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, core.ErrInfrastructure("creating filesystem watcher").WithCause(err)
	}
	if err := watcher.Add(s.RunDir(runID)); err != nil {
		watcher.Close()
		return nil, core.ErrInfrastructure("watching run directory").WithCause(err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Atomic saves land as a rename onto state.json.
				if event.Name == s.StatePath(runID) &&
					event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return ch, nil
}
