package svcwrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"vawter.tech/stopper"
)

// statusDebounce coalesces bursts of file events into one read
const statusDebounce = 10 * time.Millisecond

// StatusFile persists every published report as JSON so that out-of-process
// callers can observe the supervisor without a host round trip
type StatusFile struct {
	// Path is the snapshot location
	Path string
}

// NewStatusFile creates a sink writing to the configured status path
func NewStatusFile(p Paths) *StatusFile {
	return &StatusFile{Path: p.StatusFile()}
}

// PublishStatus atomically replaces the snapshot
func (f *StatusFile) PublishStatus(r StatusReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	if err := renameio.WriteFile(f.Path, append(data, '\n'), FileMode); err != nil {
		return fmt.Errorf("writing %s: %w", f.Path, err)
	}
	return nil
}

// ReadStatusFile loads a snapshot written by StatusFile
func ReadStatusFile(path string) (StatusReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StatusReport{}, err
	}
	var r StatusReport
	if err := json.Unmarshal(data, &r); err != nil {
		return StatusReport{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return r, nil
}

// StatusEvent is one observed snapshot or a watch error
type StatusEvent struct {
	Report StatusReport
	Err    error
}

// WatchCleanupFunc stops a watch and waits for its goroutines
type WatchCleanupFunc func() error

// WatchStatusFile emits a StatusEvent whenever the snapshot at path changes.
// The parent directory must exist. The channel is closed after cleanup or
// when ctx ends.
func WatchStatusFile(ctx context.Context, path string) (<-chan StatusEvent, WatchCleanupFunc, error) {
	dir := filepath.Dir(path)
	name := filepath.Base(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	var (
		mu        sync.Mutex
		debouncer *time.Timer
		sendMu    sync.Mutex
		closed    bool
	)

	ch := make(chan StatusEvent, 10)
	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		sendMu.Lock()
		closed = true
		close(ch)
		sendMu.Unlock()
	})

	cleanup := func() error {
		sctx.Stop(DefaultStopGrace)
		return sctx.Wait()
	}

	// send never races the close: a debounced read may fire after the
	// watcher goroutine has returned.
	send := func(ev StatusEvent) {
		sendMu.Lock()
		defer sendMu.Unlock()
		if closed || sctx.IsStopping() {
			return
		}
		select {
		case ch <- ev:
		case <-sctx.Stopping():
		}
	}

	readAndSend := func() {
		r, err := ReadStatusFile(path)
		if os.IsNotExist(err) {
			return
		}
		send(StatusEvent{Report: r, Err: err})
	}

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mu.Lock()
			if debouncer != nil {
				debouncer.Stop()
			}
			mu.Unlock()
		})

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				mu.Lock()
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(statusDebounce, readAndSend)
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil {
					send(StatusEvent{Err: err})
				}
			}
		}
		return nil
	})

	return ch, cleanup, nil
}
