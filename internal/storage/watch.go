// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// =============================================================================
// THREAD DIRECTORY WATCHER
// =============================================================================

// ThreadWatcher calls a function after the thread directory changes.
//
// Bursts of events (an atomic write is a create plus a rename) are coalesced:
// onChange fires once, debounce after the last event.
type ThreadWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func()
	logger   *zap.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewThreadWatcher watches dir. It does nothing until Start is called.
func NewThreadWatcher(dir string, debounce time.Duration, onChange func(), logger *zap.Logger) (*ThreadWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadWatcher{
		watcher:  w,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins delivering change notifications in a background goroutine.
func (tw *ThreadWatcher) Start() {
	go tw.loop()
}

// Close stops the watcher and waits for the goroutine to exit.
// Close must only be called after Start.
func (tw *ThreadWatcher) Close() error {
	var err error
	tw.once.Do(func() {
		close(tw.stop)
		<-tw.done
		err = tw.watcher.Close()
	})
	return err
}

func (tw *ThreadWatcher) loop() {
	defer close(tw.done)

	// Timer starts stopped; each relevant event re-arms it.
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-tw.stop:
			return

		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if !isThreadFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(tw.debounce)

		case <-timer.C:
			tw.fire()

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			tw.logger.Warn("thread watcher error", zap.Error(err))
		}
	}
}

func (tw *ThreadWatcher) fire() {
	defer func() {
		if r := recover(); r != nil {
			tw.logger.Error("thread watcher callback panicked", zap.Any("panic", r))
		}
	}()
	tw.onChange()
}

// isThreadFile ignores the temp files AtomicWriteFile leaves mid-write.
func isThreadFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}
