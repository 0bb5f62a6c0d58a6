// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package watch reports changes to the keyring store file so an open
// setup screen can notice keys added by another process.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/toeirei/keysetup/internal/logging"
)

// DefaultDebounce collapses bursts of writes (sqlite journal, WAL) into one
// callback.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a single file through its directory.
type Watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
	once sync.Once
}

// Start watches path and calls fn, debounced, after it or one of its
// sqlite side files (-wal, -journal, -shm) was created, written, removed or
// renamed. Watching stops when ctx ends or Close is called.
func Start(ctx context.Context, path string, debounce time.Duration, fn func()) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{})}
	go w.loop(ctx, abs, debounce, fn)
	logging.Debugf("watch: watching %s", abs)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context, path string, debounce time.Duration, fn func()) {
	defer close(w.done)
	defer func() { _ = w.fsw.Close() }()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !matches(path, event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, fn)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warnf("watch: %v", err)
		}
	}
}

func matches(path, name string) bool {
	name = filepath.Clean(name)
	if name == path {
		return true
	}
	for _, suffix := range []string{"-wal", "-journal", "-shm"} {
		if name == path+suffix {
			return true
		}
	}
	return false
}

// Close stops watching and waits for the watch goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() { err = w.fsw.Close() })
	<-w.done
	return err
}

// Done is closed once the watcher stopped.
func (w *Watcher) Done() <-chan struct{} { return w.done }
