// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestMatches(t *testing.T) {
	path := filepath.Join("/data", "keysetup.db")
	tests := []struct {
		name string
		want bool
	}{
		{path, true},
		{path + "-wal", true},
		{path + "-journal", true},
		{path + "-shm", true},
		{filepath.Join("/data", "other.db"), false},
		{path + ".bak", false},
	}
	for _, tt := range tests {
		if got := matches(path, tt.name); got != tt.want {
			t.Errorf("matches(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStart_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keysetup.db")
	if err := os.WriteFile(path, []byte("a"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := Start(ctx, path, 200*time.Millisecond, func() { calls.Add(1) })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	// Unrelated files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte(i)}, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(400 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("callback ran %d times, want 1", got)
	}
}

func TestStart_StopsWithContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	w, err := Start(ctx, filepath.Join(dir, "keysetup.db"), 0, func() {})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close after stop: %v", err)
	}
}

func TestStart_MissingDirectory(t *testing.T) {
	if _, err := Start(context.Background(), filepath.Join(t.TempDir(), "nope", "keysetup.db"), 0, func() {}); err == nil {
		t.Fatal("expected error for a missing directory")
	}
}
