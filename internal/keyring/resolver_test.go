// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package keyring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/toeirei/keysetup/internal/security"
)

func TestResolver_ResolveOnce(t *testing.T) {
	r := NewResolver()
	go r.Resolve(security.FromString("pw"))
	got, err := r.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got.Reveal() != "pw" {
		t.Fatalf("got %q", got.Reveal())
	}
	if !r.Used() {
		t.Fatal("Used() = false after Resolve")
	}
}

func TestResolver_SecondUsePanics(t *testing.T) {
	r := NewResolver()
	r.Cancel()
	defer func() {
		if v := recover(); v != ErrResolverReused {
			t.Fatalf("recover() = %v", v)
		}
	}()
	r.Resolve(security.FromString("late"))
}

func TestResolver_Cancel(t *testing.T) {
	r := NewResolver()
	r.Cancel()
	if _, err := r.Wait(context.Background()); !errors.Is(err, ErrPassphraseCancelled) {
		t.Fatalf("Wait = %v", err)
	}
}

func TestResolver_ContextDone(t *testing.T) {
	r := NewResolver()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v", err)
	}
}

func TestPassphraseVerifier(t *testing.T) {
	meta, err := newMeta(security.FromString("pw"))
	if err != nil {
		t.Fatalf("newMeta: %v", err)
	}
	if !verify(meta, security.FromString("pw")) || verify(meta, security.FromString("px")) {
		t.Fatal("verifier mismatch")
	}
	empty, _ := newMeta(nil)
	if empty.HasPassphrase() || !verify(empty, nil) {
		t.Fatal("empty passphrase should clear the verifier")
	}
}
