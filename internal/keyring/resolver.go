// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package keyring

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/toeirei/keysetup/internal/security"
)

// ErrResolverReused is the panic value of a second Resolve or Cancel on the
// same Resolver.
var ErrResolverReused = errors.New("keyring: passphrase resolver used twice")

// ErrPassphraseCancelled is returned by Import when the user declines to
// enter a passphrase.
var ErrPassphraseCancelled = errors.New("keyring: passphrase entry cancelled")

// PassphraseFunc is asked for the passphrase of the key identified by uid.
// It must eventually call exactly one of r.Resolve or r.Cancel, from any
// goroutine.
type PassphraseFunc func(uid string, r *Resolver)

type resolution struct {
	passphrase security.Secret
	cancelled  bool
}

// Resolver is a one-shot token handed to a PassphraseFunc.
type Resolver struct {
	used atomic.Bool
	ch   chan resolution
}

// NewResolver returns an unused resolver.
func NewResolver() *Resolver {
	return &Resolver{ch: make(chan resolution, 1)}
}

// Resolve delivers the passphrase. It panics when the resolver was already
// resolved or cancelled.
func (r *Resolver) Resolve(passphrase security.Secret) {
	r.claim()
	r.ch <- resolution{passphrase: passphrase}
}

// Cancel reports that no passphrase will be given. It panics when the
// resolver was already resolved or cancelled.
func (r *Resolver) Cancel() {
	r.claim()
	r.ch <- resolution{cancelled: true}
}

// Used reports whether Resolve or Cancel has been called.
func (r *Resolver) Used() bool { return r.used.Load() }

func (r *Resolver) claim() {
	if !r.used.CompareAndSwap(false, true) {
		panic(ErrResolverReused)
	}
}

// Wait blocks until the resolver is used or ctx ends.
func (r *Resolver) Wait(ctx context.Context) (security.Secret, error) {
	select {
	case res := <-r.ch:
		if res.cancelled {
			return nil, ErrPassphraseCancelled
		}
		return res.passphrase, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
