// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package welcome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/toeirei/keysetup/internal/keyring"
	"github.com/toeirei/keysetup/internal/model"
	"github.com/toeirei/keysetup/internal/security"
)

// fakeContext is an in-memory keyring with hooks for every call.
type fakeContext struct {
	mu sync.Mutex

	keys      map[string]model.KeyInfo
	listErr   error
	encrypted bool
	locked    bool

	genGate  chan struct{}
	genErr   error
	genCalls int
	genReq   model.KeyGenerationRequest

	describeErr error
	// needPassphrase lists the uids Import asks a passphrase for.
	needPassphrase []string
	wantPassphrase string
	importCalls    int
	passphrases    []string
	importErr      error

	changeErr error
	changed   security.Secret
}

func newFakeContext() *fakeContext {
	return &fakeContext{keys: map[string]model.KeyInfo{}}
}

func (f *fakeContext) ListKeys(_ context.Context, _ bool) (map[string]model.KeyInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]model.KeyInfo, len(f.keys))
	for k, v := range f.keys {
		out[k] = v
	}
	return out, nil
}

func (f *fakeContext) IsEncrypted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encrypted
}

func (f *fakeContext) IsLocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked
}

func (f *fakeContext) GenerateKey(_ context.Context, req model.KeyGenerationRequest) (*model.Key, error) {
	f.mu.Lock()
	f.genCalls++
	f.genReq = req
	n, gate, genErr := f.genCalls, f.genGate, f.genErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if genErr != nil {
		return nil, genErr
	}
	key := &model.Key{ID: fmt.Sprintf("KEY%d", n), UserID: req.UserID(), Algorithm: req.Algorithm}
	f.mu.Lock()
	f.keys[key.ID] = key.Info()
	f.mu.Unlock()
	return key, nil
}

func (f *fakeContext) Describe(raw []byte) (string, error) {
	if f.describeErr != nil {
		return "", f.describeErr
	}
	return "pub " + string(raw), nil
}

func (f *fakeContext) Import(ctx context.Context, ask keyring.PassphraseFunc, raw []byte) (*model.ImportResult, error) {
	f.mu.Lock()
	f.importCalls++
	uids := append([]string(nil), f.needPassphrase...)
	f.mu.Unlock()
	for _, uid := range uids {
		r := keyring.NewResolver()
		ask(uid, r)
		p, err := r.Wait(ctx)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.passphrases = append(f.passphrases, p.Reveal())
		f.mu.Unlock()
		if f.wantPassphrase != "" && p.Reveal() != f.wantPassphrase {
			return nil, keyring.ErrWrongPassphrase
		}
	}
	if f.importErr != nil {
		return nil, f.importErr
	}
	info := model.KeyInfo{ID: "IMPORTED", UserID: string(raw)}
	f.mu.Lock()
	f.keys[info.ID] = info
	f.mu.Unlock()
	return &model.ImportResult{Imported: []model.KeyInfo{info}}, nil
}

func (f *fakeContext) ChangePassphrase(_ context.Context, p security.Secret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changeErr != nil {
		return f.changeErr
	}
	f.changed = p
	f.encrypted = !p.IsEmpty()
	return nil
}

// tracker checks the one-live-unit-per-slot invariant on every change.
type tracker struct {
	mu         sync.Mutex
	reg        *Registry
	seen       map[Unit]bool
	violations []string
}

func (tr *tracker) onChange() {
	if tr.reg == nil {
		return
	}
	snap := tr.reg.Snapshot()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	live := map[Unit]bool{}
	for slot, u := range snap {
		live[u] = true
		tr.seen[u] = true
		if u.Disposed() {
			tr.violations = append(tr.violations, fmt.Sprintf("disposed %s still mounted in %s", u.Kind(), slot))
		}
	}
	for u := range tr.seen {
		if !live[u] && !u.Disposed() {
			tr.violations = append(tr.violations, fmt.Sprintf("%s left the registry without being disposed", u.Kind()))
		}
	}
}

func (tr *tracker) kindsSeen() map[UnitKind]int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := map[UnitKind]int{}
	for u := range tr.seen {
		out[u.Kind()]++
	}
	return out
}

func (tr *tracker) check(t *testing.T) {
	t.Helper()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, v := range tr.violations {
		t.Error(v)
	}
}

type harness struct {
	o   *Orchestrator
	fc  *fakeContext
	tr  *tracker
	ctx context.Context
}

func newHarness(t *testing.T, fc *fakeContext, opts Options) *harness {
	t.Helper()
	tr := &tracker{seen: map[Unit]bool{}}
	opts.OnChange = tr.onChange
	if opts.ReadFile == nil {
		opts.ReadFile = func(path string) ([]byte, error) { return []byte(path), nil }
	}
	o := New(func(context.Context) (Context, error) { return fc, nil }, opts)
	tr.reg = o.Registry()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	t.Cleanup(func() { tr.check(t) })
	return &harness{o: o, fc: fc, tr: tr, ctx: ctx}
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	if err := h.o.Activate(h.ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// waitDialog waits until slot holds a dialog with messageID.
func waitDialog(t *testing.T, o *Orchestrator, slot, messageID string) *Dialog {
	t.Helper()
	var d *Dialog
	waitFor(t, "dialog "+messageID+" in "+slot, func() bool {
		dd, ok := o.Registry().Get(slot).(*Dialog)
		if ok && dd.MessageID == messageID {
			d = dd
			return true
		}
		return false
	})
	return d
}

func run(f func() error) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- f() }()
	return errc
}

func recv(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not return")
		return nil
	}
}

var errBoom = errors.New("boom")
