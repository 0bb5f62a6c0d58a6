// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package welcome drives the first-run setup of the keyring: it checks for
// existing keys and, when there are none, offers key generation, keyring
// import and passphrase configuration through units mounted in named slots.
//
// The orchestrator's operations block and are meant to run off the UI
// goroutine. Session state is guarded by a mutex and at most one
// keyring-mutating operation is accepted at a time.
package welcome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/toeirei/keysetup/internal/db"
	"github.com/toeirei/keysetup/internal/i18n"
	"github.com/toeirei/keysetup/internal/keyring"
	"github.com/toeirei/keysetup/internal/logging"
	"github.com/toeirei/keysetup/internal/model"
	"github.com/toeirei/keysetup/internal/security"
)

// Context is the keyring as seen by the orchestrator. *keyring.Keyring
// implements it.
type Context interface {
	ListKeys(ctx context.Context, includeAll bool) (map[string]model.KeyInfo, error)
	IsEncrypted() bool
	GenerateKey(ctx context.Context, req model.KeyGenerationRequest) (*model.Key, error)
	Describe(raw []byte) (string, error)
	Import(ctx context.Context, ask keyring.PassphraseFunc, raw []byte) (*model.ImportResult, error)
	ChangePassphrase(ctx context.Context, newPassphrase security.Secret) error
}

// locker is implemented by contexts that can tell a protected keyring
// from one that is protected and still locked.
type locker interface {
	IsLocked() bool
}

// unlocker is implemented by contexts that take the keyring passphrase
// for the rest of the session.
type unlocker interface {
	Unlock(ctx context.Context, passphrase security.Secret) error
}

// ContextProvider hands out the keyring. It fails when the keyring is not
// available yet.
type ContextProvider func(ctx context.Context) (Context, error)

// PreferenceStore persists the welcome preferences; *db.Store implements it.
type PreferenceStore interface {
	SetPreference(ctx context.Context, name string, value bool) error
}

// Notifier reports finished operations outside the UI.
type Notifier interface {
	Notify(title, message string) error
}

// LockedPolicy decides what generation does on a locked keyring.
type LockedPolicy string

const (
	// LockedWarn shows a blocking warning and generates anyway.
	LockedWarn LockedPolicy = "warn"
	// LockedBlock shows the warning and aborts generation.
	LockedBlock LockedPolicy = "block"
)

// ParseLockedPolicy accepts "warn" and "block"; empty means warn.
func ParseLockedPolicy(s string) (LockedPolicy, error) {
	switch LockedPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", LockedWarn:
		return LockedWarn, nil
	case LockedBlock:
		return LockedBlock, nil
	}
	return "", fmt.Errorf("unknown locked keyring policy %q", s)
}

// Options configure an Orchestrator. The zero value is usable.
type Options struct {
	LockedPolicy LockedPolicy
	// KeyDefaults seeds every generation request; identity fields are
	// taken from the form.
	KeyDefaults model.KeyGenerationRequest
	FormOptions []FormOption
	// OnChange is called after every slot or phase change, possibly with
	// the session lock held. It must not block or call the orchestrator.
	OnChange    func()
	Preferences PreferenceStore
	Notifier    Notifier
	// OnExport is offered as the keyring panel's export action.
	OnExport func()
	ReadFile func(path string) ([]byte, error)
}

// Session is a snapshot of the current setup session.
type Session struct {
	ID      uuid.UUID
	Phase   Phase
	Hidden  bool
	Closed  bool
	Encrypt bool
}

// Orchestrator is the first-run setup state machine.
type Orchestrator struct {
	provider ContextProvider
	opts     Options
	reg      *Registry

	mu     sync.Mutex
	id     uuid.UUID
	epoch  uint64
	phase  Phase
	kctx   Context
	hidden bool
	closed bool
}

// New returns an orchestrator in PhaseInit.
func New(provider ContextProvider, opts Options) *Orchestrator {
	if opts.LockedPolicy == "" {
		opts.LockedPolicy = LockedWarn
	}
	if opts.KeyDefaults.Algorithm == "" {
		opts.KeyDefaults = model.DefaultKeyGenerationRequest("", "", "")
	}
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}
	o := &Orchestrator{provider: provider, opts: opts}
	o.reg = NewRegistry(o.notifyChange)
	return o
}

func (o *Orchestrator) notifyChange() {
	if o.opts.OnChange != nil {
		o.opts.OnChange()
	}
}

// Registry exposes the slot registry for rendering.
func (o *Orchestrator) Registry() *Registry { return o.reg }

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Session returns a snapshot of the session.
func (o *Orchestrator) Session() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Session{ID: o.id, Phase: o.phase, Hidden: o.hidden, Closed: o.closed}
	if o.kctx != nil {
		s.Encrypt = o.kctx.IsEncrypted()
	}
	return s
}

func (o *Orchestrator) setPhaseLocked(p Phase) {
	if o.phase == p {
		return
	}
	logging.Debugf("welcome: session %s phase %s -> %s", o.id, o.phase, p)
	o.phase = p
}

// Activate starts a new session: it obtains the keyring, lists the keys
// and either hides the setup sections or mounts the setup units. A previous
// session is superseded and its pending results are dropped.
func (o *Orchestrator) Activate(ctx context.Context) error {
	const op = "activate"
	o.mu.Lock()
	o.epoch++
	epoch := o.epoch
	o.id = uuid.New()
	o.kctx = nil
	o.hidden = false
	o.closed = false
	o.setPhaseLocked(PhaseInit)
	o.setPhaseLocked(PhaseCheckingKeys)
	o.mu.Unlock()
	o.reg.Remove(SlotCallback)
	o.notifyChange()

	kctx, err := o.provider(ctx)
	if err == nil && kctx == nil {
		err = errors.New("no keyring returned")
	}
	if err != nil {
		logging.Errorf("welcome: %v: %v", ErrContextUnavailable, err)
		o.mu.Lock()
		if o.epoch == epoch {
			o.setPhaseLocked(PhaseFailed)
		}
		o.mu.Unlock()
		o.notifyChange()
		return newError(KindContextUnavailable, op, fmt.Errorf("%w: %v", ErrContextUnavailable, err))
	}

	keys, err := kctx.ListKeys(ctx, true)
	if err != nil {
		o.mu.Lock()
		current := o.epoch == epoch
		if current {
			o.setPhaseLocked(PhaseFailed)
		}
		o.mu.Unlock()
		e := newError(KindOperationFailed, op, err)
		if current {
			o.surface(e)
		}
		return e
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != epoch {
		return newError(KindOperationFailed, op, ErrStale)
	}
	o.kctx = kctx
	if len(keys) > 0 {
		o.setPhaseLocked(PhaseKeyringPresent)
		o.hideLocked()
		o.setPhaseLocked(PhaseDone)
		o.notifyChange()
		return nil
	}
	o.setPhaseLocked(PhaseNeedsSetup)
	o.reg.Mount(SlotNovice, NewGenerateKeyForm(o.opts.FormOptions...))
	o.reg.Mount(SlotAdvanced, o.newPanel(kctx))
	o.setPhaseLocked(PhaseAwaitingUserAction)
	o.notifyChange()
	return nil
}

func (o *Orchestrator) newPanel(kctx Context) *KeyringPanel {
	p := NewKeyringPanel(o.opts.OnExport)
	p.SetKeyringEncrypted(kctx.IsEncrypted())
	return p
}

// begin claims the session for a keyring-mutating operation. The caller
// must finish with end.
func (o *Orchestrator) begin(op, slot string, want UnitKind, p Phase) (uint64, Context, Phase, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase.Busy() {
		return 0, nil, 0, newError(KindOperationFailed, op, ErrBusy)
	}
	if !o.phase.acceptsActions() || o.kctx == nil || o.closed {
		return 0, nil, 0, newError(KindOperationFailed, op, ErrNotReady)
	}
	if u := o.reg.Get(slot); u == nil || u.Kind() != want {
		return 0, nil, 0, newError(KindOperationFailed, op, ErrNotReady)
	}
	prev := o.phase
	o.setPhaseLocked(p)
	o.notifyChange()
	return o.epoch, o.kctx, prev, nil
}

// end returns to phase p unless the session was superseded. It reports
// whether the session is still current and leaves the lock held when it
// is.
func (o *Orchestrator) end(epoch uint64, p Phase) bool {
	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return false
	}
	o.setPhaseLocked(p)
	return true
}

// fail ends an operation with err and surfaces it unless the user
// cancelled or the session moved on.
func (o *Orchestrator) fail(epoch uint64, prev Phase, e *Error) error {
	if !o.end(epoch, prev) {
		return newError(e.Kind, e.Op, ErrStale)
	}
	o.mu.Unlock()
	o.notifyChange()
	if e.Kind != KindUserCancelled {
		o.surface(e)
	} else {
		logging.Debugf("welcome: %v", e)
	}
	return e
}

// surface shows err in the callback slot with the same dialog used for
// confirmations.
func (o *Orchestrator) surface(err error) {
	logging.Warnf("welcome: %v", err)
	var d *Dialog
	d = NewDialog(DialogSpec{
		Title:     i18n.T("welcome.error_title"),
		MessageID: "welcome.error",
		Message:   i18n.T("welcome.error", err.Error()),
		Error:     true,
	}, func(res DialogResult) {
		if !res.Disposed {
			o.reg.RemoveIf(SlotCallback, d)
		}
	})
	o.reg.Mount(SlotCallback, d)
}

// ask mounts a dialog in the callback slot and waits for its answer.
func (o *Orchestrator) ask(ctx context.Context, spec DialogSpec) (DialogResult, error) {
	answer := make(chan DialogResult, 1)
	spec.CancelOnDispose = true
	var d *Dialog
	d = NewDialog(spec, func(res DialogResult) {
		answer <- res
		if !res.Disposed {
			o.reg.RemoveIf(SlotCallback, d)
		}
	})
	o.reg.Mount(SlotCallback, d)
	select {
	case res := <-answer:
		return res, nil
	case <-ctx.Done():
		o.reg.RemoveIf(SlotCallback, d)
		return DialogResult{}, ctx.Err()
	}
}

func (o *Orchestrator) isLocked(kctx Context) bool {
	if l, ok := kctx.(locker); ok {
		return l.IsLocked()
	}
	return kctx.IsEncrypted()
}

// unlock asks for the keyring passphrase when kctx is locked and can be
// unlocked. A wrong passphrase leaves the keyring locked.
func (o *Orchestrator) unlock(ctx context.Context, kctx Context, op string) *Error {
	u, ok := kctx.(unlocker)
	if !ok || !o.isLocked(kctx) {
		return nil
	}
	res, err := o.ask(ctx, DialogSpec{
		Title:     i18n.T("welcome.unlock_title"),
		MessageID: "welcome.unlock_keyring",
		Message:   i18n.T("welcome.unlock_keyring"),
		Input:     InputSecureText,
	})
	if err != nil {
		return newError(KindUserCancelled, op, err)
	}
	if !res.Confirmed {
		return newError(KindUserCancelled, op, keyring.ErrPassphraseCancelled)
	}
	pass := res.Value
	defer pass.Zero()
	if err := u.Unlock(ctx, pass); err != nil {
		return newError(KindOperationFailed, op, err)
	}
	logging.Debugf("welcome: keyring unlocked")
	return nil
}

// dropPrompt removes a passphrase prompt nobody waits for anymore.
func (o *Orchestrator) dropPrompt() {
	if d, ok := o.reg.Get(SlotCallback).(*Dialog); ok && d.MessageID == "prompt.passphrase_callback" {
		o.reg.RemoveIf(SlotCallback, d)
	}
}

// GenerateKey creates a key from req. The generation form in the novice
// slot is replaced by a confirmation whose dismissal hides the setup.
// A locked keyring is unlocked first unless the policy blocks; contexts
// that cannot be unlocked only get the warning.
func (o *Orchestrator) GenerateKey(ctx context.Context, req model.KeyGenerationRequest) error {
	const op = "generate key"
	epoch, kctx, prev, err := o.begin(op, SlotNovice, UnitGenerateKeyForm, PhaseGenerating)
	if err != nil {
		return err
	}

	_, canUnlock := kctx.(unlocker)
	if canUnlock && o.opts.LockedPolicy != LockedBlock {
		if e := o.unlock(ctx, kctx, op); e != nil {
			return o.fail(epoch, prev, e)
		}
	} else if o.isLocked(kctx) {
		msgID := "settings.keyring_locked_error"
		if o.opts.LockedPolicy == LockedBlock {
			msgID = "settings.keyring_locked_blocked"
		}
		if _, err := o.ask(ctx, DialogSpec{
			Title:     i18n.T("welcome.warning_title"),
			MessageID: msgID,
			Message:   i18n.T(msgID),
		}); err != nil {
			return o.fail(epoch, prev, newError(KindUserCancelled, op, err))
		}
		if o.opts.LockedPolicy == LockedBlock {
			// The warning already told the user; no second dialog.
			if !o.end(epoch, prev) {
				return newError(KindOperationFailed, op, ErrStale)
			}
			o.mu.Unlock()
			o.notifyChange()
			return newError(KindOperationFailed, op, keyring.ErrLocked)
		}
	}

	key, err := kctx.GenerateKey(ctx, req)
	if err != nil {
		return o.fail(epoch, prev, newError(KindOperationFailed, op, err))
	}

	if !o.end(epoch, PhaseConfirming) {
		return newError(KindOperationFailed, op, ErrStale)
	}
	form, _ := o.reg.Get(SlotNovice).(*GenerateKeyForm)
	o.reg.Mount(SlotNovice, NewDialog(DialogSpec{
		MessageID: "welcome.gen_key_confirm",
		Message:   i18n.T("welcome.gen_key_confirm"),
	}, func(DialogResult) { o.finishSetup(epoch) }))
	if form != nil {
		form.Reset()
	}
	o.mu.Unlock()
	o.notifyChange()
	logging.Infof("welcome: generated key %s for %s", key.ID, key.UserID)
	o.notify(i18n.T("welcome.gen_key_confirm"))
	return nil
}

// ImportKeyring imports the keys in the file at path after the user
// confirmed the description of its contents.
func (o *Orchestrator) ImportKeyring(ctx context.Context, path string) error {
	const op = "import keyring"
	epoch, kctx, prev, err := o.begin(op, SlotAdvanced, UnitKeyringPanel, PhaseImporting)
	if err != nil {
		return err
	}

	raw, err := o.opts.ReadFile(path)
	if err != nil {
		return o.fail(epoch, prev, newError(KindMalformedInput, op, err))
	}
	desc, err := kctx.Describe(raw)
	if err != nil {
		return o.fail(epoch, prev, newError(KindMalformedInput, op, err))
	}

	res, err := o.ask(ctx, DialogSpec{
		Title:     i18n.T("welcome.import_title"),
		MessageID: "welcome.import_confirm",
		Message:   i18n.T("welcome.import_confirm", desc),
		Input:     InputConfirm,
	})
	if err != nil {
		return o.fail(epoch, prev, newError(KindUserCancelled, op, err))
	}
	if !res.Confirmed {
		return o.fail(epoch, prev, newError(KindUserCancelled, op, nil))
	}

	if e := o.unlock(ctx, kctx, op); e != nil {
		return o.fail(epoch, prev, e)
	}
	result, err := kctx.Import(ctx, o.RenderPassphraseCallback, raw)
	if err != nil {
		o.dropPrompt()
		kind := KindOperationFailed
		if errors.Is(err, keyring.ErrPassphraseCancelled) || errors.Is(err, context.Canceled) {
			kind = KindUserCancelled
		}
		return o.fail(epoch, prev, newError(kind, op, err))
	}

	if !o.end(epoch, PhaseConfirming) {
		return newError(KindOperationFailed, op, ErrStale)
	}
	o.reg.Mount(SlotAdvanced, NewDialog(DialogSpec{
		MessageID: "welcome.key_import",
		Message:   i18n.T("welcome.key_import"),
	}, func(DialogResult) { o.finishSetup(epoch) }))
	o.mu.Unlock()
	o.notifyChange()
	logging.Infof("welcome: imported %d keys, skipped %d", len(result.Imported), len(result.Skipped))
	o.notify(i18n.T("welcome.key_import"))
	return nil
}

// ChangePassphrase re-keys the keyring. The panel is replaced by a notice;
// dismissing it mounts a fresh panel that reflects the new lock state.
func (o *Orchestrator) ChangePassphrase(ctx context.Context, newPassphrase security.Secret) error {
	const op = "change passphrase"
	epoch, kctx, prev, err := o.begin(op, SlotAdvanced, UnitKeyringPanel, PhaseChangingPassphrase)
	if err != nil {
		return err
	}
	if e := o.unlock(ctx, kctx, op); e != nil {
		return o.fail(epoch, prev, e)
	}
	if err := kctx.ChangePassphrase(ctx, newPassphrase); err != nil {
		return o.fail(epoch, prev, newError(KindOperationFailed, op, err))
	}

	if !o.end(epoch, PhaseConfirming) {
		return newError(KindOperationFailed, op, ErrStale)
	}
	o.reg.Mount(SlotAdvanced, NewDialog(DialogSpec{
		MessageID: "keymgmt.change_passphrase_success",
		Message:   i18n.T("keymgmt.change_passphrase_success"),
	}, func(DialogResult) { o.remountPanel(epoch) }))
	o.mu.Unlock()
	o.notifyChange()
	o.notify(i18n.T("keymgmt.change_passphrase_success"))
	return nil
}

func (o *Orchestrator) remountPanel(epoch uint64) {
	o.mu.Lock()
	defer o.notifyChange()
	defer o.mu.Unlock()
	if o.epoch != epoch || o.hidden || o.kctx == nil {
		return
	}
	o.reg.Mount(SlotAdvanced, o.newPanel(o.kctx))
	if !o.phase.Busy() {
		o.setPhaseLocked(PhaseAwaitingUserAction)
	}
}

func (o *Orchestrator) finishSetup(epoch uint64) {
	o.mu.Lock()
	defer o.notifyChange()
	defer o.mu.Unlock()
	if o.epoch != epoch {
		return
	}
	o.hideLocked()
	o.setPhaseLocked(PhaseDone)
}

// RenderPassphraseCallback asks for the passphrase of the key uid with a
// secure input dialog. Submitting disposes the dialog and resolves r once;
// cancelling or tearing the dialog down cancels r.
func (o *Orchestrator) RenderPassphraseCallback(uid string, r *keyring.Resolver) {
	var d *Dialog
	d = NewDialog(DialogSpec{
		Title:     i18n.T("action.enter_passphrase"),
		MessageID: "prompt.passphrase_callback",
		Message:   i18n.T("prompt.passphrase_callback", uid),
		Input:     InputSecureText,
		// Every path must answer r.
		CancelOnDispose: true,
	}, func(res DialogResult) {
		if !res.Disposed {
			o.reg.RemoveIf(SlotCallback, d)
		}
		if res.Confirmed {
			r.Resolve(res.Value)
		} else {
			r.Cancel()
		}
	})
	o.reg.Mount(SlotCallback, d)
}

// HideKeyringSetup removes the novice and advanced sections. It reports
// whether anything changed; later calls are no-ops.
func (o *Orchestrator) HideKeyringSetup() bool {
	o.mu.Lock()
	changed := o.hideLocked()
	o.mu.Unlock()
	if changed {
		o.notifyChange()
	}
	return changed
}

func (o *Orchestrator) hideLocked() bool {
	if o.hidden {
		return false
	}
	o.hidden = true
	o.reg.Remove(SlotNovice)
	o.reg.Remove(SlotAdvanced)
	return true
}

// Recheck lists the keys again and hides the setup once keys exist. It only
// acts while the session waits for the user, so a pending confirmation is
// never torn down; a session that never obtained the keyring is activated
// again.
func (o *Orchestrator) Recheck(ctx context.Context) error {
	o.mu.Lock()
	epoch, kctx, phase, hidden := o.epoch, o.kctx, o.phase, o.hidden
	o.mu.Unlock()

	if kctx == nil && (phase == PhaseInit || phase == PhaseFailed) {
		return o.Activate(ctx)
	}
	if kctx == nil || hidden || phase != PhaseAwaitingUserAction {
		return nil
	}
	keys, err := kctx.ListKeys(ctx, true)
	if err != nil {
		return newError(KindOperationFailed, "recheck", err)
	}
	if len(keys) == 0 {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != epoch || o.hidden || o.phase != PhaseAwaitingUserAction {
		return nil
	}
	logging.Infof("welcome: %d keys appeared, hiding setup", len(keys))
	o.setPhaseLocked(PhaseKeyringPresent)
	o.hideLocked()
	o.reg.Remove(SlotCallback)
	o.setPhaseLocked(PhaseDone)
	o.notifyChange()
	return nil
}

// CloseWelcome stores whether the welcome screen should be shown on the
// next start and ends the session.
func (o *Orchestrator) CloseWelcome(ctx context.Context, showAgain bool) error {
	const op = "close welcome"
	o.mu.Lock()
	if o.phase.Busy() {
		o.mu.Unlock()
		return newError(KindOperationFailed, op, ErrBusy)
	}
	o.mu.Unlock()

	if o.opts.Preferences != nil {
		if err := o.opts.Preferences.SetPreference(ctx, db.PrefWelcomeEnabled, showAgain); err != nil {
			return newError(KindOperationFailed, op, err)
		}
	}

	o.mu.Lock()
	o.epoch++
	o.closed = true
	o.setPhaseLocked(PhaseDone)
	o.mu.Unlock()
	o.reg.Clear()
	o.notifyChange()
	return nil
}

func (o *Orchestrator) notify(message string) {
	if o.opts.Notifier == nil {
		return
	}
	if err := o.opts.Notifier.Notify(i18n.T("ext.name"), message); err != nil {
		logging.Debugf("welcome: desktop notification failed: %v", err)
	}
}
