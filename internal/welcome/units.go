// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package welcome

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/toeirei/keysetup/internal/model"
	"github.com/toeirei/keysetup/internal/security"
)

// UnitKind names a presentation unit variant.
type UnitKind int

const (
	UnitGenerateKeyForm UnitKind = iota + 1
	UnitKeyringPanel
	UnitDialog
)

func (k UnitKind) String() string {
	switch k {
	case UnitGenerateKeyForm:
		return "generate-key-form"
	case UnitKeyringPanel:
		return "keyring-panel"
	case UnitDialog:
		return "dialog"
	}
	return "unknown"
}

// Unit is a presentation unit that can live in a slot.
type Unit interface {
	Kind() UnitKind
	Mount(slot string)
	Dispose()
	Disposed() bool
}

// lifecycle is the mount/dispose bookkeeping shared by the units.
type lifecycle struct {
	slot      atomic.Value // string
	disposals atomic.Int32
}

func (l *lifecycle) Mount(slot string) { l.slot.Store(slot) }

// Slot is the slot the unit was last mounted into.
func (l *lifecycle) Slot() string {
	s, _ := l.slot.Load().(string)
	return s
}

func (l *lifecycle) Dispose() { l.disposals.Add(1) }

func (l *lifecycle) Disposed() bool { return l.disposals.Load() > 0 }

// DisposeCount reports how often the unit was disposed.
func (l *lifecycle) DisposeCount() int { return int(l.disposals.Load()) }

// FormOption configures a GenerateKeyForm.
type FormOption func(*GenerateKeyForm)

// WithHiddenTitle hides the form's title line.
func WithHiddenTitle() FormOption {
	return func(f *GenerateKeyForm) { f.hideTitle = true }
}

// WithActionLabel overrides the submit button label.
func WithActionLabel(label string) FormOption {
	return func(f *GenerateKeyForm) { f.actionLabel = label }
}

// GenerateKeyForm captures the identity for a new key.
type GenerateKeyForm struct {
	lifecycle

	hideTitle   bool
	actionLabel string

	mu                   sync.Mutex
	name, email, comment string
	resets               int
}

// NewGenerateKeyForm returns an empty form.
func NewGenerateKeyForm(opts ...FormOption) *GenerateKeyForm {
	f := &GenerateKeyForm{}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *GenerateKeyForm) Kind() UnitKind { return UnitGenerateKeyForm }

func (f *GenerateKeyForm) HideTitle() bool { return f.hideTitle }

// ActionLabel is the submit label, empty for the default.
func (f *GenerateKeyForm) ActionLabel() string { return f.actionLabel }

// SetInput stores the values typed by the user.
func (f *GenerateKeyForm) SetInput(name, email, comment string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name, f.email, f.comment = name, email, comment
}

// Input returns the captured values.
func (f *GenerateKeyForm) Input() (name, email, comment string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name, f.email, f.comment
}

// Request builds a generation request from the captured input on top of
// defaults.
func (f *GenerateKeyForm) Request(defaults model.KeyGenerationRequest) model.KeyGenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := defaults
	req.Name = strings.TrimSpace(f.name)
	req.Email = strings.TrimSpace(f.email)
	req.Comment = strings.TrimSpace(f.comment)
	return req
}

// Reset clears the captured input.
func (f *GenerateKeyForm) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name, f.email, f.comment = "", "", ""
	f.resets++
}

// Resets reports how often the form was reset.
func (f *GenerateKeyForm) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// KeyringPanel offers import, export and passphrase change.
type KeyringPanel struct {
	lifecycle
	encrypted atomic.Bool
	onExport  func()
}

// NewKeyringPanel returns a panel. onExport may be nil.
func NewKeyringPanel(onExport func()) *KeyringPanel {
	return &KeyringPanel{onExport: onExport}
}

func (p *KeyringPanel) Kind() UnitKind { return UnitKeyringPanel }

// SetKeyringEncrypted records whether the keyring has a passphrase.
func (p *KeyringPanel) SetKeyringEncrypted(v bool) { p.encrypted.Store(v) }

func (p *KeyringPanel) KeyringEncrypted() bool { return p.encrypted.Load() }

// CanExport reports whether the panel has an export action.
func (p *KeyringPanel) CanExport() bool { return p.onExport != nil }

// Export runs the export action, if any.
func (p *KeyringPanel) Export() {
	if p.onExport != nil {
		p.onExport()
	}
}

// InputType selects what a dialog asks for.
type InputType int

const (
	InputNone InputType = iota
	InputText
	InputSecureText
	InputConfirm
)

// DialogResult is delivered to the dialog callback exactly once.
type DialogResult struct {
	Confirmed bool
	Value     security.Secret
	// Disposed is set when the dialog was torn down without an answer.
	Disposed bool
}

// DialogSpec describes a dialog.
type DialogSpec struct {
	Title     string
	MessageID string
	Message   string
	Input     InputType
	// CancelOnDispose delivers a cancelled result when the dialog is
	// disposed unanswered. The callback then runs under the registry lock
	// and must not call back into it.
	CancelOnDispose bool
	// Error marks failure notices.
	Error bool
}

// Dialog is a notice, confirmation or input prompt. Its callback fires at
// most once; later answers are ignored.
type Dialog struct {
	lifecycle
	DialogSpec

	closed  atomic.Bool
	onClose func(DialogResult)
}

// NewDialog returns a dialog calling onClose with the user's answer.
func NewDialog(spec DialogSpec, onClose func(DialogResult)) *Dialog {
	return &Dialog{DialogSpec: spec, onClose: onClose}
}

func (d *Dialog) Kind() UnitKind { return UnitDialog }

// Closed reports whether the dialog was answered.
func (d *Dialog) Closed() bool { return d.closed.Load() }

func (d *Dialog) close(res DialogResult) bool {
	if !d.closed.CompareAndSwap(false, true) {
		return false
	}
	if d.onClose != nil {
		d.onClose(res)
	}
	return true
}

// Submit answers an input dialog with value. It reports false when the
// dialog was already answered.
func (d *Dialog) Submit(value security.Secret) bool {
	return d.close(DialogResult{Confirmed: true, Value: value})
}

// Confirm answers a yes/no dialog.
func (d *Dialog) Confirm(yes bool) bool {
	return d.close(DialogResult{Confirmed: yes})
}

// Dismiss acknowledges a notice.
func (d *Dialog) Dismiss() bool {
	return d.close(DialogResult{Confirmed: true})
}

// Cancel declines the dialog.
func (d *Dialog) Cancel() bool {
	return d.close(DialogResult{})
}

func (d *Dialog) Dispose() {
	d.lifecycle.Dispose()
	if d.CancelOnDispose {
		d.close(DialogResult{Disposed: true})
	}
}
