// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package welcome

// Phase is the state of a setup session.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseCheckingKeys
	PhaseKeyringPresent
	PhaseNeedsSetup
	PhaseAwaitingUserAction
	PhaseGenerating
	PhaseImporting
	PhaseChangingPassphrase
	PhaseConfirming
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseInit:               "init",
	PhaseCheckingKeys:       "checking-keys",
	PhaseKeyringPresent:     "keyring-present",
	PhaseNeedsSetup:         "needs-setup",
	PhaseAwaitingUserAction: "awaiting-user-action",
	PhaseGenerating:         "generating",
	PhaseImporting:          "importing",
	PhaseChangingPassphrase: "changing-passphrase",
	PhaseConfirming:         "confirming",
	PhaseDone:               "done",
	PhaseFailed:             "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Busy reports whether a keyring-mutating operation is in flight.
func (p Phase) Busy() bool {
	return p == PhaseGenerating || p == PhaseImporting || p == PhaseChangingPassphrase
}

// acceptsActions reports whether user actions on the setup units are served.
func (p Phase) acceptsActions() bool {
	return p == PhaseAwaitingUserAction || p == PhaseConfirming
}
