// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Signal carries change notifications from the orchestrator into the
// program. Notifications coalesce and Notify never blocks, so it is safe as
// an orchestrator OnChange hook.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns an idle signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify records a pending change.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// wait delivers the next change as a changedMsg.
func (s *Signal) wait(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-s.ch:
			return changedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}
