// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package notify sends desktop notifications for finished keyring
// operations.
package notify

import (
	"strings"

	"github.com/gen2brain/beeep"
)

// sendFunc is beeep.Notify; tests replace it.
var sendFunc = func(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Desktop posts notifications through the platform notification service.
// A disabled Desktop drops them.
type Desktop struct {
	Enabled bool
}

// New returns a Desktop notifier and names the application for beeep.
func New(appName string, enabled bool) *Desktop {
	if appName != "" {
		beeep.AppName = appName
	}
	return &Desktop{Enabled: enabled}
}

// Notify sends title and message. Empty notifications are skipped.
func (d *Desktop) Notify(title, message string) error {
	if d == nil || !d.Enabled {
		return nil
	}
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	if title == "" && message == "" {
		return nil
	}
	return sendFunc(title, message)
}
