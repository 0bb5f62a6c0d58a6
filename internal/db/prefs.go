// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"

	"github.com/toeirei/keysetup/internal/model"
	"github.com/uptrace/bun"
)

// Preference names stored in the preferences table.
const (
	PrefWelcomeEnabled        = "welcome_enabled"
	PrefActionSniffingEnabled = "action_sniffing_enabled"
)

// Preferences loads the stored toggles on top of model.DefaultPreferences.
func (s *Store) Preferences(ctx context.Context) (model.Preferences, error) {
	p := model.DefaultPreferences()
	var rows []PreferenceModel
	if err := s.bun.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return p, err
	}
	for _, r := range rows {
		switch r.Name {
		case PrefWelcomeEnabled:
			p.WelcomeEnabled = r.Value
		case PrefActionSniffingEnabled:
			p.ActionSniffingEnabled = r.Value
		}
	}
	return p, nil
}

// SetPreference stores a single toggle.
func (s *Store) SetPreference(ctx context.Context, name string, value bool) error {
	switch name {
	case PrefWelcomeEnabled, PrefActionSniffingEnabled:
	default:
		return fmt.Errorf("unknown preference %q", name)
	}
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*PreferenceModel)(nil)).Where("name = ?", name).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&PreferenceModel{Name: name, Value: value}).Exec(ctx)
		return err
	})
}
