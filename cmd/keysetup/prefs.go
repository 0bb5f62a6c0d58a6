// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toeirei/keysetup/internal/db"
	"github.com/toeirei/keysetup/internal/i18n"
)

func newPrefsCmd(a *app) *cobra.Command {
	var welcomeOn, sniffingOn bool
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change the preferences",
		Long: `Without flags the stored preferences are printed. --welcome and
--action-sniffing change the respective toggle first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("welcome") {
				if err := a.store.SetPreference(ctx, db.PrefWelcomeEnabled, welcomeOn); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("action-sniffing") {
				if err := a.store.SetPreference(ctx, db.PrefActionSniffingEnabled, sniffingOn); err != nil {
					return err
				}
			}
			prefs, err := a.store.Preferences(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %t\n", i18n.T("welcome.preference_welcome_screen"), prefs.WelcomeEnabled)
			fmt.Fprintf(out, "%s: %t\n", i18n.T("preferences.action_sniffing"), prefs.ActionSniffingEnabled)
			return nil
		},
	}
	cmd.Flags().BoolVar(&welcomeOn, "welcome", true, "Show the welcome screen on start")
	cmd.Flags().BoolVar(&sniffingOn, "action-sniffing", true, "Detect key actions in supported tools")
	return cmd
}
