// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toeirei/keysetup/internal/i18n"
	"github.com/toeirei/keysetup/internal/keyring"
)

func newKeysCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List and generate keys",
	}

	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the keys in the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printKeys(cmd, a.kr, all)
		},
	}
	listCmd.Flags().BoolVar(&all, "all", false, "Include expired keys")

	var name, email, comment string
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new key with an encryption subkey",
		Long: `Generates a primary signing key and an ECDH encryption subkey for the
given identity. Algorithm, size and expiration come from the keygen section
of the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.keyDefaults()
			if err != nil {
				return err
			}
			req.Name, req.Email, req.Comment = name, email, comment
			if err := req.Validate(); err != nil {
				return err
			}
			if err := a.unlock(cmd); err != nil {
				return err
			}
			key, err := a.kr.GenerateKey(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.generated", key.Info()))
			fmt.Fprintln(cmd.OutOrStdout(), key.PublicKey)
			return nil
		},
	}
	generateCmd.Flags().StringVar(&name, "name", "", "Real name of the key owner")
	generateCmd.Flags().StringVar(&email, "email", "", "Email address of the key owner")
	generateCmd.Flags().StringVar(&comment, "comment", "", "Comment added to the user id")

	cmd.AddCommand(listCmd, generateCmd)
	return cmd
}

// printKeys writes one line per key, oldest first.
func printKeys(cmd *cobra.Command, kr *keyring.Keyring, all bool) error {
	keys, err := kr.ListKeys(cmd.Context(), all)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		fmt.Fprintln(out, i18n.T("cli.no_keys"))
		return nil
	}
	for _, k := range sortedKeys(keys) {
		sub := ""
		if k.HasSubkey {
			sub = " +sub"
		}
		fmt.Fprintf(out, "%s  %s%s\n", k.ID, k, sub)
	}
	return nil
}
