// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/keysetup/internal/i18n"
	"github.com/toeirei/keysetup/internal/security"
	"golang.org/x/term"
)

// readLine reads one line from the command's input without the newline.
func (a *app) readLine(cmd *cobra.Command) (string, error) {
	line, err := a.lineReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassphrase prompts on stderr. A terminal is read without echo,
// anything else line by line.
func (a *app) readPassphrase(cmd *cobra.Command, prompt string) (security.Secret, error) {
	errOut := cmd.ErrOrStderr()
	fmt.Fprint(errOut, prompt)
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(errOut)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		return security.FromBytes(b), nil
	}
	line, err := a.readLine(cmd)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return security.FromString(line), nil
}

// confirm asks a yes/no question; anything but yes is no.
func (a *app) confirm(cmd *cobra.Command, prompt string) (bool, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := a.readLine(cmd)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "j", "ja":
		return true, nil
	}
	return false, nil
}

// unlock asks for the keyring passphrase when the keyring is locked.
func (a *app) unlock(cmd *cobra.Command) error {
	if !a.kr.IsLocked() {
		return nil
	}
	pass, err := a.readPassphrase(cmd, i18n.T("cli.keyring_passphrase"))
	if err != nil {
		return err
	}
	defer pass.Zero()
	return a.kr.Unlock(cmd.Context(), pass)
}
