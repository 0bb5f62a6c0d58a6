// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"github.com/toeirei/keysetup/internal/i18n"
	"github.com/toeirei/keysetup/internal/keyring"
	"github.com/toeirei/keysetup/internal/security"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// readKeyringFile reads an export, decompressing it when it is zstd.
func readKeyringFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(raw, zstdMagic) {
		return raw, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("could not decompress %s: %w", path, err)
	}
	return out, nil
}

// writeKeyringFile streams the export into path, optionally through zstd.
func writeKeyringFile(path string, compress bool, write func(io.Writer) (int, error)) (n int, err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	if !compress {
		return write(file)
	}
	zw, err := zstd.NewWriter(file)
	if err != nil {
		return 0, fmt.Errorf("could not create zstd writer: %w", err)
	}
	if n, err = write(zw); err != nil {
		_ = zw.Close()
		return n, err
	}
	return n, zw.Close()
}

func newImportCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import keys from an exported keyring",
		Long: `Imports the keys of an exported keyring (plain or zstd compressed).
The passphrase of every encrypted key is asked once; keys already in the
keyring are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readKeyringFile(args[0])
			if err != nil {
				return err
			}
			desc, err := a.kr.Describe(raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), desc)
			if !yes {
				ok, err := a.confirm(cmd, i18n.T("cli.import_confirm"))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.import_declined"))
					return nil
				}
			}
			if err := a.unlock(cmd); err != nil {
				return err
			}

			ask := func(uid string, r *keyring.Resolver) {
				pass, err := a.readPassphrase(cmd, i18n.T("cli.passphrase_for", uid))
				if err != nil {
					r.Cancel()
					return
				}
				r.Resolve(pass)
			}
			res, err := a.kr.Import(cmd.Context(), ask, raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.imported", len(res.Imported), len(res.Skipped)))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Import without asking for confirmation")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var compress, publicOnly bool
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Export the keyring",
		Long: `Writes all keys as PEM blocks that 'keysetup import' reads back. Private
keys stay encrypted under the keyring passphrase. With --public only the
authorized_keys lines are written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := writeKeyringFile(args[0], compress, func(w io.Writer) (int, error) {
				return a.kr.Export(cmd.Context(), w, publicOnly)
			})
			if err != nil {
				return fmt.Errorf("export keyring: %w", err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.exported", n, args[0]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&compress, "zstd", false, "Compress the export with zstd")
	cmd.Flags().BoolVar(&publicOnly, "public", false, "Export public keys only")
	return cmd
}

func newPassphraseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "passphrase",
		Short: "Set, change or remove the keyring passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.unlock(cmd); err != nil {
				return err
			}
			next, err := a.readPassphrase(cmd, i18n.T("cli.new_passphrase"))
			if err != nil {
				return err
			}
			defer next.Zero()
			if !next.IsEmpty() {
				again, err := a.readPassphrase(cmd, i18n.T("cli.repeat_passphrase"))
				if err != nil {
					return err
				}
				defer again.Zero()
				if !next.Equal(again) {
					return fmt.Errorf("%s", i18n.T("cli.passphrase_mismatch"))
				}
			}
			if err := a.kr.ChangePassphrase(cmd.Context(), security.FromBytes(next)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.passphrase_changed"))
			return nil
		},
	}
}
