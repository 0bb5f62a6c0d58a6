// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface of keysetup using the Cobra
// library. The root command shows the welcome screen, the subcommands manage
// the keyring without it.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/keysetup/buildvars"
	"github.com/toeirei/keysetup/internal/config"
	"github.com/toeirei/keysetup/internal/db"
	"github.com/toeirei/keysetup/internal/i18n"
	"github.com/toeirei/keysetup/internal/keyring"
	"github.com/toeirei/keysetup/internal/logging"
	"github.com/toeirei/keysetup/internal/model"
	"github.com/toeirei/keysetup/internal/notify"
	"github.com/toeirei/keysetup/internal/tui"
	"github.com/toeirei/keysetup/internal/watch"
	"github.com/toeirei/keysetup/internal/welcome"
)

// app holds the services shared by all commands. They are set up once per
// invocation by the root command's PersistentPreRunE.
type app struct {
	cfgFile string
	debug   bool

	cfg   config.Config
	store *db.Store
	kr    *keyring.Keyring
	in    *bufio.Reader

	// runWelcome is swapped in tests.
	runWelcome func(cmd *cobra.Command) error
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.Warnf("close database: %v", err)
		}
		a.store = nil
	}
}

// setup loads the configuration, initialises i18n and opens the keyring.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	var cfgPath *string
	if cmd.Flags().Changed("config") && a.cfgFile != "" {
		// Make sure the user-provided file exists to avoid unwanted behavior.
		if _, err := os.Stat(a.cfgFile); err != nil {
			return fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
		}
		cfgPath = &a.cfgFile
	}

	cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), cfgPath)
	// A missing file is expected on first run.
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		if writeErr := config.WriteConfigFile(&cfg, false); writeErr != nil {
			logging.Warnf("could not write default config file: %v", writeErr)
		} else {
			logging.Debugf("wrote default config to user config path")
		}
	} else if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	a.cfg = cfg

	if a.debug {
		logging.SetDebug(true)
	} else if err := logging.SetLevel(cfg.Log.Level); err != nil {
		logging.Warnf("%v", err)
	}
	i18n.Init(cfg.Language)

	store, err := db.Open(cfg.Database.Type, cfg.Database.Dsn)
	if err != nil {
		return fmt.Errorf("could not initialize database: %w", err)
	}
	a.store = store
	kr, err := keyring.Open(cmd.Context(), store)
	if err != nil {
		return fmt.Errorf("could not open keyring: %w", err)
	}
	a.kr = kr
	return nil
}

// keyDefaults is the generation request seeded from the keygen section.
func (a *app) keyDefaults() (model.KeyGenerationRequest, error) {
	req := model.DefaultKeyGenerationRequest("", "", "")
	if a.cfg.Keygen.Algorithm != "" {
		req.Algorithm = a.cfg.Keygen.Algorithm
	}
	if a.cfg.Keygen.Bits != 0 {
		req.KeyBits = a.cfg.Keygen.Bits
	}
	if a.cfg.Keygen.Algorithm == model.AlgorithmEd25519 {
		req.KeyBits = 0
	}
	ts, ok, err := a.cfg.ExpiresUnix()
	if err != nil {
		return req, err
	}
	if ok {
		req.ExpiresUnix = ts
	}
	return req, nil
}

// newestPublicKey returns the public key of the most recently created key.
func (a *app) newestPublicKey(ctx context.Context) (string, error) {
	keys, err := a.kr.ListKeys(ctx, false)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", keyring.ErrNotFound
	}
	infos := sortedKeys(keys)
	return a.kr.PublicKey(ctx, infos[len(infos)-1].ID)
}

// sortedKeys orders keys by creation time, then id.
func sortedKeys(keys map[string]model.KeyInfo) []model.KeyInfo {
	out := make([]model.KeyInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// shouldWelcome decides whether the root command shows the welcome screen.
func (a *app) shouldWelcome(ctx context.Context, forced bool) (bool, error) {
	if forced {
		return true, nil
	}
	prefs, err := a.store.Preferences(ctx)
	if err != nil {
		return false, err
	}
	if prefs.WelcomeEnabled {
		return true, nil
	}
	keys, err := a.kr.ListKeys(ctx, true)
	if err != nil {
		return false, err
	}
	return len(keys) == 0, nil
}

// welcomeScreen runs the orchestrator behind the terminal UI.
func (a *app) welcomeScreen(cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if a.cfg.Log.File != "" {
		restore, err := logging.ToFile(a.cfg.Log.File)
		if err != nil {
			logging.Warnf("logging to terminal: %v", err)
		} else {
			defer func() { _ = restore() }()
		}
	}

	policy, err := welcome.ParseLockedPolicy(a.cfg.Welcome.LockedPolicy)
	if err != nil {
		return err
	}
	defaults, err := a.keyDefaults()
	if err != nil {
		return err
	}

	sig := tui.NewSignal()
	kr := a.kr
	orch := welcome.New(func(context.Context) (welcome.Context, error) {
		if kr == nil {
			return nil, errors.New("keyring not opened")
		}
		return kr, nil
	}, welcome.Options{
		LockedPolicy: policy,
		KeyDefaults:  defaults,
		OnChange:     sig.Notify,
		Preferences:  a.store,
		Notifier:     notify.New(i18n.T("ext.name"), a.cfg.Notify.Desktop),
	})

	// Keys written by another process hide the setup sections.
	if path := a.store.FilePath(); a.cfg.Watch.Enabled && path != "" {
		w, err := watch.Start(ctx, path, watch.DefaultDebounce, func() {
			if err := orch.Recheck(ctx); err != nil {
				logging.Warnf("recheck keyring: %v", err)
			}
		})
		if err != nil {
			logging.Warnf("not watching %s: %v", path, err)
		} else {
			defer func() { _ = w.Close() }()
		}
	}

	return tui.Run(ctx, orch, sig, tui.Options{
		KeyDefaults: defaults,
		Preferences: a.store,
		PublicKey:   a.newestPublicKey,
	})
}

// lineReader reads answers from the command's input.
func (a *app) lineReader(r io.Reader) *bufio.Reader {
	if a.in == nil {
		a.in = bufio.NewReader(r)
	}
	return a.in
}

// newRootCmd creates and configures a new root cobra command.
// This function is used to create the main application command as well as
// fresh instances for isolated testing.
func newRootCmd(a *app) *cobra.Command {
	if a.runWelcome == nil {
		a.runWelcome = a.welcomeScreen
	}
	var forceWelcome bool

	cmd := &cobra.Command{
		Use:   "keysetup",
		Short: "Keysetup sets up and manages a local keyring of signing keys.",
		Long: `Keysetup keeps a local keyring of signing keys.

Running without a subcommand shows the welcome screen when the keyring is
empty or the welcome screen is enabled in the preferences.`,
		Version:           buildvars.String(nil),
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			show, err := a.shouldWelcome(cmd.Context(), forceWelcome)
			if err != nil {
				return err
			}
			if !show {
				return printKeys(cmd, a.kr, false)
			}
			return a.runWelcome(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().String("database.type", "sqlite", "Database type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("database.dsn", "./keysetup.db", "Database connection string (DSN)")
	cmd.PersistentFlags().String("language", "en", `Language ("en", "de")`)
	cmd.Flags().BoolVar(&forceWelcome, "welcome", false, "Show the welcome screen even if it is disabled")

	cmd.AddCommand(
		newKeysCmd(a),
		newImportCmd(a),
		newExportCmd(a),
		newPassphraseCmd(a),
		newPrefsCmd(a),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		// No services needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := buildvars.Resolve(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}
}
