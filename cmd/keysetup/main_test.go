// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/toeirei/keysetup/internal/config"
	"github.com/toeirei/keysetup/internal/keyring"
	"github.com/toeirei/keysetup/internal/model"
)

type cliRun struct {
	stdout, stderr string
	welcomed       bool
	err            error
}

// runCLI executes one keysetup invocation against the sqlite file dbPath.
func runCLI(t *testing.T, dbPath, stdin string, args ...string) cliRun {
	t.Helper()
	var r cliRun
	a := &app{runWelcome: func(*cobra.Command) error {
		r.welcomed = true
		return nil
	}}
	root := newRootCmd(a)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--database.dsn", dbPath))
	r.err = root.Execute()
	a.close()
	r.stdout, r.stderr = out.String(), errOut.String()
	return r
}

// testDB isolates the config directory and returns a fresh database path.
func testDB(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	return filepath.Join(t.TempDir(), "keysetup.db")
}

func mustRun(t *testing.T, dbPath, stdin string, args ...string) cliRun {
	t.Helper()
	r := runCLI(t, dbPath, stdin, args...)
	if r.err != nil {
		t.Fatalf("keysetup %v: %v\nstderr: %s", args, r.err, r.stderr)
	}
	return r
}

func TestKeys_GenerateAndList(t *testing.T) {
	dbPath := testDB(t)

	r := mustRun(t, dbPath, "", "keys", "generate", "--email", "alice@example.com", "--name", "Alice")
	if !strings.HasPrefix(r.stdout, "ecdsa-sha2-nistp256 ") {
		t.Fatalf("generate printed %q, want an authorized_keys line", r.stdout)
	}

	r = mustRun(t, dbPath, "", "keys", "list")
	if !strings.Contains(r.stdout, "Alice <alice@example.com>") || !strings.Contains(r.stdout, "+sub") {
		t.Fatalf("list = %q", r.stdout)
	}
}

func TestKeys_GenerateRejectsMissingIdentity(t *testing.T) {
	dbPath := testDB(t)
	if r := runCLI(t, dbPath, "", "keys", "generate"); r.err == nil {
		t.Fatal("generate without identity succeeded")
	}
	r := mustRun(t, dbPath, "", "keys", "list")
	if !strings.Contains(r.stdout, "empty") {
		t.Fatalf("list = %q", r.stdout)
	}
}

func TestRoot_WelcomeDecision(t *testing.T) {
	dbPath := testDB(t)

	if r := mustRun(t, dbPath, ""); !r.welcomed {
		t.Fatal("empty keyring should show the welcome screen")
	}

	mustRun(t, dbPath, "", "prefs", "--welcome=false")
	if r := mustRun(t, dbPath, ""); !r.welcomed {
		t.Fatal("empty keyring should show the welcome screen even when disabled")
	}

	mustRun(t, dbPath, "", "keys", "generate", "--email", "bob@example.com")
	r := mustRun(t, dbPath, "")
	if r.welcomed {
		t.Fatal("welcome screen shown although disabled and keys exist")
	}
	if !strings.Contains(r.stdout, "<bob@example.com>") {
		t.Fatalf("root should list the keys instead: %q", r.stdout)
	}

	if r := mustRun(t, dbPath, "", "--welcome"); !r.welcomed {
		t.Fatal("--welcome should force the welcome screen")
	}
}

func TestPrefs_ShowAndChange(t *testing.T) {
	dbPath := testDB(t)
	r := mustRun(t, dbPath, "", "prefs")
	if strings.Count(r.stdout, "true") != 2 {
		t.Fatalf("defaults = %q", r.stdout)
	}
	r = mustRun(t, dbPath, "", "prefs", "--action-sniffing=false")
	if !strings.Contains(r.stdout, "Detect key actions in supported tools: false") {
		t.Fatalf("prefs = %q", r.stdout)
	}
}

func TestPassphrase_LocksLaterInvocations(t *testing.T) {
	dbPath := testDB(t)
	mustRun(t, dbPath, "", "keys", "generate", "--email", "carol@example.com")

	if r := runCLI(t, dbPath, "pw\nother\n", "passphrase"); r.err == nil {
		t.Fatal("mismatched passphrases accepted")
	}
	mustRun(t, dbPath, "pw\npw\n", "passphrase")

	r := runCLI(t, dbPath, "nope\n", "keys", "generate", "--email", "dave@example.com")
	if !errors.Is(r.err, keyring.ErrWrongPassphrase) {
		t.Fatalf("generate with wrong passphrase: %v", r.err)
	}
	mustRun(t, dbPath, "pw\n", "keys", "generate", "--email", "dave@example.com")

	r = mustRun(t, dbPath, "", "keys", "list")
	if !strings.Contains(r.stdout, "<dave@example.com>") {
		t.Fatalf("list = %q", r.stdout)
	}
}

func TestExportImport_ZstdRoundTrip(t *testing.T) {
	src := testDB(t)
	mustRun(t, src, "", "keys", "generate", "--email", "erin@example.com")
	mustRun(t, src, "export-pass\nexport-pass\n", "passphrase")

	file := filepath.Join(t.TempDir(), "keyring.zst")
	mustRun(t, src, "", "export", "--zstd", file)
	raw, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, zstdMagic) {
		t.Fatal("export is not zstd compressed")
	}

	dst := filepath.Join(t.TempDir(), "dst.db")
	r := mustRun(t, dst, "n\n", "import", file)
	if !strings.Contains(r.stderr, "Nothing imported") {
		t.Fatalf("declined import: %q", r.stderr)
	}

	r = mustRun(t, dst, "y\nexport-pass\n", "import", file)
	if !strings.Contains(r.stderr, "<erin@example.com>") {
		t.Fatalf("import did not describe the file: %q", r.stderr)
	}
	if !strings.Contains(r.stdout, "Imported 1 keys, skipped 0") {
		t.Fatalf("import = %q", r.stdout)
	}

	r = mustRun(t, dst, "export-pass\n", "import", "--yes", file)
	if !strings.Contains(r.stdout, "Imported 0 keys, skipped 1") {
		t.Fatalf("second import = %q", r.stdout)
	}

	r = mustRun(t, dst, "", "keys", "list")
	if !strings.Contains(r.stdout, "<erin@example.com>") {
		t.Fatalf("list = %q", r.stdout)
	}
}

func TestImport_WrongPassphrase(t *testing.T) {
	src := testDB(t)
	mustRun(t, src, "", "keys", "generate", "--email", "frank@example.com")
	mustRun(t, src, "pw\npw\n", "passphrase")
	file := filepath.Join(t.TempDir(), "keyring.pem")
	mustRun(t, src, "", "export", file)

	dst := filepath.Join(t.TempDir(), "dst.db")
	r := runCLI(t, dst, "wrong\n", "import", "--yes", file)
	if !errors.Is(r.err, keyring.ErrWrongPassphrase) {
		t.Fatalf("err = %v", r.err)
	}
}

func TestExport_PublicOnly(t *testing.T) {
	dbPath := testDB(t)
	gen := mustRun(t, dbPath, "", "keys", "generate", "--email", "grace@example.com")

	file := filepath.Join(t.TempDir(), "keys.pub")
	mustRun(t, dbPath, "", "export", "--public", file)
	raw, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(raw)) != strings.TrimSpace(gen.stdout) {
		t.Fatalf("public export = %q, want %q", raw, gen.stdout)
	}
	if info, err := os.Stat(file); err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("export mode = %v, %v", info.Mode(), err)
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd(&app{})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "version: ") || !strings.Contains(out.String(), "commit: ") {
		t.Fatalf("version output = %q", out.String())
	}
}

func TestKeyDefaults(t *testing.T) {
	a := &app{}
	req, err := a.keyDefaults()
	if err != nil {
		t.Fatal(err)
	}
	if req != model.DefaultKeyGenerationRequest("", "", "") {
		t.Fatalf("zero config = %+v", req)
	}

	a.cfg = config.Config{}
	a.cfg.Keygen.Algorithm = model.AlgorithmEd25519
	a.cfg.Keygen.Bits = 256
	a.cfg.Keygen.Expires = "2031-05-06T07:08:09Z"
	req, err = a.keyDefaults()
	if err != nil {
		t.Fatal(err)
	}
	if req.Algorithm != model.AlgorithmEd25519 || req.KeyBits != 0 || req.ExpiresUnix != 1935817689 {
		t.Fatalf("req = %+v", req)
	}

	a.cfg.Keygen.Expires = "soon"
	if _, err := a.keyDefaults(); err == nil {
		t.Fatal("bad expiration accepted")
	}
}

func TestSortedKeys(t *testing.T) {
	keys := map[string]model.KeyInfo{"B": {ID: "B"}, "A": {ID: "A"}}
	got := sortedKeys(keys)
	if got[0].ID != "A" || got[1].ID != "B" {
		t.Fatalf("order = %v", got)
	}
}
