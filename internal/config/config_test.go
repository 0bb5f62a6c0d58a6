package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cfg "github.com/toeirei/keysetup/internal/config"
)

func TestLoadConfig_EmptyCandidate_TreatedAsNotFound(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	cfgDir := filepath.Join(tmp, "keysetup")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "keysetup.yaml"), nil, 0o600); err != nil {
		t.Fatalf("create empty file: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
		t.Fatalf("expected ConfigFileNotFoundError, got: %T %v", err, err)
	}
	if got.Database.Type != "sqlite" || got.Welcome.LockedPolicy != "warn" {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestWriteConfigFile_CreatesFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	c := cfg.Config{}
	c.Database.Type = "sqlite"
	c.Database.Dsn = "./keysetup.db"
	c.Language = "en"

	if err := cfg.WriteConfigFile(&c, false); err != nil {
		t.Fatalf("WriteConfigFile failed: %v", err)
	}

	path, err := cfg.GetConfigPath(false)
	if err != nil {
		t.Fatalf("GetConfigPath failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config file at %s, stat error: %v", path, err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config file mode = %v", info.Mode().Perm())
	}

	// The written file loads back.
	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, nil, &path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Database.Dsn != "./keysetup.db" {
		t.Fatalf("dsn = %q", got.Database.Dsn)
	}
}

func TestLoadConfig_ReadsExplicitFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmp := t.TempDir()
	yaml := "database:\n  type: postgres\n  dsn: postgresql://user@/db\nlanguage: de\nwelcome:\n  locked_policy: block\nkeygen:\n  expires: \"2030-01-02\"\n"
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Database.Type != "postgres" {
		t.Fatalf("expected postgres, got %q", got.Database.Type)
	}
	if got.Language != "de" || got.Welcome.LockedPolicy != "block" {
		t.Fatalf("unexpected config %+v", got)
	}
	if got.Keygen.Bits != 256 {
		t.Fatalf("default keygen.bits lost: %d", got.Keygen.Bits)
	}
	ts, ok, err := got.ExpiresUnix()
	if err != nil || !ok || ts != 1893542400 {
		t.Fatalf("ExpiresUnix = %d, %v, %v", ts, ok, err)
	}
}

func TestLoadConfig_EnvAndFlagsOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("KEYSETUP_LANGUAGE", "de")

	cmd := &cobra.Command{}
	cmd.Flags().String("database.dsn", "./keysetup.db", "")
	if err := cmd.Flags().Set("database.dsn", "/tmp/other.db"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](cmd, cfg.Defaults(), nil)
	if err != nil && !errors.As(err, &viper.ConfigFileNotFoundError{}) {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Language != "de" {
		t.Fatalf("env override ignored: %q", got.Language)
	}
	if got.Database.Dsn != "/tmp/other.db" {
		t.Fatalf("flag override ignored: %q", got.Database.Dsn)
	}
}

func TestExpiresUnix(t *testing.T) {
	var c cfg.Config
	if _, ok, err := c.ExpiresUnix(); ok || err != nil {
		t.Fatalf("unset expires: ok=%v err=%v", ok, err)
	}
	c.Keygen.Expires = "next year"
	if _, _, err := c.ExpiresUnix(); err == nil {
		t.Fatal("expected parse error")
	}
	c.Keygen.Expires = "2031-05-06T07:08:09Z"
	if ts, ok, err := c.ExpiresUnix(); err != nil || !ok || ts != 1935817689 {
		t.Fatalf("ExpiresUnix = %d %v %v", ts, ok, err)
	}
}

func TestLoadConfig_UnrelatedFlagsNotBound(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := &cobra.Command{}
	cmd.Flags().Bool("welcome", false, "")
	if err := cmd.Flags().Set("welcome", "true"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](cmd, cfg.Defaults(), nil)
	if err != nil && !errors.As(err, &viper.ConfigFileNotFoundError{}) {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Welcome.LockedPolicy != "warn" {
		t.Fatalf("locked_policy = %q", got.Welcome.LockedPolicy)
	}
}
