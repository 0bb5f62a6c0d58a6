// Package config loads the keysetup configuration. Values are layered:
// defaults, keysetup.yaml (user, system, current dir or --config),
// KEYSETUP_* environment variables and finally command line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the complete configuration of keysetup.
type Config struct {
	Database struct {
		Type string `mapstructure:"type" yaml:"type"`
		Dsn  string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`
	Language string `mapstructure:"language" yaml:"language"`
	Log      struct {
		Level string `mapstructure:"level" yaml:"level"`
		File  string `mapstructure:"file" yaml:"file"`
	} `mapstructure:"log" yaml:"log"`
	Keygen struct {
		Algorithm string `mapstructure:"algorithm" yaml:"algorithm"`
		Bits      int    `mapstructure:"bits" yaml:"bits"`
		// Expires is an RFC3339 date; empty keeps the far-future default.
		Expires string `mapstructure:"expires" yaml:"expires"`
	} `mapstructure:"keygen" yaml:"keygen"`
	Welcome struct {
		LockedPolicy string `mapstructure:"locked_policy" yaml:"locked_policy"`
	} `mapstructure:"welcome" yaml:"welcome"`
	Notify struct {
		Desktop bool `mapstructure:"desktop" yaml:"desktop"`
	} `mapstructure:"notify" yaml:"notify"`
	Watch struct {
		Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	} `mapstructure:"watch" yaml:"watch"`
}

// Defaults returns the built-in values for every key.
func Defaults() map[string]any {
	logFile := "keysetup.log"
	if dir, err := os.UserCacheDir(); err == nil {
		logFile = filepath.Join(dir, "keysetup", "keysetup.log")
	}
	return map[string]any{
		"database.type":         "sqlite",
		"database.dsn":          "./keysetup.db",
		"language":              "en",
		"log.level":             "info",
		"log.file":              logFile,
		"keygen.algorithm":      "ecdsa",
		"keygen.bits":           256,
		"keygen.expires":        "",
		"welcome.locked_policy": "warn",
		"notify.desktop":        false,
		"watch.enabled":         true,
	}
}

// ExpiresUnix parses Keygen.Expires. ok is false when it is unset.
func (c Config) ExpiresUnix() (ts int64, ok bool, err error) {
	s := strings.TrimSpace(c.Keygen.Expires)
	if s == "" {
		return 0, false, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if t, err = time.Parse(time.DateOnly, s); err != nil {
			return 0, false, fmt.Errorf("keygen.expires: %w", err)
		}
	}
	return t.Unix(), true, nil
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Keysetup")
		default:
			configDir = "/etc/keysetup"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "keysetup")
	}

	return filepath.Join(configDir, "keysetup.yaml"), nil
}

// LoadConfig reads the configuration into T. A missing file is reported as
// viper.ConfigFileNotFoundError together with the values from the other
// layers, so callers can write a default file and go on.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("keysetup")
	v.SetConfigType("yaml")
	if configFile != nil {
		v.SetConfigFile(*configFile)
	}
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	var readErr error
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
		readErr = err
	} else if info, err := os.Stat(v.ConfigFileUsed()); err == nil && info.Size() == 0 {
		// An empty file is as good as none; a default one gets written.
		readErr = viper.ConfigFileNotFoundError{}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("keysetup")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Only flags named after a config key are bound; others such as
	// --welcome would shadow a whole section.
	if cmd != nil {
		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if _, ok := defaults[f.Name]; ok && bindErr == nil {
				bindErr = v.BindPFlag(f.Name, f)
			}
		})
		if bindErr != nil {
			return c, bindErr
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, readErr
}

// WriteConfigFile writes c as YAML to the user or system config path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}
	return writeConfigTo(path, c)
}

func writeConfigTo(path string, c any) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	// 0600: the DSN may carry credentials.
	return os.WriteFile(path, data, 0600)
}
