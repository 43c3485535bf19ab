// Package config loads backlog settings from, in increasing precedence,
// defaults, a config.yaml file, BACKLOG_* environment variables and bound
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys understood by the tracker.
const (
	KeyDB         = "db"
	KeySession    = "session"
	KeySessionTTL = "session-ttl"
	KeyLogLevel   = "log-level"
	KeyLogFormat  = "log-format"
	KeyJSON       = "json"
)

var v *viper.Viper

// Initialize builds a fresh viper instance with defaults, env binding and
// the first config file found in ./.backlog.yaml or ~/.backlog/config.yaml.
// It is safe to call more than once; each call starts over.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BACKLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDB, "")
	v.SetDefault(KeySession, "")
	v.SetDefault(KeySessionTTL, 720*time.Hour)
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyJSON, false)

	path, err := findConfigFile()
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

// LoadFile reads settings from an explicit path on top of the current
// instance.
func LoadFile(path string) error {
	ensure()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

func findConfigFile() (string, error) {
	candidates := []string{".backlog.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".backlog", "config.yaml"))
	}
	for _, c := range candidates {
		_, err := os.Stat(c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to stat config %s: %w", c, err)
		}
	}
	return "", nil
}

// BindFlags lets set flags override file and env values.
func BindFlags(flags *pflag.FlagSet) error {
	ensure()
	return v.BindPFlags(flags)
}

func ensure() {
	if v == nil {
		_ = Initialize()
	}
}

func GetString(key string) string {
	ensure()
	return v.GetString(key)
}

func GetBool(key string) bool {
	ensure()
	return v.GetBool(key)
}

func GetDuration(key string) time.Duration {
	ensure()
	return v.GetDuration(key)
}
