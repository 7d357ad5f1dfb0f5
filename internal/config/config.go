// Package config resolves the settings shared by the bitkv and bitkvd
// entry points: flags bound through pflag, overridable by a config file
// and environment variables through viper, following the layering every
// from-scratch Bitcask clone in the retrieved corpus exposes.
package config

import (
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nikosl/bitkv/internal/bitcask"
)

// Config is the resolved, validated configuration for a bitkv process.
type Config struct {
	// Dir is the directory the Bitcask store is rooted at.
	Dir string

	// Sync enables a flush/fsync after every Put.
	Sync bool

	// FsyncMode selects between a buffered flush ("flush") and a true
	// fsync ("fsync") when Sync is enabled.
	FsyncMode string

	// MaxFileBytes caps the active data file's size before rollover.
	MaxFileBytes int64

	// Addr is the listen address for bitkvd. Unused by bitkv.
	Addr string

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string
}

// BindFlags registers the shared flag set on fs and binds it into v,
// so that (in priority order) explicit flags win, then BITKV_-prefixed
// environment variables, then a config file, then the defaults below.
func BindFlags(fs *flag.FlagSet, v *viper.Viper) {
	fs.String("dir", "./data", "directory the store is rooted at")
	fs.Bool("sync", false, "flush or fsync the active file after every write")
	fs.String("fsync-mode", "flush", "durability mode when --sync is set: flush or fsync")
	fs.Int64("max-file-bytes", bitcask.DefaultMaxFileBytes, "rollover threshold for the active data file, in bytes")
	fs.String("addr", ":7777", "listen address for bitkvd")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("config", "", "path to a config file (optional)")

	v.BindPFlags(fs)
	v.SetEnvPrefix("bitkv")
	v.AutomaticEnv()
}

// Load resolves a Config from the bound flag set, reading a config file
// first if --config was given.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := &Config{
		Dir:          v.GetString("dir"),
		Sync:         v.GetBool("sync"),
		FsyncMode:    strings.ToLower(v.GetString("fsync-mode")),
		MaxFileBytes: v.GetInt64("max-file-bytes"),
		Addr:         v.GetString("addr"),
		LogLevel:     strings.ToLower(v.GetString("log-level")),
	}

	if cfg.Dir == "" {
		return nil, fmt.Errorf("config: dir must not be empty")
	}
	switch cfg.FsyncMode {
	case "flush", "fsync":
	default:
		return nil, fmt.Errorf("config: fsync-mode must be flush or fsync, got %q", cfg.FsyncMode)
	}
	if cfg.MaxFileBytes <= 0 {
		return nil, fmt.Errorf("config: max-file-bytes must be positive, got %d", cfg.MaxFileBytes)
	}

	return cfg, nil
}

// SyncMode translates the resolved FsyncMode string into a bitcask.SyncMode.
func (c *Config) SyncMode() bitcask.SyncMode {
	if c.FsyncMode == "fsync" {
		return bitcask.FsyncMode
	}
	return bitcask.FlushMode
}
