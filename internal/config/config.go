// Package config loads nestlog settings from defaults, an optional TOML file,
// NEST_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys understood by the loader.
const (
	KeyDataDir         = "data_dir"
	KeyMirrorURL       = "mirror.url"
	KeyMirrorToken     = "mirror.token"
	KeyMirrorListen    = "mirror.listen"
	KeyMirrorDB        = "mirror.db"
	KeyMirrorTokens    = "mirror.tokens"
	KeyInboxDir        = "inbox.dir"
	KeyInboxDebounce   = "inbox.debounce"
	KeyLogFile         = "log.file"
	KeyLogMaxSizeMB    = "log.max_size_mb"
	KeyLogMaxBackups   = "log.max_backups"
	KeyLogVerbose      = "log.verbose"
	defaultConfigName  = "config.toml"
	defaultDataDirName = ".nestlog"
)

// Config is a resolved snapshot of every setting.
type Config struct {
	DataDir string       `toml:"data_dir"`
	Mirror  MirrorConfig `toml:"mirror"`
	Inbox   InboxConfig  `toml:"inbox"`
	Log     LogConfig    `toml:"log"`
}

// MirrorConfig covers both the client and `nest mirror serve`.
type MirrorConfig struct {
	URL    string            `toml:"url"`              // ws://host:port/ws; empty disables sync
	Token  string            `toml:"token"`            // bearer token sent by the client
	Listen string            `toml:"listen"`           // server bind address
	DB     string            `toml:"db"`               // server document database
	Tokens map[string]string `toml:"tokens,omitempty"` // server token -> identity table
}

// InboxConfig configures the drop-directory importer.
type InboxConfig struct {
	Dir      string        `toml:"dir"`
	Debounce time.Duration `toml:"debounce"`
}

// LogConfig configures log output.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	Verbose    bool   `toml:"verbose"`
}

// DefaultConfig returns the built-in settings. Paths left empty are derived
// from the data dir by Load.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Mirror: MirrorConfig{
			Listen: "127.0.0.1:8787",
		},
		Inbox: InboxConfig{
			Debounce: 500 * time.Millisecond,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultDataDirName
	}
	return filepath.Join(home, defaultDataDirName)
}

var v *viper.Viper

// Initialize resets the loader to defaults plus environment variables.
// Call it once at startup, before binding flags.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("toml")

	v.SetEnvPrefix("NEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault(KeyDataDir, d.DataDir)
	v.SetDefault(KeyMirrorURL, d.Mirror.URL)
	v.SetDefault(KeyMirrorToken, d.Mirror.Token)
	v.SetDefault(KeyMirrorListen, d.Mirror.Listen)
	v.SetDefault(KeyMirrorDB, "")
	v.SetDefault(KeyInboxDir, "")
	v.SetDefault(KeyInboxDebounce, d.Inbox.Debounce)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, d.Log.MaxSizeMB)
	v.SetDefault(KeyLogMaxBackups, d.Log.MaxBackups)
	v.SetDefault(KeyLogVerbose, false)

	return nil
}

// BindFlag makes flag f override key when it is set on the command line.
func BindFlag(key string, f *pflag.Flag) error {
	if v == nil {
		return fmt.Errorf("config not initialized")
	}
	if f == nil {
		return fmt.Errorf("no flag for %s", key)
	}
	return v.BindPFlag(key, f)
}

// Path returns the config file location inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, defaultConfigName)
}

// ReadFile merges a TOML config file. With an empty path the file in the
// data dir is used if it exists; an explicit path must exist.
func ReadFile(path string) error {
	if v == nil {
		return fmt.Errorf("config not initialized")
	}

	explicit := path != ""
	if !explicit {
		path = Path(v.GetString(KeyDataDir))
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

// Load resolves the current settings and fills derived paths.
func Load() (*Config, error) {
	if v == nil {
		return nil, fmt.Errorf("config not initialized")
	}

	cfg := &Config{
		DataDir: v.GetString(KeyDataDir),
		Mirror: MirrorConfig{
			URL:    v.GetString(KeyMirrorURL),
			Token:  v.GetString(KeyMirrorToken),
			Listen: v.GetString(KeyMirrorListen),
			DB:     v.GetString(KeyMirrorDB),
			Tokens: v.GetStringMapString(KeyMirrorTokens),
		},
		Inbox: InboxConfig{
			Dir:      v.GetString(KeyInboxDir),
			Debounce: v.GetDuration(KeyInboxDebounce),
		},
		Log: LogConfig{
			File:       v.GetString(KeyLogFile),
			MaxSizeMB:  v.GetInt(KeyLogMaxSizeMB),
			MaxBackups: v.GetInt(KeyLogMaxBackups),
			Verbose:    v.GetBool(KeyLogVerbose),
		},
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%s must not be empty", KeyDataDir)
	}
	if cfg.Mirror.URL != "" && cfg.Mirror.Token == "" {
		return nil, fmt.Errorf("%s is set but %s is empty", KeyMirrorURL, KeyMirrorToken)
	}
	if cfg.Inbox.Debounce < 0 {
		return nil, fmt.Errorf("%s must not be negative (got %s)", KeyInboxDebounce, cfg.Inbox.Debounce)
	}

	if cfg.Mirror.DB == "" {
		cfg.Mirror.DB = filepath.Join(cfg.DataDir, "mirror.db")
	}
	if cfg.Inbox.Dir == "" {
		cfg.Inbox.Dir = filepath.Join(cfg.DataDir, "inbox")
	}
	if cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(cfg.DataDir, "nest.log")
	}
	return cfg, nil
}

// CachePath returns the local cache database location.
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, "nest.db")
}

// SyncEnabled reports whether a mirror is configured.
func (c *Config) SyncEnabled() bool {
	return c.Mirror.URL != ""
}

// WriteDefault writes cfg as a TOML file at path. An existing file is left
// alone unless force is set.
func WriteDefault(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, "# nestlog configuration. NEST_* environment variables override these values."); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
