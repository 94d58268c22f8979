package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"nestkv/internal/logging"
)

// Backend names accepted in [storage] backend.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "~/.nestkv/config.toml"

type Config struct {
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	SSH     SSHConfig     `toml:"ssh"`
}

type StorageConfig struct {
	Backend    string   `toml:"backend" env:"NESTKV_BACKEND"`
	DataDir    string   `toml:"data_dir" env:"NESTKV_DATA_DIR"`
	Visibility string   `toml:"visibility" env:"NESTKV_VISIBILITY"`
	Namespace  []string `toml:"namespace" env:"NESTKV_NAMESPACE" envSeparator:"/"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"NESTKV_LOG_LEVEL"`
	Format string `toml:"format" env:"NESTKV_LOG_FORMAT"`
}

type MetricsConfig struct {
	Listen string `toml:"listen" env:"NESTKV_METRICS_LISTEN"`
}

// SSHConfig enables the remote shell when Listen is set. AuthorizedKeys
// defaults to authorized_keys inside the data directory.
type SSHConfig struct {
	Listen         string `toml:"listen" env:"NESTKV_SSH_LISTEN"`
	AuthorizedKeys string `toml:"authorized_keys" env:"NESTKV_SSH_AUTHORIZED_KEYS"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:    BackendBolt,
			DataDir:    "~/.nestkv",
			Visibility: "PRIVATE",
			Namespace:  []string{"default"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file, applies NESTKV_* environment overrides and
// returns the parsed Config. If path is empty, the default location is tried
// and a missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome(DefaultPath)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendBolt, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.Backend != BackendMemory && strings.TrimSpace(c.Storage.DataDir) == "" {
		errs = append(errs, errors.New("storage.data_dir: required for persistent backends"))
	}
	switch strings.ToUpper(c.Storage.Visibility) {
	case "USER", "WORKSHEET", "PRIVATE", "COMPONENT":
	default:
		errs = append(errs, fmt.Errorf("storage.visibility: unknown visibility %q", c.Storage.Visibility))
	}
	for i, seg := range c.Storage.Namespace {
		if seg == "" {
			errs = append(errs, fmt.Errorf("storage.namespace[%d]: empty segment", i))
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.Metrics.Listen != "" {
		if err := validateListenAddr(c.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Errorf("metrics.listen: %w", err))
		}
	}
	if c.SSH.Listen != "" {
		if err := validateListenAddr(c.SSH.Listen); err != nil {
			errs = append(errs, fmt.Errorf("ssh.listen: %w", err))
		}
		if strings.TrimSpace(c.Storage.DataDir) == "" {
			errs = append(errs, errors.New("storage.data_dir: required to keep the ssh host key"))
		}
	}
	return errors.Join(errs...)
}

func validateListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port == "" {
		return errors.New("missing port")
	}
	return nil
}

// StorePath returns the database file for the configured backend.
func (c *Config) StorePath() string {
	dir := ExpandHome(c.Storage.DataDir)
	switch c.Storage.Backend {
	case BackendSQLite:
		return filepath.Join(dir, "data.sqlite")
	default:
		return filepath.Join(dir, "data.db")
	}
}

// AuthorizedKeysPath returns the authorized_keys file for the SSH server.
func (c *Config) AuthorizedKeysPath() string {
	if c.SSH.AuthorizedKeys != "" {
		return ExpandHome(c.SSH.AuthorizedKeys)
	}
	return filepath.Join(ExpandHome(c.Storage.DataDir), "authorized_keys")
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
