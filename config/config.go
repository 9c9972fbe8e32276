/*
config.go - Seat ledger configuration

PURPOSE:
  Loads the YAML configuration shared by every seatledger command.

SOURCES (later wins):
  1. Default()
  2. YAML file (--config flag or SEATLEDGER_CONFIG)
  3. SEATLEDGER_* environment variables
  4. Command-line flags (applied by cmd/seatledger)

EXAMPLE:
  http:
    port: 8080
    allowed_origins: ["http://localhost:5173"]
  store:
    driver: sqlite
    path: ./data/ledger.db
  seed: true
  audit:
    interval: 5m
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Config is the top-level configuration.
type Config struct {
	HTTP  HTTPConfig  `yaml:"http"`
	Store StoreConfig `yaml:"store"`

	// Seed loads the sample routes into an empty ledger on startup.
	Seed bool `yaml:"seed"`

	Audit AuditConfig `yaml:"audit"`
}

type HTTPConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig selects the ledger backend. Path is a directory for the
// file driver and a database file (or ":memory:") for sqlite.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type AuditConfig struct {
	// Interval between conservation audits, as a Go duration.
	// "0" disables the background auditor.
	Interval string `yaml:"interval"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port: 8080,
		},
		Store: StoreConfig{
			Driver: DriverFile,
			Path:   "./data",
		},
		Seed: true,
		Audit: AuditConfig{
			Interval: "5m",
		},
	}
}

// Load builds the configuration from defaults, the optional file at path
// and the environment. An empty path falls back to SEATLEDGER_CONFIG; if
// that is unset too, only defaults and environment apply. The result is not
// validated: callers layer their own overrides first, then call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SEATLEDGER_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays SEATLEDGER_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SEATLEDGER_HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SEATLEDGER_HTTP_PORT: %w", err)
		}
		c.HTTP.Port = port
	}
	if v, ok := lookup("SEATLEDGER_ALLOWED_ORIGINS"); ok {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup("SEATLEDGER_STORE_DRIVER"); ok {
		c.Store.Driver = v
	}
	if v, ok := lookup("SEATLEDGER_STORE_PATH"); ok {
		c.Store.Path = v
	}
	if v, ok := lookup("SEATLEDGER_SEED"); ok {
		seed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SEATLEDGER_SEED: %w", err)
		}
		c.Seed = seed
	}
	if v, ok := lookup("SEATLEDGER_AUDIT_INTERVAL"); ok {
		c.Audit.Interval = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// AuditInterval parses Audit.Interval. Validate guarantees it parses.
func (c *Config) AuditInterval() time.Duration {
	d, _ := time.ParseDuration(c.Audit.Interval)
	return d
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTP.Port))
	}

	switch c.Store.Driver {
	case DriverFile, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %q or %q, got %q", DriverFile, DriverSQLite, c.Store.Driver))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	if d, err := time.ParseDuration(c.Audit.Interval); err != nil {
		errs = append(errs, fmt.Errorf("audit.interval: %w", err))
	} else if d < 0 {
		errs = append(errs, fmt.Errorf("audit.interval must not be negative: %s", c.Audit.Interval))
	}

	return errors.Join(errs...)
}
