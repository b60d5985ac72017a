// Package config loads and validates the server's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no -config flag is given. A missing file at
// this path is not an error; Load falls back to Default.
const DefaultPath = "objtalk.yaml"

// Storage backends.
const (
	BackendNone   = "none"
	BackendSQLite = "sqlite"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	HTTP     []HTTPListener `yaml:"http"`
	TCP      []TCPListener  `yaml:"tcp"`
	Limits   LimitsConfig   `yaml:"limits"`
	Activity ActivityConfig `yaml:"activity"`
}

// StorageConfig selects the object persistence backend.
type StorageConfig struct {
	Backend string       `yaml:"backend"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

type SQLiteConfig struct {
	Filename string `yaml:"filename"`
}

// HTTPListener configures one HTTP listener.
type HTTPListener struct {
	Addr        string      `yaml:"addr"`
	AllowOrigin string      `yaml:"allow-origin"`
	Admin       AdminConfig `yaml:"admin"`
	Metrics     bool        `yaml:"metrics"`
}

type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TCPListener configures one TCP listener. MaxConns > 0 caps
// concurrently accepted connections.
type TCPListener struct {
	Addr     string `yaml:"addr"`
	MaxConns int    `yaml:"max-conns"`
}

// LimitsConfig holds resource caps. Zero values fall back to the
// built-in defaults.
type LimitsConfig struct {
	ClientQueue  int   `yaml:"client-queue"`
	RequestBody  int64 `yaml:"request-body"`
	PatternCache int   `yaml:"pattern-cache"`
}

// RequestBodyBytes returns the configured HTTP body cap, falling back
// to 1 MiB.
func (l LimitsConfig) RequestBodyBytes() int64 {
	if l.RequestBody > 0 {
		return l.RequestBody
	}
	return 1 << 20
}

// ActivityConfig configures the activity sinks. A nil Journal disables
// the journal.
type ActivityConfig struct {
	Console bool           `yaml:"console"`
	Journal *JournalConfig `yaml:"journal"`
}

type JournalConfig struct {
	Filename  string   `yaml:"filename"`
	Retention Duration `yaml:"retention"`
}

// Default returns the configuration used when no file exists: no
// persistence and one HTTP listener on 127.0.0.1:3000.
func Default() *Config {
	return &Config{
		HTTP: []HTTPListener{{Addr: "127.0.0.1:3000"}},
	}
}

// Load reads and validates the configuration at path. "-" reads stdin.
// explicit says whether the user named the path; a missing file is
// tolerated only for the implicit default path.
func Load(path string, explicit bool) (*Config, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Default(), nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the whole configuration, collecting every problem
// into one error.
func (c *Config) Validate() error {
	var errs []string

	switch c.Storage.Backend {
	case "", BackendNone:
	case BackendSQLite:
		if c.Storage.SQLite.Filename == "" {
			errs = append(errs, "storage.sqlite.filename: required for the sqlite backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend: unknown backend %q (allowed: none, sqlite)", c.Storage.Backend))
	}

	for i, l := range c.HTTP {
		validateAddr(fmt.Sprintf("http[%d].addr", i), l.Addr, &errs)
	}
	for i, l := range c.TCP {
		validateAddr(fmt.Sprintf("tcp[%d].addr", i), l.Addr, &errs)
		if l.MaxConns < 0 {
			errs = append(errs, fmt.Sprintf("tcp[%d].max-conns: must not be negative, got %d", i, l.MaxConns))
		}
	}

	validateNonNegative("limits.client-queue", c.Limits.ClientQueue, &errs)
	validateNonNegative("limits.pattern-cache", c.Limits.PatternCache, &errs)
	if c.Limits.RequestBody < 0 {
		errs = append(errs, fmt.Sprintf("limits.request-body: must not be negative, got %d", c.Limits.RequestBody))
	}

	if j := c.Activity.Journal; j != nil {
		if j.Filename == "" {
			errs = append(errs, "activity.journal.filename: must not be empty")
		}
		if j.Retention < 0 {
			errs = append(errs, "activity.journal.retention: must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func validateAddr(name, addr string, errs *[]string) {
	if addr == "" {
		*errs = append(*errs, fmt.Sprintf("%s: must not be empty", name))
		return
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid listen address %q", name, addr))
	}
}

func validateNonNegative(name string, value int, errs *[]string) {
	if value < 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must not be negative, got %d", name, value))
	}
}
