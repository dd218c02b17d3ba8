// Package config handles loading configuration files and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid reports a configuration value outside its allowed range.
var ErrInvalid = errors.New("config: invalid configuration")

// Audit drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Config represents the gatekeeper configuration.
type Config struct {
	Version    int         `yaml:"version"`
	PolicyPath string      `yaml:"policy_path"`
	ProjectDir string      `yaml:"project_dir,omitempty"`
	Threshold  *int        `yaml:"threshold,omitempty"`
	Gate       GateConfig  `yaml:"gate"`
	Audit      AuditConfig `yaml:"audit"`
	Log        LogConfig   `yaml:"log"`
	Serve      ServeConfig `yaml:"serve"`

	// Source is the file the configuration was read from, if any.
	Source string `yaml:"-"`
}

// GateConfig controls verification gate execution.
type GateConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxOutput int           `yaml:"max_output"`
}

// AuditConfig selects where decisions are recorded.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

// LogConfig controls diagnostic logging on stderr.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServeConfig controls the HTTP decision API.
type ServeConfig struct {
	Addr  string `yaml:"addr"`
	Watch bool   `yaml:"watch"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version:    1,
		PolicyPath: filepath.Join(".gatekeeper", "policy.yml"),
		Gate: GateConfig{
			Timeout:   5 * time.Minute,
			MaxOutput: 4096,
		},
		Audit: AuditConfig{
			Driver: DriverFile,
			Path:   filepath.Join(".gatekeeper", "audit.jsonl"),
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
		Serve: ServeConfig{
			Addr:  "127.0.0.1:7777",
			Watch: true,
		},
	}
}

// Load loads configuration. An explicit path is used on its own. Otherwise,
// if a local config exists it is used exclusively, else the global config
// is used. No merging occurs. Environment overrides apply last.
func Load(explicit string) (*Config, error) {
	cfg := Default()

	switch {
	case explicit != "":
		if err := cfg.loadFrom(explicit); err != nil {
			return nil, err
		}
	case fileExists(localConfigPath()):
		if err := cfg.loadFrom(localConfigPath()); err != nil {
			return nil, err
		}
	default:
		if globalPath := globalConfigPath(); globalPath != "" {
			if err := cfg.loadFrom(globalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = defaultProjectDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFrom decodes the file at path over the current values. Environment
// references in the file are expanded first.
func (c *Config) loadFrom(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	c.Source = path
	return nil
}

// applyEnv applies GATEKEEPER_* overrides.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString("GATEKEEPER_POLICY", &c.PolicyPath)
	setString("GATEKEEPER_PROJECT_DIR", &c.ProjectDir)
	setString("GATEKEEPER_AUDIT_DRIVER", &c.Audit.Driver)
	setString("GATEKEEPER_AUDIT_PATH", &c.Audit.Path)
	setString("GATEKEEPER_AUDIT_DSN", &c.Audit.DSN)
	setString("GATEKEEPER_LOG_LEVEL", &c.Log.Level)
	setString("GATEKEEPER_LOG_FORMAT", &c.Log.Format)
	setString("GATEKEEPER_ADDR", &c.Serve.Addr)

	if v := os.Getenv("GATEKEEPER_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: GATEKEEPER_THRESHOLD: %v", ErrInvalid, err)
		}
		c.Threshold = &n
	}
	if v := os.Getenv("GATEKEEPER_GATE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: GATEKEEPER_GATE_TIMEOUT: %v", ErrInvalid, err)
		}
		c.Gate.Timeout = d
	}
	if v := os.Getenv("GATEKEEPER_GATE_MAX_OUTPUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: GATEKEEPER_GATE_MAX_OUTPUT: %v", ErrInvalid, err)
		}
		c.Gate.MaxOutput = n
	}
	return nil
}

// Validate checks value ranges and driver settings.
func (c *Config) Validate() error {
	if c.Threshold != nil && *c.Threshold < 0 {
		return fmt.Errorf("%w: threshold must not be negative", ErrInvalid)
	}
	if c.Gate.Timeout <= 0 {
		return fmt.Errorf("%w: gate.timeout must be positive", ErrInvalid)
	}
	if c.Gate.MaxOutput <= 0 {
		return fmt.Errorf("%w: gate.max_output must be positive", ErrInvalid)
	}

	switch c.Audit.Driver {
	case DriverFile, DriverSQLite:
		if c.Audit.Path == "" && c.Audit.DSN == "" {
			return fmt.Errorf("%w: audit.path is required for the %s driver", ErrInvalid, c.Audit.Driver)
		}
	case DriverPostgres:
		if c.Audit.DSN == "" {
			return fmt.Errorf("%w: audit.dsn is required for the postgres driver", ErrInvalid)
		}
	case DriverNone:
	default:
		return fmt.Errorf("%w: unknown audit.driver %q", ErrInvalid, c.Audit.Driver)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log.format must be console or json", ErrInvalid)
	}
	return nil
}

// Resolve returns p resolved against the project directory.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.ProjectDir == "" {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

func defaultProjectDir() string {
	if dir := os.Getenv("CLAUDE_PROJECT_DIR"); dir != "" {
		return dir
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func globalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gatekeeper", "config.yml")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return globalConfigPath()
}

func localConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".gatekeeper.yml")
}

// LocalConfigPath returns the path to the project config file.
func LocalConfigPath() string {
	return localConfigPath()
}
