package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/swaytab/swaytab/internal/util"
)

const (
	defaultQueueCapacity = 10
	maxQueueCapacity     = 1024
)

// Config is the top-level configuration document. Every field is optional.
type Config struct {
	SocketPath    string          `yaml:"socketPath"`
	QueueCapacity int             `yaml:"queueCapacity"`
	LogLevel      string          `yaml:"logLevel"`
	DebugTree     bool            `yaml:"debugTree"`
	Rules         RulesConfig     `yaml:"rules"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// RulesConfig toggles built-in rules by name.
type RulesConfig struct {
	Disabled []string `yaml:"disabled"`
	Enabled  []string `yaml:"enabled"`
}

// OptedIn reports whether name is listed under enabled.
func (r RulesConfig) OptedIn(name string) bool {
	return slices.ContainsFunc(r.Enabled, func(s string) bool {
		return strings.TrimSpace(s) == name
	})
}

// TelemetryConfig controls rule counters and their Prometheus exposition.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// UnmarshalYAML accepts the older flat rule toggles alongside the rules block.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig struct {
		SocketPath     string          `yaml:"socketPath"`
		QueueCapacity  int             `yaml:"queueCapacity"`
		LogLevel       string          `yaml:"logLevel"`
		DebugTree      bool            `yaml:"debugTree"`
		Rules          RulesConfig     `yaml:"rules"`
		Telemetry      TelemetryConfig `yaml:"telemetry"`
		LegacyDisabled []string        `yaml:"disabledRules"`
	}

	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.SocketPath = raw.SocketPath
	c.QueueCapacity = raw.QueueCapacity
	c.LogLevel = raw.LogLevel
	c.DebugTree = raw.DebugTree
	c.Rules = raw.Rules
	c.Telemetry = raw.Telemetry
	for _, name := range raw.LegacyDisabled {
		if !slices.Contains(c.Rules.Disabled, name) {
			c.Rules.Disabled = append(c.Rules.Disabled, name)
		}
	}
	return nil
}

// DefaultPath returns ~/.config/swaytab/config.yaml.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "swaytab", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "swaytab", "config.yaml")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a configuration file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.QueueCapacity == 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate returns the first lint error, if any.
func (c *Config) Validate() error {
	if errs := c.Lint(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// LogLevelValue returns the parsed log level.
func (c *Config) LogLevelValue() util.LogLevel {
	return util.ParseLogLevel(c.LogLevel)
}

// RestartRequired lists fields that differ from prev but only take effect on
// restart.
func (c *Config) RestartRequired(prev *Config) []string {
	if prev == nil {
		return nil
	}
	var fields []string
	if c.SocketPath != prev.SocketPath {
		fields = append(fields, "socketPath")
	}
	if c.QueueCapacity != prev.QueueCapacity {
		fields = append(fields, "queueCapacity")
	}
	if c.Telemetry.Listen != prev.Telemetry.Listen {
		fields = append(fields, "telemetry.listen")
	}
	return fields
}
