package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/swaytab/swaytab/internal/util"
)

// LintError is a single configuration problem with the path of the field.
type LintError struct {
	Path    string
	Message string
}

func (e LintError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// LintFile parses path and returns every problem found. Read and decode
// failures are returned as the error.
func LintFile(path string, knownRules ...string) ([]LintError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg.Lint(knownRules...), nil
}

// Lint checks the whole document and reports all problems. When knownRules
// is given, rule names are checked against it too.
func (c *Config) Lint(knownRules ...string) []LintError {
	var errs []LintError
	add := func(path, format string, args ...any) {
		errs = append(errs, LintError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if c.SocketPath != "" && !filepath.IsAbs(c.SocketPath) {
		add("socketPath", "must be an absolute path, got %q", c.SocketPath)
	}
	if c.QueueCapacity < 1 || c.QueueCapacity > maxQueueCapacity {
		add("queueCapacity", "must be between 1 and %d, got %d", maxQueueCapacity, c.QueueCapacity)
	}
	if !util.ValidLogLevel(c.LogLevel) {
		add("logLevel", "unknown level %q (trace|debug|info|warn|error)", c.LogLevel)
	}

	errs = append(errs, lintNames("rules.disabled", c.Rules.Disabled, knownRules)...)
	errs = append(errs, lintNames("rules.enabled", c.Rules.Enabled, knownRules)...)
	for i, name := range c.Rules.Enabled {
		if slices.Contains(c.Rules.Disabled, name) {
			add(fmt.Sprintf("rules.enabled[%d]", i), "rule %q is also disabled", name)
		}
	}

	if c.Telemetry.Listen != "" {
		if !c.Telemetry.Enabled {
			add("telemetry.listen", "requires telemetry.enabled")
		}
		if _, _, err := net.SplitHostPort(c.Telemetry.Listen); err != nil {
			add("telemetry.listen", "must be host:port, got %q", c.Telemetry.Listen)
		}
	}
	return errs
}

func lintNames(path string, names []string, known []string) []LintError {
	var errs []LintError
	seen := map[string]struct{}{}
	for i, raw := range names {
		name := strings.TrimSpace(raw)
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		if name == "" {
			errs = append(errs, LintError{Path: itemPath, Message: "rule name cannot be empty"})
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, LintError{Path: itemPath, Message: fmt.Sprintf("duplicate rule %q", name)})
			continue
		}
		seen[name] = struct{}{}
		if len(known) > 0 && !slices.Contains(known, name) {
			errs = append(errs, LintError{Path: itemPath, Message: fmt.Sprintf("unknown rule %q", name)})
		}
	}
	return errs
}
