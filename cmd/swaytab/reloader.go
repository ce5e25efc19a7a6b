package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/swaytab/swaytab/internal/config"
	"github.com/swaytab/swaytab/internal/engine"
	"github.com/swaytab/swaytab/internal/rules"
	"github.com/swaytab/swaytab/internal/util"
)

// configReloader re-reads the config file and applies the reloadable
// settings to the engine. A rejected file leaves the previous settings in
// place.
type configReloader struct {
	path          string
	levelOverride string
	logger        *util.Logger
	engine        *engine.Engine

	mu             sync.Mutex
	lastConfig     *config.Config
	lastSerialized []byte
}

func newConfigReloader(path, levelOverride string, logger *util.Logger, eng *engine.Engine, cfg *config.Config, serialized []byte) *configReloader {
	return &configReloader{
		path:           path,
		levelOverride:  levelOverride,
		logger:         logger,
		engine:         eng,
		lastConfig:     cfg,
		lastSerialized: append([]byte(nil), serialized...),
	}
}

func (r *configReloader) Reload(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Infof("%s, reloading config", reason)
	raw, err := os.ReadFile(r.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		r.logDiff(raw)
		return err
	}
	if lintErrs := cfg.Lint(rules.Names()...); len(lintErrs) > 0 {
		r.logLintErrors(lintErrs)
		r.logDiff(raw)
		return lintErrs[0]
	}
	if r.levelOverride != "" {
		cfg.LogLevel = r.levelOverride
	}
	if err := r.engine.ApplyConfig(cfg); err != nil {
		r.logDiff(raw)
		return fmt.Errorf("compile rules: %w", err)
	}
	if fields := cfg.RestartRequired(r.lastConfig); len(fields) > 0 {
		r.logger.Warnf("changes to %s take effect after a restart", strings.Join(fields, ", "))
	}
	if diff := config.Diff(r.lastConfig, cfg); diff != "" {
		r.logger.Debugf("applied config changes:\n%s", diff)
	}

	r.lastConfig = cfg
	r.lastSerialized = append([]byte(nil), raw...)
	r.logger.Infof("config reloaded")
	return nil
}

func (r *configReloader) logDiff(current []byte) {
	diff := config.DiffSerialized(r.lastSerialized, current)
	if diff == "" {
		r.logger.Warnf("config change rejected; unable to compute diff vs last valid config")
		return
	}
	r.logger.Warnf("config change rejected; diff vs last valid config:\n%s", diff)
}

func (r *configReloader) logLintErrors(errs []config.LintError) {
	r.logger.Warnf("config validation failed with %d issue(s):", len(errs))
	for _, lintErr := range errs {
		r.logger.Warnf(" - %s", lintErr.Error())
	}
}
