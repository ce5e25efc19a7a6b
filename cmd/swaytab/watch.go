package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/swaytab/swaytab/internal/util"
)

const debounceWindow = 250 * time.Millisecond

// configWatcher turns bursts of editor writes to the config file into single
// reload requests.
type configWatcher struct {
	watcher *fsnotify.Watcher
	target  string
	logger  *util.Logger
}

func newConfigWatcher(path string, logger *util.Logger) (*configWatcher, error) {
	full, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	full = filepath.Clean(full)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	// Editors replace the file on save, so the directory is what must be
	// watched.
	if err := w.Add(filepath.Dir(full)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}
	return &configWatcher{watcher: w, target: full, logger: logger}, nil
}

func (w *configWatcher) Close() error {
	return w.watcher.Close()
}

// Run forwards debounced change notifications until ctx ends. A pending
// request is not duplicated while the previous one is unconsumed.
func (w *configWatcher) Run(ctx context.Context, requests chan<- string) {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Tracef("config event %s", event.Op)
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
				continue
			}
			timer.Reset(debounceWindow)
		case <-timerCh:
			timer = nil
			timerCh = nil
			select {
			case requests <- "config file updated":
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("config watcher error: %v", err)
		}
	}
}
