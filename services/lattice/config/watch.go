// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period Watch waits for after the last
// change before reloading.
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes each
// valid configuration to onChange.
//
// Description:
//
//	The parent directory is watched rather than the file, so editors that
//	save by rename are picked up. Bursts of events are collapsed into one
//	reload after debounce. A reload that fails to parse or validate is
//	logged and skipped; the previous configuration stays in effect.
//
// Inputs:
//
//	ctx - Watch returns nil when ctx is done.
//	path - The config file. Required.
//	debounce - Quiet period; non-positive selects DefaultDebounce.
//	onChange - Called from the watch goroutine for every valid reload.
//	logger - Optional.
//
// Outputs:
//
//	error - Failure to start the watcher.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(Config), logger *slog.Logger) error {
	if path == "" {
		return fmt.Errorf("%w: watch needs a config path", ErrInvalidConfig)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "lattice.config"), slog.String("path", path))

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload rejected", slog.String("error", err.Error()))
				continue
			}
			logger.Info("config reloaded")
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}
