package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchTables loads tables.yaml, calls onUpdate with it, then polls the file
// every interval and calls onUpdate again whenever a newer version parses.
// A file that fails to load is logged and the previous inventory stays.
func WatchTables(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*TablesConfig)) error {
	if path == "" {
		path = "configs/tables.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	cfg, err := LoadTablesConfig(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	w := &tablesWatcher{path: path, lastMod: info.ModTime(), logger: logger, onUpdate: onUpdate}
	go w.run(ctx, interval)
	return nil
}

type tablesWatcher struct {
	path     string
	lastMod  time.Time
	logger   *zerolog.Logger
	onUpdate func(*TablesConfig)
}

func (w *tablesWatcher) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *tablesWatcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Cannot stat tables config")
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	// Each version of the file is tried once.
	w.lastMod = info.ModTime()

	cfg, err := LoadTablesConfig(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Invalid tables config, keeping previous inventory")
		return
	}
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
}
