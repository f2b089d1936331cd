package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/sid6224/misp-mcp/mcpservice"
)

// Watcher re-reads a config file when it changes and applies its log level.
// Every other setting requires a restart.
type Watcher struct {
	path    string
	level   *slog.LevelVar
	log     *slog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching path. The parent directory is watched so that
// editors which replace the file on save are seen too.
func NewWatcher(path string, level *slog.LevelVar, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, level: level, log: log, watcher: fw}, nil
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	w.log.Info("config.watch.start", slog.String("path", w.path))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config.watch.err", slog.String("err", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	var cfg Config
	if err := cfg.loadFile(w.path); err != nil {
		// Partial writes are common; the next event retries.
		w.log.Warn("config.reload.err", slog.String("path", w.path), slog.String("err", err.Error()))
		return
	}
	if cfg.LogLevel == "" {
		return
	}
	if err := mcpservice.SetSlogLevel(w.level, cfg.LogLevel); err != nil {
		w.log.Warn("config.reload.err", slog.String("path", w.path), slog.String("err", err.Error()))
		return
	}
	w.log.Info("config.reload.ok", slog.String("path", w.path), slog.String("log_level", cfg.LogLevel))
}
