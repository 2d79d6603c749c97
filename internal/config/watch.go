package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-parses the config file on write and hands the newly parsed
// Config to onReload; the callback decides which fields to apply (see
// Reloadable).
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	log     *slog.Logger
}

// Watch starts watching path's parent directory (fsnotify watches
// directories more reliably across editors that replace-via-rename) and
// invokes onReload with the newly parsed config whenever path changes.
// The returned Watcher must be closed by the caller on shutdown.
func Watch(path string, log *slog.Logger, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, log: log}

	dir := dirOf(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	go w.loop(onReload)
	return w, nil
}

func (w *Watcher) loop(onReload func(*Config)) {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload failed, keeping previous settings", "error", err)
				continue
			}
			w.log.Info("config reloaded", "path", w.path)
			onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
