// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package pkgmanager

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
)

// watcher flags the catalogue as stale when the installation folders change
// on disk. Reconciliation itself still happens on the next request barrier.
type watcher struct {
	fs    *fsnotify.Watcher
	log   *slog.Logger
	stale atomic.Bool
	done  chan struct{}
}

// Watch starts watching the plugins and modules folders. Safe to call once.
func (m *Manager) Watch() error {
	if m.watcher != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.Code("PKG_WATCH_FAILED").Wrapf(err, "create filesystem watcher")
	}

	w := &watcher{fs: fsw, log: m.log, done: make(chan struct{})}
	for _, folder := range []string{"plugins", "modules"} {
		dir := filepath.Join(m.cfg.BaseDir, folder)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			m.log.Warn("cannot watch folder", "path", dir, "error", err)
		}
	}

	go w.run()
	m.watcher = w
	return nil
}

// Stale reports whether the installation folders changed since the last
// reconciliation.
func (m *Manager) Stale() bool {
	return m.watcher != nil && m.watcher.stale.Load()
}

func (w *watcher) run() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				if w.stale.CompareAndSwap(false, true) {
					w.log.Info("package folders changed on disk, catalogue is stale",
						"path", event.Name)
				}
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *watcher) stop() {
	close(w.done)
	_ = w.fs.Close()
}
