package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentforge/agentcore/internal/bus"
)

// debounceDelay coalesces the burst of write events most editors and
// `cp`/`mv` produce for a single logical save into one reload.
const debounceDelay = 100 * time.Millisecond

// Watcher reloads a Config from disk whenever its backing file changes
// and republishes bus.TopicConfigReloaded for any bus subscriber; no
// package in this module subscribes to it. Holders of the shared
// *Config see the reloaded non-secret values on their next read, while
// the maintenance scheduler keeps the cron expression it was started
// with. Grounded on a file-watch config provider found elsewhere in
// the example corpus (a Type-File provider's Watch/watchLoop pair) since
// no teacher file actually calls fsnotify despite it being declared in
// the teacher's own go.mod: watch the containing directory rather than
// the file itself (inotify loses the watch across some editors' atomic
// rename-based saves of the file directly), filter events down to the
// target file's basename, and debounce bursts with a timer.
type Watcher struct {
	path   string
	cfg    *Config
	bus    *bus.Bus
	logger *slog.Logger
}

// NewWatcher constructs a Watcher for path, reloading into cfg and
// publishing onto b.
func NewWatcher(path string, cfg *Config, b *bus.Bus) *Watcher {
	return &Watcher{path: path, cfg: cfg, bus: b, logger: slog.Default()}
}

// Run blocks, watching until ctx is cancelled. Watch-setup failures are
// logged and treated as fatal to the watcher (hot-reload becomes
// unavailable) but never to the process — the config already loaded
// keeps serving.
func (w *Watcher) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("config: failed to create file watcher", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)
	if err := watcher.Add(dir); err != nil {
		w.logger.Error("config: failed to watch directory", "dir", dir, "error", err)
		return
	}
	w.logger.Info("config: watching for changes", "path", w.path)

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config: file watcher error", "error", err)

		case <-reload:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	before := w.cfg.Hash()
	fresh, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config: reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	w.cfg.ReplaceFrom(fresh)
	after := w.cfg.Hash()
	if after == before {
		return
	}

	w.logger.Info("config: reloaded", "path", w.path)
	if w.bus != nil {
		w.bus.Publish(bus.Event{
			Topic:     bus.TopicConfigReloaded,
			Publisher: "config.watcher",
			Payload:   w.cfg.Snapshot(),
		})
	}
}
