package server

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloader watches a set of paths and calls a shutdown trigger on any
// change, so the supervisor respawns the worker with fresh code/config
// (§4.6 "Auto-reload"). Paths are directories; all files within are
// watched non-recursively, matching the common case of a flat package
// directory.
type Reloader struct {
	watcher *fsnotify.Watcher
	log     *zap.Logger
	done    chan struct{}
}

// NewReloader starts watching paths. Call Close to stop.
func NewReloader(paths []string, log *zap.Logger) (*Reloader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = w.Close()
			return nil, err
		}
		if err := w.Add(abs); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	return &Reloader{watcher: w, log: log, done: make(chan struct{})}, nil
}

// Watch runs until Close is called, invoking onChange once per detected
// write/create/rename/remove event. onChange is expected to trigger a
// graceful shutdown (e.g. Server.Shutdown); Watch itself never shuts
// anything down directly.
func (r *Reloader) Watch(onChange func(event fsnotify.Event)) {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				r.log.Info("auto-reload: watched path changed, triggering shutdown",
					zap.String("path", event.Name), zap.String("op", event.Op.String()))
				onChange(event)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Error("auto-reload watcher error", zap.Error(err))
		}
	}
}

func (r *Reloader) Close() error {
	close(r.done)
	return r.watcher.Close()
}
