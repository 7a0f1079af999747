// Package watcher observes input directories and coalesces file events so
// ingestion reruns once per burst of changes instead of once per write.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation classifies a file event.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// DefaultDebounceWindow is how long a burst may grow before it flushes.
const DefaultDebounceWindow = 500 * time.Millisecond

// Watcher follows directories recursively and emits debounced batches.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	log       *slog.Logger
}

// New creates a watcher. window <= 0 selects the default.
func New(window time.Duration, log *slog.Logger) (*Watcher, error) {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:       fsw,
		debouncer: NewDebouncer(window),
		log:       log,
	}, nil
}

// Watch registers a directory tree. Hidden directories are skipped. New
// subdirectories are registered as they appear.
func (w *Watcher) Watch(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Run pumps raw notifications into the debouncer until the context ends.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		// Newly created directories join the watch set.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.Watch(ev.Name); err != nil {
				w.log.Warn("cannot watch new directory",
					slog.String("path", ev.Name),
					slog.String("error", err.Error()))
			}
			return
		}
		w.debouncer.Add(FileEvent{Path: ev.Name, Operation: OpCreate, Timestamp: time.Now()})
	case ev.Op.Has(fsnotify.Write):
		w.debouncer.Add(FileEvent{Path: ev.Name, Operation: OpModify, Timestamp: time.Now()})
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.debouncer.Add(FileEvent{Path: ev.Name, Operation: OpDelete, Timestamp: time.Now()})
	}
}

// Batches returns the debounced event batches.
func (w *Watcher) Batches() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Close stops the watcher and the debouncer.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	w.debouncer.Stop()
	return err
}
