// Package watch adapts raw fsnotify events into per-path notifications for
// the stability monitors.
//
// One Watcher serves one concern (routing inbox, baseline source, descriptor
// folder, compare folders, merge folder); the agent owns several. Directory
// entries that appear or change are forwarded as plain paths; the stability
// layer downstream is responsible for collapsing bursts.
package watch

import (
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"conveyor/internal/logging"
)

// ErrNoWatchDir reports that a watcher was started without any usable
// directory.
var ErrNoWatchDir = errors.New("no watch directory configured")

// Watcher forwards filesystem notifications beneath registered directories.
type Watcher struct {
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	onEvent func(path string)

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
	dirs    int
}

// New constructs a watcher that invokes onEvent for every create, write, or
// rename notification.
func New(logger *slog.Logger, component string, onEvent func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:     fsw,
		logger:  logging.NewComponentLogger(logger, component),
		onEvent: onEvent,
	}, nil
}

// Add registers a directory. A missing directory is logged and skipped so a
// disconnected equipment share disables the watch instead of failing it.
func (w *Watcher) Add(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		w.logger.Warn("watch folder unavailable, watch not started",
			logging.Path(dir), logging.Error(err))
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("failed to register watch folder", logging.Path(dir), logging.Error(err))
		return err
	}
	w.mu.Lock()
	w.dirs++
	w.mu.Unlock()
	w.logger.Info("watching folder", logging.Path(dir))
	return nil
}

// Start launches the event loop. Returns ErrNoWatchDir when no directory
// registered successfully; the caller logs that and moves on.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.started {
		return nil
	}
	if w.dirs == 0 {
		return ErrNoWatchDir
	}
	w.started = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if w.onEvent != nil {
				w.onEvent(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch backend error", logging.Error(err))
		}
	}
}

// Stop closes the backend and waits for the loop to drain. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	_ = w.fsw.Close()
	w.wg.Wait()
}
