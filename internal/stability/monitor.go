// Package stability turns bursty filesystem notifications into a single
// settled signal per path.
//
// A Monitor tracks every path passed to Record and probes size and
// modification time on a periodic scan. A path whose size and mtime stay
// unchanged for the quiet period is reported exactly once through the
// OnStable callback and then forgotten. Probe errors other than not-exist
// count as "still changing"; a vanished path is dropped silently.
//
// The scan goroutine parks itself when the tracked set empties and is
// restarted by the next Record call, so an idle agent does no polling.
package stability

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"conveyor/internal/logging"
)

type trackedFile struct {
	size       int64
	modTime    time.Time
	lastChange time.Time
}

// Monitor detects when watched files stop changing.
type Monitor struct {
	quiet    time.Duration
	onStable func(path string)
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	tracked  map[string]*trackedFile
	scanning bool
	stopped  bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// Option configures optional Monitor behavior.
type Option func(*Monitor)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMonitor constructs a monitor that calls onStable once per settled path.
func NewMonitor(quiet time.Duration, onStable func(path string), logger *slog.Logger, opts ...Option) *Monitor {
	if quiet <= 0 {
		quiet = time.Second
	}
	m := &Monitor{
		quiet:    quiet,
		onStable: onStable,
		logger:   logging.NewComponentLogger(logger, "stability"),
		now:      time.Now,
		tracked:  make(map[string]*trackedFile),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record upserts tracking state for path and wakes the scan loop. Duplicate
// notifications for the same path refresh the quiet timer instead of
// creating new entries.
func (m *Monitor) Record(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	entry, ok := m.tracked[path]
	if !ok {
		entry = &trackedFile{}
		m.tracked[path] = entry
	}
	entry.lastChange = m.now()
	if info, err := os.Stat(path); err == nil {
		entry.size = info.Size()
		entry.modTime = info.ModTime()
	}

	if !m.scanning {
		m.scanning = true
		m.wg.Add(1)
		go m.scanLoop()
	}
}

// Tracked returns the number of paths currently awaiting stabilization.
func (m *Monitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Stop halts scanning. It is idempotent and safe to call while a probe or
// callback is in flight; a stopped monitor ignores further Record calls.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stop)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) scanLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.quiet)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			stable, empty := m.scanOnce()
			for _, path := range stable {
				if m.onStable != nil {
					m.onStable(path)
				}
			}
			if empty {
				return
			}
		}
	}
}

// scanOnce probes every tracked path and collects those that settled. It
// returns empty=true after parking the loop so the caller can exit; the
// scanning flag flips under the same lock that empties the map, keeping
// Record's restart race-free.
func (m *Monitor) scanOnce() (stable []string, empty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for path, entry := range m.tracked {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				delete(m.tracked, path)
				continue
			}
			// Conservative: unreadable counts as still changing.
			m.logger.Debug("probe failed, keeping entry", logging.Path(path), logging.Error(err))
			entry.lastChange = now
			continue
		}
		if info.Size() != entry.size || !info.ModTime().Equal(entry.modTime) {
			entry.size = info.Size()
			entry.modTime = info.ModTime()
			entry.lastChange = now
			continue
		}
		if now.Sub(entry.lastChange) >= m.quiet {
			delete(m.tracked, path)
			stable = append(stable, path)
		}
	}

	if len(m.tracked) == 0 {
		m.scanning = false
		return stable, true
	}
	return stable, false
}
