// Package dispatch decouples "file is ready" signals from potentially slow
// plugin execution.
//
// The Queue is an unbounded in-memory FIFO consumed by exactly one
// goroutine, which is what guarantees single-flight plugin execution:
// plugins are not assumed to be thread-safe, so mutual exclusion is
// structural rather than lock-based. Items are volatile by contract; nothing
// is replayed across restarts.
//
// Each dequeued item is resolved to its final name through the injected
// Resolver (the correlator's EnsureCorrelated capability, nothing more),
// matched against the plugin registry by exact identity, and executed with a
// freshly loaded instance. Plugin failures and panics are caught at this
// boundary and never stop the loop.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/plugin"
)

// Resolver is the narrow correlation capability the queue depends on.
type Resolver interface {
	EnsureCorrelated(ctx context.Context, path string) string
}

// PluginSource resolves plugin names to descriptors.
type PluginSource interface {
	Resolve(name string) (plugin.Descriptor, error)
}

// Item is one unit of pending work.
type Item struct {
	Path       string
	Plugin     string
	EnqueuedAt time.Time
}

// Outcome reports how one item finished, for journaling.
type Outcome struct {
	Item     Item
	Resolved string
	Err      error
	Dropped  bool
}

// Queue is the single-flight plugin execution queue.
type Queue struct {
	resolver Resolver
	plugins  PluginSource
	loader   plugin.Loader
	logger   *slog.Logger
	idle     time.Duration
	onDone   func(Outcome)

	mu    sync.Mutex
	items []Item

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures optional Queue behavior.
type Option func(*Queue)

// WithOutcomeFunc registers a callback invoked after each item finishes,
// regardless of result. Used for journaling and tests.
func WithOutcomeFunc(fn func(Outcome)) Option {
	return func(q *Queue) {
		q.onDone = fn
	}
}

// NewQueue constructs the queue. idle bounds the consumer's sleep when the
// queue is empty.
func NewQueue(resolver Resolver, plugins PluginSource, loader plugin.Loader, idle time.Duration, logger *slog.Logger, opts ...Option) *Queue {
	if idle <= 0 {
		idle = 200 * time.Millisecond
	}
	q := &Queue{
		resolver: resolver,
		plugins:  plugins,
		loader:   loader,
		logger:   logging.NewComponentLogger(logger, "dispatch"),
		idle:     idle,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a work item. Never blocks; the queue is unbounded.
func (q *Queue) Enqueue(path, pluginName string) {
	q.mu.Lock()
	q.items = append(q.items, Item{Path: path, Plugin: pluginName, EnqueuedAt: time.Now()})
	depth := len(q.items)
	q.mu.Unlock()
	q.logger.Debug("item enqueued",
		logging.Path(path),
		logging.String(logging.FieldPlugin, pluginName),
		logging.Int("depth", depth))
}

// Len reports the number of unconsumed items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Start launches the single consumer loop.
func (q *Queue) Start(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.running {
		return fmt.Errorf("dispatch queue already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	q.wg.Add(1)
	go q.consume(runCtx)
	return nil
}

// Stop cancels the loop after the in-flight item, if any, finishes.
// Unconsumed items are discarded. Idempotent.
func (q *Queue) Stop() {
	q.runMu.Lock()
	if !q.running {
		q.runMu.Unlock()
		return
	}
	cancel := q.cancel
	q.running = false
	q.cancel = nil
	q.runMu.Unlock()

	cancel()
	q.wg.Wait()
}

func (q *Queue) consume(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.idle):
			}
			continue
		}
		q.process(ctx, item)
	}
}

// process runs one item end to end. Every failure mode is terminal for the
// item and invisible to the next one. The item context is detached from the
// loop's: Stop cancels dequeueing only, never the in-flight correlation wait
// or the plugin subprocess.
func (q *Queue) process(ctx context.Context, item Item) {
	itemCtx := context.WithoutCancel(ctx)
	outcome := Outcome{Item: item}
	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("plugin panic: %v", r)
			q.logger.Error("plugin panicked",
				logging.Path(item.Path),
				logging.String(logging.FieldPlugin, item.Plugin),
				logging.Any("panic", r))
		}
		if q.onDone != nil {
			q.onDone(outcome)
		}
	}()

	resolved := item.Path
	if q.resolver != nil {
		resolved = q.resolver.EnsureCorrelated(itemCtx, item.Path)
	}
	outcome.Resolved = resolved

	desc, err := q.plugins.Resolve(item.Plugin)
	if err != nil {
		outcome.Err = err
		outcome.Dropped = true
		q.logger.Error("item dropped, plugin unavailable",
			logging.Path(resolved),
			logging.String(logging.FieldPlugin, item.Plugin),
			logging.Error(err))
		return
	}

	inst, err := q.loader.Load(desc)
	if err != nil {
		outcome.Err = err
		outcome.Dropped = true
		q.logger.Error("item dropped, plugin load failed",
			logging.Path(resolved),
			logging.String(logging.FieldPlugin, item.Plugin),
			logging.Error(err))
		return
	}

	start := time.Now()
	if err := inst.Execute(itemCtx, resolved); err != nil {
		outcome.Err = err
		q.logger.Error("plugin execution failed",
			logging.Path(resolved),
			logging.String(logging.FieldPlugin, item.Plugin),
			logging.Duration("elapsed", time.Since(start)),
			logging.Error(err))
		return
	}
	q.logger.Info("plugin execution complete",
		logging.Path(resolved),
		logging.String(logging.FieldPlugin, item.Plugin),
		logging.Duration("elapsed", time.Since(start)))
}
