package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"conveyor/internal/dispatch"
	"conveyor/internal/logging"
	"conveyor/internal/plugin"
	"conveyor/internal/services"
)

type passthroughResolver struct{}

func (passthroughResolver) EnsureCorrelated(_ context.Context, path string) string { return path }

type fakeSource struct {
	known map[string]plugin.Descriptor
}

func (s *fakeSource) Resolve(name string) (plugin.Descriptor, error) {
	desc, ok := s.known[name]
	if !ok {
		return plugin.Descriptor{}, services.Wrap(services.ErrNotFound, "plugin", "resolve", name, nil)
	}
	return desc, nil
}

type span struct {
	start time.Time
	end   time.Time
}

// instrumentedLoader records execution enter/exit timestamps and can be told
// to fail or panic for specific paths.
type instrumentedLoader struct {
	mu        sync.Mutex
	spans     []span
	executed  []string
	failPaths map[string]error
	panicPath string
	delay     time.Duration
}

func (l *instrumentedLoader) Load(plugin.Descriptor) (plugin.Instance, error) {
	return &instrumentedInstance{loader: l}, nil
}

type instrumentedInstance struct {
	loader *instrumentedLoader
}

func (i *instrumentedInstance) Execute(ctx context.Context, filePath string) error {
	l := i.loader
	l.mu.Lock()
	idx := len(l.spans)
	l.spans = append(l.spans, span{start: time.Now()})
	l.executed = append(l.executed, filePath)
	l.mu.Unlock()

	// Honor cancellation like a real subprocess would, so tests can tell a
	// completed execution from a killed one.
	var interrupted error
	if l.delay > 0 {
		select {
		case <-ctx.Done():
			interrupted = ctx.Err()
		case <-time.After(l.delay):
		}
	}

	l.mu.Lock()
	l.spans[idx].end = time.Now()
	l.mu.Unlock()

	if interrupted != nil {
		return interrupted
	}
	if filePath == l.panicPath {
		panic("plugin exploded")
	}
	if err, ok := l.failPaths[filePath]; ok {
		return err
	}
	return nil
}

func (l *instrumentedLoader) snapshotSpans() []span {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]span(nil), l.spans...)
}

func (l *instrumentedLoader) snapshotExecuted() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.executed...)
}

type outcomeCollector struct {
	mu       sync.Mutex
	outcomes []dispatch.Outcome
}

func (c *outcomeCollector) add(o dispatch.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
}

func (c *outcomeCollector) snapshot() []dispatch.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dispatch.Outcome(nil), c.outcomes...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newQueue(t *testing.T, loader plugin.Loader, source dispatch.PluginSource, collector *outcomeCollector) *dispatch.Queue {
	t.Helper()
	q := dispatch.NewQueue(passthroughResolver{}, source, loader, 10*time.Millisecond, logging.NewNop(),
		dispatch.WithOutcomeFunc(collector.add))
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(q.Stop)
	return q
}

func singlePluginSource() *fakeSource {
	return &fakeSource{known: map[string]plugin.Descriptor{
		"proc": {Name: "proc", Version: "1", Location: "/opt/proc"},
	}}
}

func TestSingleFlightUnderConcurrentEnqueue(t *testing.T) {
	loader := &instrumentedLoader{delay: 20 * time.Millisecond}
	collector := &outcomeCollector{}
	q := newQueue(t, loader, singlePluginSource(), collector)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue("/data/file-"+string(rune('a'+i))+".csv", "proc")
		}(i)
	}
	wg.Wait()

	waitFor(t, 5*time.Second, func() bool { return len(collector.snapshot()) == n })

	spans := loader.snapshotSpans()
	if len(spans) != n {
		t.Fatalf("expected %d executions, got %d", n, len(spans))
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].start.Before(spans[i-1].end) {
			t.Fatalf("executions %d and %d overlap: %v < %v", i-1, i, spans[i].start, spans[i-1].end)
		}
	}
}

func TestFIFOOrder(t *testing.T) {
	loader := &instrumentedLoader{}
	collector := &outcomeCollector{}
	q := newQueue(t, loader, singlePluginSource(), collector)

	paths := []string{"/d/1.csv", "/d/2.csv", "/d/3.csv"}
	for _, p := range paths {
		q.Enqueue(p, "proc")
	}
	waitFor(t, 3*time.Second, func() bool { return len(loader.snapshotExecuted()) == len(paths) })

	got := loader.snapshotExecuted()
	for i, p := range paths {
		if got[i] != p {
			t.Fatalf("expected FIFO order %v, got %v", paths, got)
		}
	}
}

func TestMissingPluginDropsItemAndContinues(t *testing.T) {
	loader := &instrumentedLoader{}
	collector := &outcomeCollector{}
	q := newQueue(t, loader, singlePluginSource(), collector)

	q.Enqueue("/d/orphan.csv", "no-such-plugin")
	q.Enqueue("/d/next.csv", "proc")

	waitFor(t, 3*time.Second, func() bool { return len(collector.snapshot()) == 2 })

	outcomes := collector.snapshot()
	if !outcomes[0].Dropped || !errors.Is(outcomes[0].Err, services.ErrNotFound) {
		t.Fatalf("expected first item dropped with ErrNotFound, got %+v", outcomes[0])
	}
	if outcomes[1].Err != nil {
		t.Fatalf("second item must process normally, got %+v", outcomes[1])
	}
	if executed := loader.snapshotExecuted(); len(executed) != 1 || executed[0] != "/d/next.csv" {
		t.Fatalf("expected only the second item to execute, got %v", executed)
	}
}

func TestPluginErrorIsSwallowedAtBoundary(t *testing.T) {
	loader := &instrumentedLoader{failPaths: map[string]error{"/d/bad.csv": errors.New("plugin blew up")}}
	collector := &outcomeCollector{}
	q := newQueue(t, loader, singlePluginSource(), collector)

	q.Enqueue("/d/bad.csv", "proc")
	q.Enqueue("/d/good.csv", "proc")

	waitFor(t, 3*time.Second, func() bool { return len(collector.snapshot()) == 2 })

	outcomes := collector.snapshot()
	if outcomes[0].Err == nil || outcomes[0].Dropped {
		t.Fatalf("expected failed (not dropped) first item, got %+v", outcomes[0])
	}
	if outcomes[1].Err != nil {
		t.Fatalf("loop must survive a plugin failure, got %+v", outcomes[1])
	}
}

func TestPluginPanicIsCaught(t *testing.T) {
	loader := &instrumentedLoader{panicPath: "/d/panic.csv"}
	collector := &outcomeCollector{}
	q := newQueue(t, loader, singlePluginSource(), collector)

	q.Enqueue("/d/panic.csv", "proc")
	q.Enqueue("/d/after.csv", "proc")

	waitFor(t, 3*time.Second, func() bool { return len(collector.snapshot()) == 2 })

	outcomes := collector.snapshot()
	if outcomes[0].Err == nil {
		t.Fatalf("expected panic to surface as outcome error, got %+v", outcomes[0])
	}
	if outcomes[1].Err != nil {
		t.Fatalf("loop must survive a panic, got %+v", outcomes[1])
	}
}

func TestStopWaitsForInFlightItem(t *testing.T) {
	const delay = 300 * time.Millisecond
	loader := &instrumentedLoader{delay: delay}
	collector := &outcomeCollector{}
	q := dispatch.NewQueue(passthroughResolver{}, singlePluginSource(), loader, 10*time.Millisecond, logging.NewNop(),
		dispatch.WithOutcomeFunc(collector.add))
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	q.Enqueue("/d/slow.csv", "proc")
	waitFor(t, 3*time.Second, func() bool { return len(loader.snapshotSpans()) == 1 })

	// Stop lands while the plugin is mid-execution.
	q.Stop()

	spans := loader.snapshotSpans()
	if len(spans) != 1 || spans[0].end.IsZero() {
		t.Fatalf("expected the in-flight execution to finish before Stop returned, got %+v", spans)
	}
	if elapsed := spans[0].end.Sub(spans[0].start); elapsed < delay {
		t.Fatalf("in-flight execution was cut short after %v", elapsed)
	}
	outcomes := collector.snapshot()
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("expected one clean outcome, got %+v", outcomes)
	}
}

func TestStopDiscardsUnconsumedItems(t *testing.T) {
	loader := &instrumentedLoader{delay: 50 * time.Millisecond}
	collector := &outcomeCollector{}
	q := dispatch.NewQueue(passthroughResolver{}, singlePluginSource(), loader, 10*time.Millisecond, logging.NewNop(),
		dispatch.WithOutcomeFunc(collector.add))
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 20; i++ {
		q.Enqueue("/d/bulk.csv", "proc")
	}
	waitFor(t, 3*time.Second, func() bool { return len(collector.snapshot()) >= 1 })
	q.Stop()
	q.Stop() // idempotent

	done := len(collector.snapshot())
	if done >= 20 {
		t.Fatal("expected Stop to discard queued items")
	}
	if q.Len() == 0 {
		t.Fatal("discarded items remain unconsumed, not drained")
	}
}
