// Package agent wires the watch, stability, routing, baseline, dispatch, and
// merge subsystems into one unattended process.
//
// The agent owns one watcher and one stability monitor per concern. Settled
// files flow into concern-specific handlers; everything the handlers decide is
// journaled best-effort. A file lock under the log directory enforces
// single-instance execution.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"conveyor/internal/baseline"
	"conveyor/internal/config"
	"conveyor/internal/dispatch"
	"conveyor/internal/fileutil"
	"conveyor/internal/journal"
	"conveyor/internal/logging"
	"conveyor/internal/merge"
	"conveyor/internal/plugin"
	"conveyor/internal/routing"
	"conveyor/internal/stability"
	"conveyor/internal/watch"
)

// binding pairs a dispatch binding with its compiled filename filter. A nil
// pattern admits every file in the bound folder.
type binding struct {
	cfg     config.Binding
	pattern *regexp.Regexp
}

// Agent coordinates the background pipeline and enforces single-instance
// execution.
type Agent struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	journal    *journal.Store

	lockPath string
	lock     *flock.Flock

	router     *routing.Router
	correlator *baseline.Correlator
	registry   *plugin.Registry
	loader     *plugin.ExecLoader
	queue      *dispatch.Queue
	trigger    *merge.Trigger
	bindings   []binding

	watchers []*watch.Watcher
	monitors []*stability.Monitor

	// dispatched holds recently enqueued paths; renamed holds rename
	// targets whose old name was already dispatched, so the filesystem
	// events those renames raise are not dispatched a second time. A
	// rename whose old name was never dispatched is not suppressed: the
	// new-name event is then the file's only path into the queue.
	// renamed entries are consumed on first hit; both maps are swept by
	// age.
	renameMu   sync.Mutex
	dispatched map[string]time.Time
	renamed    map[string]time.Time

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status reports agent runtime information for the CLI.
type Status struct {
	Running      bool
	QueueDepth   int
	LockFilePath string
	JournalPath  string
}

// New constructs an agent with all subsystems built but not started. jrnl may
// be nil; journaling is then disabled.
func New(cfg *config.Config, configPath string, jrnl *journal.Store, logger *slog.Logger) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("agent requires a config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	rules, err := routing.CompileRules(cfg.Routing.Rules)
	if err != nil {
		return nil, err
	}

	bindings := make([]binding, 0, len(cfg.Dispatch.Bindings))
	for _, b := range cfg.Dispatch.Bindings {
		var pattern *regexp.Regexp
		if b.Pattern != "" {
			pattern, err = regexp.Compile(b.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compile binding pattern %q: %w", b.Pattern, err)
			}
		}
		bindings = append(bindings, binding{cfg: b, pattern: pattern})
	}

	a := &Agent{
		cfg:        cfg,
		configPath: configPath,
		logger:     logging.NewComponentLogger(logger, "agent"),
		journal:    jrnl,
		lockPath:   filepath.Join(cfg.Paths.LogDir, "conveyord.lock"),
		bindings:   bindings,
		dispatched: make(map[string]time.Time),
		renamed:    make(map[string]time.Time),
	}
	a.lock = flock.New(a.lockPath)

	a.router = routing.NewRouter(rules,
		time.Duration(cfg.Routing.DedupWindowSeconds)*time.Second,
		logger,
		routing.WithReadRetry(routerRetryPolicy(cfg)))
	a.correlator = baseline.NewCorrelator(cfg, logger,
		baseline.WithRenameObserver(a.noteRename))
	a.registry = plugin.NewRegistry(cfg.Plugins)
	a.loader = plugin.NewExecLoader(configPath, cfg.Paths.LogDir, logger)
	a.queue = dispatch.NewQueue(a.correlator, a.registry, a.loader,
		time.Duration(cfg.Dispatch.IdleSleepMS)*time.Millisecond,
		logger,
		dispatch.WithOutcomeFunc(a.recordOutcome))
	a.trigger = merge.NewTrigger(cfg,
		merge.NewCLI(merge.WithBinary(cfg.Merge.MergerBinary)),
		logger)

	return a, nil
}

// routerRetryPolicy maps the routing read-retry knobs onto a fileutil
// policy.
func routerRetryPolicy(cfg *config.Config) fileutil.RetryPolicy {
	return fileutil.RetryPolicy{
		Attempts: cfg.Routing.ReadAttempts,
		Delay:    time.Duration(cfg.Routing.ReadRetryDelayMS) * time.Millisecond,
	}
}

// Start acquires the instance lock and launches all watchers and the
// dispatch queue.
func (a *Agent) Start(ctx context.Context) error {
	if a.running.Load() {
		return errors.New("agent already running")
	}
	if err := a.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another conveyor agent instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.queue.Start(runCtx); err != nil {
		a.releaseLock()
		cancel()
		return err
	}

	quiet := time.Duration(a.cfg.Stability.QuietPeriodSeconds) * time.Second
	mergeQuiet := time.Duration(a.cfg.Merge.QuietPeriodSeconds) * time.Second

	if err := a.startWatch("routing", quiet, []string{a.cfg.Routing.WatchDir}, a.handleInboxStable); err != nil {
		a.Stop()
		return err
	}
	if err := a.startWatch("baseline-source", quiet, []string{a.cfg.Baseline.SourceDir}, a.handleSourceStable); err != nil {
		a.Stop()
		return err
	}
	if err := a.startWatch("baseline-descriptors", quiet, []string{a.cfg.Paths.BaselineDir}, a.handleDescriptorStable); err != nil {
		a.Stop()
		return err
	}
	for i := range a.bindings {
		b := &a.bindings[i]
		handler := func(path string) { a.handleBindingStable(b, path) }
		if err := a.startWatch("dispatch-"+b.cfg.DataType, quiet, []string{b.cfg.WatchDir}, handler); err != nil {
			a.Stop()
			return err
		}
	}
	if err := a.startWatch("merge", mergeQuiet, []string{a.cfg.Merge.WatchDir}, func(path string) {
		a.handleMergeStable(runCtx, path)
	}); err != nil {
		a.Stop()
		return err
	}

	a.running.Store(true)
	a.logger.Info("agent started", logging.String("lock", a.lockPath))
	return nil
}

// startWatch builds one monitor plus one watcher for a concern. A concern
// whose directories are all unset or missing is disabled, not an error.
func (a *Agent) startWatch(component string, quiet time.Duration, dirs []string, onStable func(string)) error {
	monitor := stability.NewMonitor(quiet, onStable, a.logger)
	watcher, err := watch.New(a.logger, component, monitor.Record)
	if err != nil {
		monitor.Stop()
		return fmt.Errorf("create %s watcher: %w", component, err)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Stop()
			monitor.Stop()
			return fmt.Errorf("register %s folder: %w", component, err)
		}
	}
	if err := watcher.Start(); err != nil {
		if errors.Is(err, watch.ErrNoWatchDir) {
			a.logger.Info("watch disabled, no usable folder", logging.String(logging.FieldComponent, component))
			watcher.Stop()
			monitor.Stop()
			return nil
		}
		watcher.Stop()
		monitor.Stop()
		return err
	}
	a.watchers = append(a.watchers, watcher)
	a.monitors = append(a.monitors, monitor)
	return nil
}

// Stop halts watchers, monitors, and the queue, then releases the lock.
// Idempotent; safe to call on a partially started agent.
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	for _, w := range a.watchers {
		w.Stop()
	}
	for _, m := range a.monitors {
		m.Stop()
	}
	a.watchers = nil
	a.monitors = nil
	a.queue.Stop()
	a.releaseLock()
	if a.running.Load() {
		a.running.Store(false)
		a.logger.Info("agent stopped")
	}
}

func (a *Agent) releaseLock() {
	if a.lock == nil {
		return
	}
	if err := a.lock.Unlock(); err != nil {
		a.logger.Warn("failed to release instance lock", logging.Error(err))
	}
}

// Status reports current runtime state.
func (a *Agent) Status() Status {
	return Status{
		Running:      a.running.Load(),
		QueueDepth:   a.queue.Len(),
		LockFilePath: a.lockPath,
		JournalPath:  a.journal.Path(),
	}
}

// ProcessFileImmediately injects one file into the dispatch path without
// going through the watch pipeline. On a running agent the file is enqueued
// behind in-flight work; otherwise the bound plugin executes inline.
func (a *Agent) ProcessFileImmediately(ctx context.Context, path, dataType string) error {
	bindingCfg, ok := a.cfg.BindingByDataType(dataType)
	if !ok {
		return fmt.Errorf("no binding for data type %q", dataType)
	}

	if a.running.Load() {
		a.queue.Enqueue(path, bindingCfg.Plugin)
		return nil
	}

	resolved := a.correlator.EnsureCorrelated(ctx, path)
	desc, err := a.registry.Resolve(bindingCfg.Plugin)
	if err != nil {
		return err
	}
	inst, err := a.loader.Load(desc)
	if err != nil {
		return err
	}
	if err := inst.Execute(ctx, resolved); err != nil {
		a.record(journal.KindFailed, resolved, "plugin="+bindingCfg.Plugin)
		return err
	}
	a.record(journal.KindDispatched, resolved, "plugin="+bindingCfg.Plugin)
	return nil
}

func (a *Agent) handleInboxStable(path string) {
	dest, err := a.router.Route(path)
	switch {
	case err != nil:
		a.logger.Warn("routing failed", logging.Path(path), logging.Error(err))
		a.record(journal.KindFailed, path, err.Error())
	case dest != "":
		a.record(journal.KindRouted, path, "dest="+dest)
	default:
		a.record(journal.KindUnclassified, path, "")
	}
}

func (a *Agent) handleSourceStable(path string) {
	descPath, err := a.correlator.SynthesizeDescriptor(path)
	if err != nil {
		a.logger.Warn("descriptor synthesis failed", logging.Path(path), logging.Error(err))
		a.record(journal.KindFailed, path, err.Error())
		return
	}
	if descPath != "" {
		a.record(journal.KindDescriptor, descPath, "source="+path)
	}
}

func (a *Agent) handleDescriptorStable(path string) {
	renames, err := a.correlator.ApplyDescriptor(path)
	if err != nil {
		a.logger.Warn("descriptor application failed", logging.Path(path), logging.Error(err))
		a.record(journal.KindFailed, path, err.Error())
		return
	}
	for _, rename := range renames {
		if rename.AlreadyMatched {
			continue
		}
		a.record(journal.KindCorrelated, rename.New, "from="+filepath.Base(rename.Old))
	}
}

func (a *Agent) handleBindingStable(b *binding, path string) {
	if b.pattern != nil && !b.pattern.MatchString(filepath.Base(path)) {
		return
	}
	if a.consumeRename(path) {
		a.logger.Debug("rename-produced event, already dispatched under prior name",
			logging.Path(path))
		return
	}
	a.noteDispatched(path)
	a.queue.Enqueue(path, b.cfg.Plugin)
}

func (a *Agent) handleMergeStable(ctx context.Context, path string) {
	output, pages, err := a.trigger.HandleStable(ctx, path)
	if err != nil {
		a.logger.Warn("merge failed", logging.Path(path), logging.Error(err))
		a.record(journal.KindFailed, path, err.Error())
		return
	}
	if output != "" {
		a.record(journal.KindMerged, output, fmt.Sprintf("pages=%d", pages))
	}
}

// recordOutcome journals how one queue item finished.
func (a *Agent) recordOutcome(outcome dispatch.Outcome) {
	detail := "plugin=" + outcome.Item.Plugin
	switch {
	case outcome.Dropped:
		a.record(journal.KindDropped, outcome.Resolved, detail)
	case outcome.Err != nil:
		a.record(journal.KindFailed, outcome.Resolved, detail+" "+outcome.Err.Error())
	default:
		a.record(journal.KindDispatched, outcome.Resolved, detail)
	}
}

// record writes one journal event; failures are logged and dropped.
func (a *Agent) record(kind journal.Kind, path, detail string) {
	if a.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.journal.Record(ctx, kind, path, detail); err != nil {
		a.logger.Warn("journal write failed", logging.Error(err))
	}
}

func (a *Agent) noteDispatched(path string) {
	a.renameMu.Lock()
	defer a.renameMu.Unlock()
	a.dispatched[path] = time.Now()
	a.sweepLocked()
}

func (a *Agent) noteRename(rename baseline.Rename) {
	a.renameMu.Lock()
	defer a.renameMu.Unlock()
	if _, ok := a.dispatched[rename.Old]; ok {
		a.renamed[rename.New] = time.Now()
	}
	a.sweepLocked()
}

func (a *Agent) sweepLocked() {
	now := time.Now()
	window := time.Duration(a.cfg.Baseline.EnsureTimeoutSeconds) * time.Second
	for p, ts := range a.dispatched {
		if now.Sub(ts) >= window {
			delete(a.dispatched, p)
		}
	}
	for p, ts := range a.renamed {
		if now.Sub(ts) >= window {
			delete(a.renamed, p)
		}
	}
}

// consumeRename reports whether path is a rename target the correlator just
// produced, removing the entry so only the first event is suppressed.
func (a *Agent) consumeRename(path string) bool {
	a.renameMu.Lock()
	defer a.renameMu.Unlock()
	if _, ok := a.renamed[path]; ok {
		delete(a.renamed, path)
		return true
	}
	return false
}
