// Package routing classifies settled files against an ordered rule list and
// copies them to the first matching destination.
//
// Rules are compiled once per run and never mutated. Routing copies rather
// than moves so the equipment folder keeps its original, and a short
// de-duplication window absorbs the duplicate notifications one physical
// write tends to raise.
package routing

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/fileutil"
	"conveyor/internal/logging"
	"conveyor/internal/services"
)

// Rule pairs a compiled pattern with its destination folder.
type Rule struct {
	Pattern     *regexp.Regexp
	Destination string
}

// CompileRules builds the ordered rule list from configuration.
func CompileRules(rules []config.Rule) ([]Rule, error) {
	compiled := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "router", "compile rule", rule.Pattern, err)
		}
		compiled = append(compiled, Rule{Pattern: re, Destination: rule.Destination})
	}
	return compiled, nil
}

// Router copies classified files into rule destinations.
type Router struct {
	rules       []Rule
	logger      *slog.Logger
	dedupWindow time.Duration
	readRetry   fileutil.RetryPolicy
	now         func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time
}

// Option configures optional Router behavior.
type Option func(*Router)

// WithClock overrides the monotonic time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReadRetry overrides the wait-readable policy.
func WithReadRetry(policy fileutil.RetryPolicy) Option {
	return func(r *Router) {
		r.readRetry = policy
	}
}

// NewRouter constructs a router over the ordered rules. First match wins.
func NewRouter(rules []Rule, dedupWindow time.Duration, logger *slog.Logger, opts ...Option) *Router {
	if dedupWindow <= 0 {
		dedupWindow = 2 * time.Second
	}
	r := &Router{
		rules:       rules,
		logger:      logging.NewComponentLogger(logger, "router"),
		dedupWindow: dedupWindow,
		readRetry:   fileutil.DefaultRetry,
		now:         time.Now,
		recent:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route classifies path and copies it to the first matching destination.
// The returned destination is empty when the file was deduplicated,
// unclassified, or skipped after exhausting read retries; none of those are
// errors. A copy failure after retries is returned as a transient error the
// caller logs and skips.
func (r *Router) Route(path string) (string, error) {
	if !r.admit(path) {
		r.logger.Debug("duplicate notification suppressed", logging.Path(path))
		return "", nil
	}

	name := filepath.Base(path)
	var matched *Rule
	for i := range r.rules {
		if r.rules[i].Pattern.MatchString(name) {
			matched = &r.rules[i]
			break
		}
	}
	if matched == nil {
		r.logger.Info("file unclassified, no rule matched", logging.Path(path))
		return "", nil
	}

	if !fileutil.WaitReadable(path, r.readRetry) {
		r.logger.Warn("file never became readable, skipping",
			logging.Path(path),
			logging.Int("attempts", r.readRetry.Attempts))
		return "", nil
	}

	dest := filepath.Join(matched.Destination, name)
	if err := fileutil.CopyFile(path, dest, r.readRetry); err != nil {
		return "", services.Wrap(services.ErrTransient, "router", "copy", dest, err)
	}
	r.logger.Info("file classified",
		logging.Path(path),
		logging.String("destination", dest),
		logging.String("pattern", matched.Pattern.String()))
	return dest, nil
}

// admit records path in the dedup window and reports whether this
// notification should proceed. Comparison uses the injected clock so tests
// can drive the window deterministically.
func (r *Router) admit(path string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.recent[path]; ok && now.Sub(last) < r.dedupWindow {
		return false
	}
	r.recent[path] = now

	// Sweep expired entries so the map tracks only the active window.
	for p, ts := range r.recent {
		if now.Sub(ts) >= r.dedupWindow {
			delete(r.recent, p)
		}
	}
	return true
}
