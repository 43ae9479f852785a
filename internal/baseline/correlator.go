// Package baseline reconciles descriptor marker files against target data
// files by correlation key.
//
// A descriptor filename encodes {timestamp, prefix, token}. Applying a
// descriptor scans the configured target folders and renames every file that
// still carries the uncorrelated placeholder and matches the descriptor's
// timestamp and prefix, substituting the token for the placeholder. The
// transition is one-way: replaying a descriptor against an already-matched
// file is success, not an error.
//
// The package also synthesizes descriptors from source files (reading an
// embedded date/time field) and offers EnsureCorrelated, the blocking call
// the dispatch queue uses to obtain a file's final name before plugin
// execution.
package baseline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/fileutil"
	"conveyor/internal/logging"
	"conveyor/internal/services"
)

// Rename records one reconciliation outcome.
type Rename struct {
	Old            string
	New            string
	AlreadyMatched bool
}

// Correlator owns rename reconciliation for one baseline folder.
type Correlator struct {
	baselineDir string
	targetDirs  []string
	excluded    map[string]struct{}
	placeholder string

	pollInterval  time.Duration
	ensureTimeout time.Duration
	retry         fileutil.RetryPolicy
	logger        *slog.Logger
	onRename      func(Rename)
}

// Option configures optional Correlator behavior.
type Option func(*Correlator)

// WithRenameObserver registers a callback invoked after every rename the
// correlator performs, from descriptor application and from EnsureCorrelated
// polling alike. The agent uses it to recognize rename-produced filesystem
// events as its own.
func WithRenameObserver(fn func(Rename)) Option {
	return func(c *Correlator) {
		c.onRename = fn
	}
}

// NewCorrelator builds a correlator from the baseline configuration.
func NewCorrelator(cfg *config.Config, logger *slog.Logger, opts ...Option) *Correlator {
	excluded := make(map[string]struct{}, len(cfg.Baseline.ExcludeDirs))
	for _, dir := range cfg.Baseline.ExcludeDirs {
		if dir != "" {
			excluded[filepath.Clean(dir)] = struct{}{}
		}
	}
	c := &Correlator{
		baselineDir:   cfg.Paths.BaselineDir,
		targetDirs:    append([]string(nil), cfg.Baseline.TargetDirs...),
		excluded:      excluded,
		placeholder:   cfg.Baseline.Placeholder,
		pollInterval:  time.Duration(cfg.Baseline.PollIntervalMS) * time.Millisecond,
		ensureTimeout: time.Duration(cfg.Baseline.EnsureTimeoutSeconds) * time.Second,
		retry:         fileutil.DefaultRetry,
		logger:        logging.NewComponentLogger(logger, "baseline"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ApplyDescriptor reconciles all target folders against the descriptor at
// descPath. Non-conforming descriptor names are ignored (nil, nil).
func (c *Correlator) ApplyDescriptor(descPath string) ([]Rename, error) {
	desc, ok := ParseDescriptorName(descPath)
	if !ok {
		c.logger.Debug("ignoring non-conforming descriptor name", logging.Path(descPath))
		return nil, nil
	}
	return c.apply(desc)
}

func (c *Correlator) apply(desc Descriptor) ([]Rename, error) {
	var results []Rename
	for _, dir := range c.targetDirs {
		if dir == "" {
			continue
		}
		if _, skip := c.excluded[filepath.Clean(dir)]; skip {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			c.logger.Warn("target folder unreadable, skipping", logging.Path(dir), logging.Error(err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			result, ok := c.applyToFile(dir, entry.Name(), desc)
			if ok {
				results = append(results, result)
			}
		}
	}
	return results, nil
}

// applyToFile performs the one-way placeholder substitution for a single
// candidate. The match rule is deliberately literal: the filename must
// contain the placeholder, the descriptor's full timestamp token, and its
// prefix.
func (c *Correlator) applyToFile(dir, name string, desc Descriptor) (Rename, bool) {
	if !strings.Contains(name, c.placeholder) {
		return Rename{}, false
	}
	if !strings.Contains(name, desc.Timestamp) || !strings.Contains(name, desc.Prefix) {
		return Rename{}, false
	}

	oldPath := filepath.Join(dir, name)
	newName := strings.Replace(name, c.placeholder, desc.Token, 1)
	newPath := filepath.Join(dir, newName)

	if _, err := os.Stat(newPath); err == nil {
		// Already matched by an earlier replay; success, no mutation.
		c.logger.Debug("target already correlated", logging.Path(newPath))
		return Rename{Old: oldPath, New: newPath, AlreadyMatched: true}, true
	}

	if err := fileutil.Rename(oldPath, newPath, c.retry); err != nil {
		c.logger.Warn("rename failed, will retry on next descriptor event",
			logging.Path(oldPath), logging.Error(err))
		return Rename{}, false
	}
	c.logger.Info("target correlated",
		logging.Path(newPath),
		logging.String("token", desc.Token))
	result := Rename{Old: oldPath, New: newPath}
	if c.onRename != nil {
		c.onRename(result)
	}
	return result, true
}

// SynthesizeDescriptor reads a stable source file for an embedded date/time
// field and creates the matching empty descriptor in the baseline folder.
// A source without the field produces no descriptor and no error.
func (c *Correlator) SynthesizeDescriptor(srcPath string) (string, error) {
	content, err := fileutil.ReadFile(srcPath, c.retry)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "baseline", "read source", srcPath, err)
	}
	timestamp, ok := extractTimestamp(content)
	if !ok {
		c.logger.Info("no embedded timestamp, descriptor not produced", logging.Path(srcPath))
		return "", nil
	}

	base := filepath.Base(srcPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	descPath := filepath.Join(c.baselineDir, timestamp+"_"+stem+DescriptorExt)

	if err := os.MkdirAll(c.baselineDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "baseline", "ensure baseline folder", c.baselineDir, err)
	}
	if err := os.WriteFile(descPath, nil, 0o644); err != nil {
		return "", services.Wrap(services.ErrTransient, "baseline", "write descriptor", descPath, err)
	}
	c.logger.Info("descriptor synthesized", logging.Path(descPath))
	return descPath, nil
}

// EnsureCorrelated blocks until path has its final, correlated name or the
// configured timeout elapses. On timeout the original path is returned
// unchanged; correlation misses are soft failures by contract.
func (c *Correlator) EnsureCorrelated(ctx context.Context, path string) string {
	base := filepath.Base(path)
	if !strings.Contains(base, c.placeholder) {
		return path
	}
	lead := leadToken(base)

	deadline := time.Now().Add(c.ensureTimeout)
	for {
		if resolved, ok := c.tryResolve(path, lead); ok {
			return resolved
		}
		if time.Now().After(deadline) {
			c.logger.Warn("no descriptor within timeout, using original name",
				logging.Path(path),
				logging.Duration("timeout", c.ensureTimeout))
			return path
		}
		select {
		case <-ctx.Done():
			return path
		case <-time.After(c.pollInterval):
		}
	}
}

// tryResolve applies every descriptor for the lead token and reports where
// the file ended up.
func (c *Correlator) tryResolve(path, lead string) (string, bool) {
	entries, err := os.ReadDir(c.baselineDir)
	if err != nil {
		return "", false
	}
	base := filepath.Base(path)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		desc, ok := ParseDescriptorName(entry.Name())
		if !ok || !desc.matchesLead(lead) {
			continue
		}
		if !strings.Contains(base, desc.Timestamp) || !strings.Contains(base, desc.Prefix) {
			continue
		}
		if _, err := c.apply(desc); err != nil {
			continue
		}
		newBase := strings.Replace(base, c.placeholder, desc.Token, 1)
		newPath := filepath.Join(filepath.Dir(path), newBase)
		if _, err := os.Stat(newPath); err == nil {
			return newPath, true
		}
	}
	return "", false
}
