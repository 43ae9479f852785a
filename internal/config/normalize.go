package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStability()
	if err := c.normalizeRouting(); err != nil {
		return err
	}
	if err := c.normalizeBaseline(); err != nil {
		return err
	}
	if err := c.normalizeDispatch(); err != nil {
		return err
	}
	if err := c.normalizeMerge(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.BaselineDir) == "" {
		c.Paths.BaselineDir = defaultBaselineDir
	}
	if c.Paths.BaselineDir, err = expandPath(c.Paths.BaselineDir); err != nil {
		return fmt.Errorf("paths.baseline_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStability() {
	if c.Stability.QuietPeriodSeconds <= 0 {
		c.Stability.QuietPeriodSeconds = defaultQuietPeriodSeconds
	}
}

func (c *Config) normalizeRouting() error {
	var err error
	if c.Routing.WatchDir, err = expandOptional(c.Routing.WatchDir); err != nil {
		return fmt.Errorf("routing.watch_dir: %w", err)
	}
	if c.Routing.DedupWindowSeconds <= 0 {
		c.Routing.DedupWindowSeconds = defaultDedupWindowSeconds
	}
	if c.Routing.ReadAttempts <= 0 {
		c.Routing.ReadAttempts = defaultReadAttempts
	}
	if c.Routing.ReadRetryDelayMS <= 0 {
		c.Routing.ReadRetryDelayMS = defaultReadRetryDelayMS
	}
	for i := range c.Routing.Rules {
		if c.Routing.Rules[i].Destination, err = expandOptional(c.Routing.Rules[i].Destination); err != nil {
			return fmt.Errorf("routing.rules[%d].destination: %w", i, err)
		}
	}
	return nil
}

func (c *Config) normalizeBaseline() error {
	var err error
	if c.Baseline.SourceDir, err = expandOptional(c.Baseline.SourceDir); err != nil {
		return fmt.Errorf("baseline.source_dir: %w", err)
	}
	for i := range c.Baseline.TargetDirs {
		if c.Baseline.TargetDirs[i], err = expandOptional(c.Baseline.TargetDirs[i]); err != nil {
			return fmt.Errorf("baseline.target_dirs[%d]: %w", i, err)
		}
	}
	for i := range c.Baseline.ExcludeDirs {
		if c.Baseline.ExcludeDirs[i], err = expandOptional(c.Baseline.ExcludeDirs[i]); err != nil {
			return fmt.Errorf("baseline.exclude_dirs[%d]: %w", i, err)
		}
	}
	if strings.TrimSpace(c.Baseline.Placeholder) == "" {
		c.Baseline.Placeholder = defaultPlaceholder
	}
	if c.Baseline.EnsureTimeoutSeconds <= 0 {
		c.Baseline.EnsureTimeoutSeconds = defaultEnsureTimeoutSeconds
	}
	if c.Baseline.PollIntervalMS <= 0 {
		c.Baseline.PollIntervalMS = defaultPollIntervalMS
	}
	return nil
}

func (c *Config) normalizeDispatch() error {
	var err error
	if c.Dispatch.IdleSleepMS <= 0 {
		c.Dispatch.IdleSleepMS = defaultIdleSleepMS
	}
	for i := range c.Dispatch.Bindings {
		if c.Dispatch.Bindings[i].WatchDir, err = expandOptional(c.Dispatch.Bindings[i].WatchDir); err != nil {
			return fmt.Errorf("dispatch.bindings[%d].watch_dir: %w", i, err)
		}
	}
	for i := range c.Plugins {
		if c.Plugins[i].Location, err = expandOptional(c.Plugins[i].Location); err != nil {
			return fmt.Errorf("plugins[%d].location: %w", i, err)
		}
	}
	return nil
}

func (c *Config) normalizeMerge() error {
	var err error
	if c.Merge.WatchDir, err = expandOptional(c.Merge.WatchDir); err != nil {
		return fmt.Errorf("merge.watch_dir: %w", err)
	}
	if c.Merge.OutputDir, err = expandOptional(c.Merge.OutputDir); err != nil {
		return fmt.Errorf("merge.output_dir: %w", err)
	}
	if c.Merge.QuietPeriodSeconds <= 0 {
		c.Merge.QuietPeriodSeconds = defaultMergeQuietSeconds
	}
	if strings.TrimSpace(c.Merge.MergerBinary) == "" {
		c.Merge.MergerBinary = defaultMergerBinary
	}
	return nil
}

func (c *Config) normalizeLogging() {
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaultLogFormat
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// expandOptional expands a path when set and passes empty values through.
// Empty watch folders mean "this watch does not start".
func expandOptional(pathValue string) (string, error) {
	if strings.TrimSpace(pathValue) == "" {
		return "", nil
	}
	return expandPath(pathValue)
}
