package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"conveyor/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields, creates the watched directories so watchers
// attach immediately, and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.BaselineDir = filepath.Join(base, "baseline")
	cfgVal.Routing.WatchDir = filepath.Join(base, "inbox")
	cfgVal.Baseline.SourceDir = filepath.Join(base, "rawdata")
	cfgVal.Baseline.TargetDirs = []string{filepath.Join(base, "classified")}
	cfgVal.Merge.WatchDir = filepath.Join(base, "scans")
	cfgVal.Merge.OutputDir = filepath.Join(base, "scans")

	// Tight intervals keep polling-based tests fast.
	cfgVal.Stability.QuietPeriodSeconds = 1
	cfgVal.Merge.QuietPeriodSeconds = 1
	cfgVal.Baseline.EnsureTimeoutSeconds = 1
	cfgVal.Baseline.PollIntervalMS = 20
	cfgVal.Dispatch.IdleSleepMS = 10

	for _, dir := range []string{
		cfgVal.Paths.LogDir,
		cfgVal.Paths.BaselineDir,
		cfgVal.Routing.WatchDir,
		cfgVal.Baseline.SourceDir,
		cfgVal.Baseline.TargetDirs[0],
		cfgVal.Merge.WatchDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRules replaces the routing rules on the test config.
func WithRules(rules ...config.Rule) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Routing.Rules = rules
	}
}

// WithPlugin registers a plugin backed by a stub executable that exits
// successfully, plus a dispatch binding for it. The binding watch directory
// is created under the config's base directory.
func WithPlugin(dataType, name string) ConfigOption {
	return WithPluginScript(dataType, name, "#!/bin/sh\nexit 0\n")
}

// WithPluginScript is WithPlugin with a caller-supplied stub script body.
func WithPluginScript(dataType, name, script string) ConfigOption {
	return func(b *configBuilder) {
		watchDir := filepath.Join(b.baseDir, dataType)
		if err := os.MkdirAll(watchDir, 0o755); err != nil {
			b.t.Fatalf("mkdir %s: %v", watchDir, err)
		}
		location := StubBinary(b.t, b.baseDir, name, script)
		b.cfg.Plugins = append(b.cfg.Plugins, config.Plugin{
			Name:     name,
			Version:  "1.0",
			Location: location,
		})
		b.cfg.Dispatch.Bindings = append(b.cfg.Dispatch.Bindings, config.Binding{
			DataType: dataType,
			WatchDir: watchDir,
			Plugin:   name,
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
