package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains shared directory configuration.
type Paths struct {
	LogDir      string `toml:"log_dir"`
	BaselineDir string `toml:"baseline_dir"`
}

// Stability contains quiet-period settings for the stability monitors.
type Stability struct {
	QuietPeriodSeconds int `toml:"quiet_period_seconds"`
}

// Rule is one ordered classification rule: first pattern match wins.
type Rule struct {
	Pattern     string `toml:"pattern"`
	Destination string `toml:"destination"`
}

// Routing contains configuration for the regex router.
type Routing struct {
	WatchDir           string `toml:"watch_dir"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
	ReadAttempts       int    `toml:"read_attempts"`
	ReadRetryDelayMS   int    `toml:"read_retry_delay_ms"`
	Rules              []Rule `toml:"rules"`
}

// Baseline contains configuration for rename reconciliation.
type Baseline struct {
	SourceDir            string   `toml:"source_dir"`
	TargetDirs           []string `toml:"target_dirs"`
	ExcludeDirs          []string `toml:"exclude_dirs"`
	Placeholder          string   `toml:"placeholder"`
	EnsureTimeoutSeconds int      `toml:"ensure_timeout_seconds"`
	PollIntervalMS       int      `toml:"poll_interval_ms"`
}

// Binding maps a watched data-type folder to the plugin that processes it.
type Binding struct {
	DataType string `toml:"data_type"`
	WatchDir string `toml:"watch_dir"`
	Plugin   string `toml:"plugin"`
	Pattern  string `toml:"pattern"`
}

// Dispatch contains configuration for the plugin execution queue.
type Dispatch struct {
	IdleSleepMS int       `toml:"idle_sleep_ms"`
	Bindings    []Binding `toml:"bindings"`
}

// Plugin identifies one processing unit by name and backing artifact.
type Plugin struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Location string `toml:"location"`
}

// Merge contains configuration for the page merge trigger.
type Merge struct {
	WatchDir           string `toml:"watch_dir"`
	OutputDir          string `toml:"output_dir"`
	QuietPeriodSeconds int    `toml:"quiet_period_seconds"`
	MergerBinary       string `toml:"merger_binary"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Conveyor.
//
// Configuration sections by subsystem:
//   - Paths: log and baseline descriptor directories
//   - Stability: quiet period for the file stability monitors
//   - Routing: watched folder, ordered regex rules, retry/dedup tuning
//   - Baseline: descriptor source, target folders, placeholder marker
//   - Dispatch: queue tuning and per-data-type folder/plugin bindings
//   - Plugins: name -> {version, location} registry
//   - Merge: page merge folder, output folder, merger binary
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Stability Stability `toml:"stability"`
	Routing   Routing   `toml:"routing"`
	Baseline  Baseline  `toml:"baseline"`
	Dispatch  Dispatch  `toml:"dispatch"`
	Plugins   []Plugin  `toml:"plugins"`
	Merge     Merge     `toml:"merge"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/conveyor/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return is
// the resolved path, the third reports whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("conveyor.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the agent owns. Watched
// equipment folders are deliberately excluded: a missing watch folder
// disables that watch instead of being created behind the operator's back.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir}
	if strings.TrimSpace(c.Paths.BaselineDir) != "" {
		dirs = append(dirs, c.Paths.BaselineDir)
	}
	if strings.TrimSpace(c.Merge.OutputDir) != "" {
		dirs = append(dirs, c.Merge.OutputDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PluginByName returns the registry entry for the exact name, if present.
func (c *Config) PluginByName(name string) (Plugin, bool) {
	for _, p := range c.Plugins {
		if p.Name == name {
			return p, true
		}
	}
	return Plugin{}, false
}

// BindingByDataType returns the binding for the exact data-type key, if
// present.
func (c *Config) BindingByDataType(key string) (Binding, bool) {
	for _, b := range c.Dispatch.Bindings {
		if b.DataType == key {
			return b, true
		}
	}
	return Binding{}, false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
