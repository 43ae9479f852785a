// Package config loads, normalizes, and validates Conveyor's TOML
// configuration.
//
// Load resolves the config path (explicit flag, then the user config dir,
// then a project-local conveyor.toml), applies defaults for unset values,
// expands ~ in every path field, and validates regex patterns and registry
// uniqueness up front so the daemon fails fast on malformed input.
//
// Watched equipment folders are optional by design: an empty watch_dir means
// that watch never starts, which is the configured-off state rather than an
// error.
package config
