// Package logging assembles the structured slog loggers used across the
// agent.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and provides attribute helpers so components emit log lines with
// a consistent shape (component, event_type, error). A no-op logger is
// available for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// logs with the same format and routing.
package logging
