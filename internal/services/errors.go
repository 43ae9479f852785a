package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks sharing violations and other I/O failures that a
	// bounded retry may clear.
	ErrTransient = errors.New("transient failure")
	// ErrConfiguration marks missing or unusable configuration; the affected
	// watch simply does not start.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks identity lookup misses (plugin names, plugin
	// artifacts, bindings).
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks bounded waits that expired.
	ErrTimeout = errors.New("timeout")
	// ErrExternalTool marks failures reported by a launched subprocess.
	ErrExternalTool = errors.New("external tool error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
