package merge

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"conveyor/internal/services"
)

var commandContext = exec.CommandContext

// Merger assembles ordered page images into one output document.
type Merger interface {
	Merge(ctx context.Context, orderedPages []string, outputPath string) error
}

// Option configures the CLI merger.
type Option func(*CLI)

// WithBinary overrides the default merger binary.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI wraps an external page-merge tool (img2pdf-compatible argument
// shape: pages in order, then -o output).
type CLI struct {
	binary string
}

// NewCLI constructs a CLI merger using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "img2pdf"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Merge invokes the merge tool with pages in the given order.
func (c *CLI) Merge(ctx context.Context, orderedPages []string, outputPath string) error {
	if len(orderedPages) == 0 {
		return errors.New("no pages to merge")
	}
	if outputPath == "" {
		return errors.New("output path required")
	}

	args := append(append([]string{}, orderedPages...), "-o", outputPath)
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "merge", "run "+c.binary,
			string(bytes.TrimSpace(output)), err)
	}
	return nil
}
