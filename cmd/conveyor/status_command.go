package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"conveyor/internal/journal"
)

const (
	ansiReset = "\x1b[0m"
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show agent status and journal totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(cmd.OutOrStdout())

			lockPath := filepath.Join(cfg.Paths.LogDir, "conveyord.lock")
			running := agentHoldsLock(lockPath)
			state := "stopped"
			color := ansiRed
			if running {
				state = "running"
				color = ansiGreen
			}
			if colorize {
				state = color + state + ansiReset
			}
			fmt.Fprintf(out, "Agent:       %s\n", state)
			fmt.Fprintf(out, "Config path: %s\n", ctx.cfgPath)
			fmt.Fprintf(out, "Lock file:   %s\n", lockPath)

			store, err := journal.Open(cfg)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			counts, err := store.CountByKind(context.Background())
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}
			if len(counts) == 0 {
				fmt.Fprintln(out, "Journal:     empty")
				return nil
			}

			kinds := make([]string, 0, len(counts))
			for kind := range counts {
				kinds = append(kinds, string(kind))
			}
			sort.Strings(kinds)

			rows := make([][]string, 0, len(kinds))
			for _, kind := range kinds {
				rows = append(rows, []string{kind, fmt.Sprintf("%d", counts[journal.Kind(kind)])})
			}
			fmt.Fprintln(out, renderTable([]string{"EVENT", "COUNT"}, rows, 2))
			return nil
		},
	}
}

// agentHoldsLock probes the daemon lock without stealing it: a successful
// try-lock means no agent held it, so it is released immediately.
func agentHoldsLock(lockPath string) bool {
	if _, err := os.Stat(lockPath); err != nil {
		return false
	}
	probe := flock.New(lockPath)
	ok, err := probe.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = probe.Unlock()
		return false
	}
	return true
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
