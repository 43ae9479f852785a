package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"conveyor/internal/agent"
	"conveyor/internal/config"
	"conveyor/internal/journal"
	"conveyor/internal/logging"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var dataType string

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Run the bound plugin for one file immediately",
		Long: "Resolves the file's final correlated name, then executes the plugin " +
			"bound to the given data type inline, bypassing the watch pipeline.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("inspect file: %w", err)
			}

			logger, err := logging.NewAt(cfg.Logging.Level, cfg.Logging.Format, "stderr")
			if err != nil {
				return err
			}

			store, err := journal.Open(cfg)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			a, err := agent.New(cfg, ctx.cfgPath, store, logger)
			if err != nil {
				return err
			}
			if err := a.ProcessFileImmediately(cmd.Context(), path, dataType); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %s as %s\n", path, dataType)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataType, "type", "t", "", "Data type key of the dispatch binding")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
