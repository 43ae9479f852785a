package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"conveyor/internal/agent"
	"conveyor/internal/config"
	"conveyor/internal/journal"
	"conveyor/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, cfgPath, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		OutputPaths: []string{
			"stdout",
			filepath.Join(cfg.Paths.LogDir, "conveyor.log"),
		},
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := journal.Open(cfg)
	if err != nil {
		logger.Error("open journal", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	a, err := agent.New(cfg, cfgPath, store, logger)
	if err != nil {
		logger.Error("create agent", logging.Error(err))
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		logger.Error("start agent", logging.Error(err))
		os.Exit(1)
	}
	defer a.Stop()

	<-ctx.Done()
	logger.Info("conveyord shutting down")
}
