package agent_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"conveyor/internal/agent"
	"conveyor/internal/config"
	"conveyor/internal/journal"
	"conveyor/internal/logging"
	"conveyor/internal/testsupport"
)

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startAgent(t *testing.T, cfg *config.Config) (*agent.Agent, *journal.Store) {
	t.Helper()
	store := testsupport.MustOpenJournal(t, cfg)
	a, err := agent.New(cfg, "", store, logging.NewNop())
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("agent.Start: %v", err)
	}
	t.Cleanup(a.Stop)
	return a, store
}

func TestRoutesInboxFileEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dest := filepath.Join(testsupport.BaseDir(cfg), "routed")
	cfg.Routing.Rules = []config.Rule{{Pattern: `\.csv$`, Destination: dest}}

	_, store := startAgent(t, cfg)

	src := filepath.Join(cfg.Routing.WatchDir, "run42.csv")
	testsupport.WriteFile(t, src, "a,b,c\n")

	routed := filepath.Join(dest, "run42.csv")
	waitFor(t, 10*time.Second, "routed copy", func() bool {
		_, err := os.Stat(routed)
		return err == nil
	})

	// Source retained; routing copies.
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must remain after routing: %v", err)
	}

	waitFor(t, 5*time.Second, "journal entry", func() bool {
		counts, err := store.CountByKind(context.Background())
		return err == nil && counts[journal.KindRouted] == 1
	})
}

func TestDispatchesBoundFileToPlugin(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "invoked.json")
	script := "#!/bin/sh\ncat > " + marker + "\nexit 0\n"
	cfg := testsupport.NewConfig(t, testsupport.WithPluginScript("wafer", "wafer-parser", script))

	startAgent(t, cfg)

	watchDir := cfg.Dispatch.Bindings[0].WatchDir
	testsupport.WriteFile(t, filepath.Join(watchDir, "LOT7_data.csv"), "payload")

	waitFor(t, 10*time.Second, "plugin invocation", func() bool {
		// The stub's shell redirect creates the marker before cat copies
		// stdin into it; wait for the payload, not just the file.
		info, err := os.Stat(marker)
		return err == nil && info.Size() > 0
	})

	payload, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read plugin request: %v", err)
	}
	if !strings.Contains(string(payload), "LOT7_data.csv") {
		t.Fatalf("plugin request missing file path: %s", payload)
	}
	if !strings.Contains(string(payload), `"plugin":"wafer-parser"`) {
		t.Fatalf("plugin request missing identity: %s", payload)
	}
}

func TestSecondInstanceRefusesToStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _ := startAgent(t, cfg)

	second, err := agent.New(cfg, "", nil, logging.NewNop())
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail the lock")
	}

	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("lock must be reacquirable after stop: %v", err)
	}
	second.Stop()
}

func TestProcessFileImmediately(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "invoked.json")
	script := "#!/bin/sh\ncat > " + marker + "\nexit 0\n"
	cfg := testsupport.NewConfig(t, testsupport.WithPluginScript("report", "report-parser", script))

	store := testsupport.MustOpenJournal(t, cfg)
	a, err := agent.New(cfg, "", store, logging.NewNop())
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}

	target := filepath.Join(cfg.Dispatch.Bindings[0].WatchDir, "report.txt")
	testsupport.WriteFile(t, target, "content")

	if err := a.ProcessFileImmediately(context.Background(), target, "report"); err != nil {
		t.Fatalf("ProcessFileImmediately: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatal("plugin was not invoked")
	}

	if err := a.ProcessFileImmediately(context.Background(), target, "unknown"); err == nil {
		t.Fatal("expected error for unbound data type")
	}
}

func TestBindingPatternFiltersFiles(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "invoked.json")
	script := "#!/bin/sh\ncat > " + marker + "\nexit 0\n"
	cfg := testsupport.NewConfig(t, testsupport.WithPluginScript("logs", "log-parser", script))
	cfg.Dispatch.Bindings[0].Pattern = `\.log$`

	startAgent(t, cfg)

	watchDir := cfg.Dispatch.Bindings[0].WatchDir
	testsupport.WriteFile(t, filepath.Join(watchDir, "notes.txt"), "skip me")
	testsupport.WriteFile(t, filepath.Join(watchDir, "run.log"), "take me")

	waitFor(t, 10*time.Second, "plugin invocation", func() bool {
		// The stub's shell redirect creates the marker before cat copies
		// stdin into it; wait for the payload, not just the file.
		info, err := os.Stat(marker)
		return err == nil && info.Size() > 0
	})
	payload, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read plugin request: %v", err)
	}
	if strings.Contains(string(payload), "notes.txt") {
		t.Fatalf("pattern must exclude notes.txt, got %s", payload)
	}
}

func TestCorrelatedRenameFlowsThroughDispatch(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "invoked.json")
	script := "#!/bin/sh\ncat > " + marker + "\nexit 0\n"
	cfg := testsupport.NewConfig(t, testsupport.WithPluginScript("wafer", "wafer-parser", script))
	watchDir := cfg.Dispatch.Bindings[0].WatchDir
	// Correlation renames only reach folders listed as baseline targets.
	cfg.Baseline.TargetDirs = append(cfg.Baseline.TargetDirs, watchDir)

	startAgent(t, cfg)

	placeholderFile := filepath.Join(watchDir, "LOT1_20240115_093000_#1_wafer.csv")
	testsupport.WriteFile(t, placeholderFile, "payload")

	// Descriptor lands while the item waits in the queue.
	descriptor := filepath.Join(cfg.Paths.BaselineDir, "20240115_093000_LOT1_C1W05.info")
	testsupport.WriteFile(t, descriptor, "")

	renamed := filepath.Join(watchDir, "LOT1_20240115_093000_C1W05_wafer.csv")
	waitFor(t, 15*time.Second, "plugin invocation", func() bool {
		// The stub's shell redirect creates the marker before cat copies
		// stdin into it; wait for the payload, not just the file.
		info, err := os.Stat(marker)
		return err == nil && info.Size() > 0
	})
	payload, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read plugin request: %v", err)
	}
	if !strings.Contains(string(payload), filepath.Base(renamed)) {
		t.Fatalf("plugin must receive the correlated name, got %s", payload)
	}
}
