package journal_test

import (
	"context"
	"path/filepath"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/journal"
)

func newStore(t *testing.T) *journal.Store {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	store, err := journal.Open(&cfg)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, journal.KindRouted, "/in/a.csv", "dest=/out"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(ctx, journal.KindDispatched, "/in/b.csv", "plugin=parser"); err != nil {
		t.Fatalf("record: %v", err)
	}

	events, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, event := range events {
		if event.ID == "" || event.CreatedAt.IsZero() {
			t.Fatalf("event missing id or timestamp: %+v", event)
		}
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Record(ctx, journal.KindMerged, "/scans/doc.pdf", ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	events, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestCountByKind(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Record(ctx, journal.KindRouted, "/in/f.csv", ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := store.Record(ctx, journal.KindDropped, "/in/g.csv", "no plugin"); err != nil {
		t.Fatalf("record: %v", err)
	}

	counts, err := store.CountByKind(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[journal.KindRouted] != 3 {
		t.Fatalf("expected 3 routed, got %d", counts[journal.KindRouted])
	}
	if counts[journal.KindDropped] != 1 {
		t.Fatalf("expected 1 dropped, got %d", counts[journal.KindDropped])
	}
}

func TestReopenKeepsEvents(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	store, err := journal.Open(&cfg)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := store.Record(context.Background(), journal.KindCorrelated, "/base/x.info", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if store.Path() != filepath.Join(cfg.Paths.LogDir, "journal.db") {
		t.Fatalf("unexpected db path %q", store.Path())
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := journal.Open(&cfg)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after reopen, got %d", len(events))
	}
}
