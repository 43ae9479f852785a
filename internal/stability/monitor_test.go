package stability_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/stability"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestStableFiresExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.csv")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := &recorder{}
	m := stability.NewMonitor(50*time.Millisecond, rec.add, logging.NewNop())
	defer m.Stop()

	m.Record(path)
	m.Record(path) // duplicate notification, same entry

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 })

	// No further events once settled and forgotten.
	time.Sleep(200 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 || got[0] != path {
		t.Fatalf("expected exactly one stable event for %s, got %v", path, got)
	}
	if m.Tracked() != 0 {
		t.Fatalf("expected empty tracked set, got %d", m.Tracked())
	}
}

func TestGrowingFileIsNotStableUntilQuiet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grow.dat")
	if err := os.WriteFile(path, []byte("1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := &recorder{}
	m := stability.NewMonitor(80*time.Millisecond, rec.add, logging.NewNop())
	defer m.Stop()

	m.Record(path)
	// Keep appending past two scan intervals.
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatalf("open append: %v", err)
		}
		if _, err := f.Write([]byte("x")); err != nil {
			t.Fatalf("append: %v", err)
		}
		f.Close()
		m.Record(path)
	}
	if len(rec.snapshot()) != 0 {
		t.Fatal("file settled while still being written")
	}

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 })
}

func TestVanishedFileIsDropped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.tmp")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := &recorder{}
	m := stability.NewMonitor(50*time.Millisecond, rec.add, logging.NewNop())
	defer m.Stop()

	m.Record(path)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return m.Tracked() == 0 })
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("vanished file must not stabilize, got %v", got)
	}
}

func TestScanSuspendsWhenIdleAndResumes(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.csv")
	second := filepath.Join(dir, "second.csv")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	rec := &recorder{}
	m := stability.NewMonitor(40*time.Millisecond, rec.add, logging.NewNop())
	defer m.Stop()

	m.Record(first)
	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 })

	// The scan loop has parked; a fresh Record must revive it.
	m.Record(second)
	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 2 })
}

func TestStopIsIdempotent(t *testing.T) {
	m := stability.NewMonitor(50*time.Millisecond, nil, logging.NewNop())
	m.Stop()
	m.Stop()
	m.Record("/tmp/ignored-after-stop")
	if m.Tracked() != 0 {
		t.Fatal("stopped monitor must ignore Record")
	}
}
