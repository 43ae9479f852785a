package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"conveyor/internal/fileutil"
)

var fastRetry = fileutil.RetryPolicy{Attempts: 3, Delay: 10 * time.Millisecond}

func TestCopyFileOverwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "nested", "dst.txt")

	if err := os.WriteFile(src, []byte("first"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := fileutil.CopyFile(src, dst, fastRetry); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	if err := os.WriteFile(src, []byte("second"), 0o644); err != nil {
		t.Fatalf("rewrite src: %v", err)
	}
	if err := fileutil.CopyFile(src, dst, fastRetry); err != nil {
		t.Fatalf("CopyFile overwrite: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("expected overwrite, got %q", got)
	}
}

func TestCopyFileMissingSourceFailsFast(t *testing.T) {
	dir := t.TempDir()
	start := time.Now()
	err := fileutil.CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"), fileutil.RetryPolicy{Attempts: 5, Delay: 200 * time.Millisecond})
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("not-exist should not burn the retry budget, took %v", elapsed)
	}
}

func TestRemoveClearsReadOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locked.dat")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Chmod(path, 0o444); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	if err := fileutil.Remove(path, fastRetry); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file gone, stat err=%v", err)
	}
}

func TestRemoveMissingIsNoError(t *testing.T) {
	if err := fileutil.Remove(filepath.Join(t.TempDir(), "ghost"), fastRetry); err != nil {
		t.Fatalf("Remove on missing file: %v", err)
	}
}

func TestWaitReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("ok"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !fileutil.WaitReadable(path, fastRetry) {
		t.Fatal("expected readable file to report true")
	}
	if fileutil.WaitReadable(filepath.Join(dir, "missing"), fastRetry) {
		t.Fatal("expected missing file to report false")
	}
}
