// Package fileutil provides file operations hardened against transient
// sharing violations from equipment software that is still writing.
//
// Every mutating helper retries with a bounded attempt count and delay;
// Remove additionally clears a read-only mode bit before retrying. Callers
// treat exhausted retries as soft failures (log and skip), never as fatal.
package fileutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// RetryPolicy bounds how often and how long file operations retry.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry matches the agent-wide transient I/O policy.
var DefaultRetry = RetryPolicy{Attempts: 10, Delay: 300 * time.Millisecond}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// retry runs op until it succeeds, the error is permanent, or attempts are
// exhausted. Not-exist errors are permanent: waiting will not conjure the
// file back.
func retry(policy RetryPolicy, op func() error) error {
	policy = policy.normalized()
	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if attempt < policy.Attempts-1 {
			time.Sleep(policy.Delay)
		}
	}
	return err
}

// CopyFile streams src to dst (overwriting), creating dst's directory,
// retrying transient failures per policy.
func CopyFile(src, dst string, policy RetryPolicy) error {
	return retry(policy, func() error {
		return copyOnce(src, dst)
	})
}

func copyOnce(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// ReadFile reads the whole file, retrying transient failures per policy.
func ReadFile(path string, policy RetryPolicy) ([]byte, error) {
	var data []byte
	err := retry(policy, func() error {
		var readErr error
		data, readErr = os.ReadFile(path)
		return readErr
	})
	return data, err
}

// Rename moves oldPath to newPath, retrying transient failures per policy.
func Rename(oldPath, newPath string, policy RetryPolicy) error {
	return retry(policy, func() error {
		return os.Rename(oldPath, newPath)
	})
}

// Remove deletes path, clearing a read-only mode before each retry.
func Remove(path string, policy RetryPolicy) error {
	return retry(policy, func() error {
		err := os.Remove(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if info, statErr := os.Stat(path); statErr == nil && info.Mode().Perm()&0o200 == 0 {
			_ = os.Chmod(path, info.Mode().Perm()|0o200)
		}
		return err
	})
}

// WaitReadable reports whether path could be opened for reading within the
// policy's attempt budget. Exhausting the budget is the caller's soft-fail
// signal, not an error.
func WaitReadable(path string, policy RetryPolicy) bool {
	err := retry(policy, func() error {
		f, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		return f.Close()
	})
	return err == nil
}
