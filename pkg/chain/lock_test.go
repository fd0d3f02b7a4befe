package chain

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireLock(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "chain.dat")

	lock, err := AcquireLock(dataPath, 0)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	start := time.Now()
	if _, err := AcquireLock(dataPath, 30*time.Millisecond); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Errorf("timed acquire returned before its timeout")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	again, err := AcquireLock(dataPath, 0)
	if err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}
	again.Release()

	var none *FileLock
	if err := none.Release(); err != nil {
		t.Errorf("releasing a nil lock should be a no-op, got %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	testCases := map[error]string{
		nil:               "",
		ErrLocked:         "locked",
		ErrNotFound:       "not_found",
		ErrTruncatedBlock: "truncated_block",
		ErrInvalidInput:   "invalid_input",
		errors.New("disk"): "io",
	}
	for err, want := range testCases {
		if got := ErrorKind(err); got != want {
			t.Errorf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}

	wrapped := errors.Join(ErrCorruptChain, ErrMissingIndexFile)
	if got := ErrorKind(wrapped); got != "missing_index" {
		t.Errorf("expected the more specific kind, got %q", got)
	}
}

func TestErrorForKind(t *testing.T) {
	for kind, sentinel := range errorsByKind {
		if got := ErrorKind(sentinel); got != kind {
			t.Errorf("ErrorKind(%v) = %q, want %q", sentinel, got, kind)
		}
		if ErrorForKind(kind) != sentinel {
			t.Errorf("ErrorForKind(%q) did not return its sentinel", kind)
		}
	}

	if ErrorForKind("io") != nil || ErrorForKind("bogus") != nil {
		t.Error("expected nil for kinds without a sentinel")
	}
}
