package infra

import (
	"errors"
	"testing"
)

func TestWorkspaceLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireWorkspaceLock(dir)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := AcquireWorkspaceLock(dir); !errors.Is(err, ErrWorkspaceBusy) {
		t.Fatalf("second lock error = %v, want ErrWorkspaceBusy", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := AcquireWorkspaceLock(dir)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	_ = again.Release()
}
