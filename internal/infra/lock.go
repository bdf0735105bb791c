package infra

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrWorkspaceBusy is returned when another process already owns the workspace.
var ErrWorkspaceBusy = errors.New("workspace is locked by another process")

const lockFileName = ".bgremover.lock"

// WorkspaceLock guards a work directory so only one server stages files in it.
type WorkspaceLock struct {
	path string
	lock *flock.Flock
}

// AcquireWorkspaceLock takes a non-blocking exclusive lock on dir.
func AcquireWorkspaceLock(dir string) (*WorkspaceLock, error) {
	path := filepath.Join(dir, lockFileName)
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !ok {
		return nil, ErrWorkspaceBusy
	}
	return &WorkspaceLock{path: path, lock: l}, nil
}

// Path returns the lock file location.
func (w *WorkspaceLock) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Release unlocks the workspace.
func (w *WorkspaceLock) Release() error {
	if w == nil || w.lock == nil {
		return nil
	}
	return w.lock.Unlock()
}
