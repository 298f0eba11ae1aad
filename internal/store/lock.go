package store

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// DirLock is a cross-process exclusive lock on a storage directory, so two
// woochi processes never write the same catalog.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock for dir. The lock file is <dir>/.woochi.lock.
func NewDirLock(dir string) *DirLock {
	path := filepath.Join(dir, ".woochi.lock")
	return &DirLock{path: path, flock: flock.New(path)}
}

// TryLock acquires the lock without blocking. It fails with a StorageLocked
// error if another process holds it.
func (l *DirLock) TryLock() error {
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", l.path, err)
	}
	if !acquired {
		return woerrors.New(woerrors.ErrCodeStorageLocked,
			fmt.Sprintf("storage directory is locked by another process (%s)", l.path), nil).
			WithSuggestion("stop the other woochi process or use a different storage.path")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call on an unlocked DirLock.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}
