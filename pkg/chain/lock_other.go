//go:build !unix

package chain

import (
	"fmt"
	"os"
)

// FileLock is a held writer lock. Without flock the lock is the existence of
// the lock file itself.
type FileLock struct {
	path string
}

func tryLock(path string) (*FileLock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	file.Close()
	return &FileLock{path: path}, nil
}

// Release drops the lock by removing the lock file
func (l *FileLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
