//go:build unix

package chain

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock is a held writer lock
type FileLock struct {
	file *os.File
}

func tryLock(path string) (*FileLock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return &FileLock{file: file}, nil
}

// Release drops the lock. The lock file is left in place so that a waiting
// writer never locks an unlinked file.
func (l *FileLock) Release() error {
	if l == nil {
		return nil
	}
	defer l.file.Close()
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	return nil
}
