package chain

import (
	"fmt"
	"time"
)

// LockSuffix is appended to a data path to name its writer lock file
const LockSuffix = ".lock"

// lockRetryInterval is how often a waiting writer retries a held lock
const lockRetryInterval = 10 * time.Millisecond

// LockPath returns the lock file path guarding dataPath
func LockPath(dataPath string) string {
	return dataPath + LockSuffix
}

// AcquireLock takes the exclusive writer lock for dataPath. With a zero
// timeout it fails with ErrLocked at once if another writer holds the lock;
// otherwise it retries until the timeout expires.
func AcquireLock(dataPath string, timeout time.Duration) (*FileLock, error) {
	path := LockPath(dataPath)
	deadline := time.Now().Add(timeout)

	for {
		lock, err := tryLock(path)
		if err == nil {
			return lock, nil
		}
		if err != ErrLocked {
			return nil, err
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		time.Sleep(lockRetryInterval)
	}
}

func (c *Chain) lock() (*FileLock, error) {
	if !c.opts.locking {
		return nil, nil
	}
	return AcquireLock(c.dataPath, c.opts.lockTimeout)
}
