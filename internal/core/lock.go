package core

import (
	"fmt"
	"os"
	"time"

	"github.com/Fuabioo/toolhost/internal/errors"
)

const lockRetryInterval = 50 * time.Millisecond

// LockMode selects between reader and writer locks.
type LockMode int

const (
	// Shared locks may be held by any number of readers.
	Shared LockMode = iota
	// Exclusive locks exclude every other lock.
	Exclusive
)

func (m LockMode) String() string {
	if m == Shared {
		return "shared"
	}
	return "exclusive"
}

// Lock is an advisory file lock guarding the server records file against
// concurrent edits from other toolhost processes.
type Lock struct {
	file *os.File
	path string
	mode LockMode
}

// Acquire takes a lock of the given mode on path, creating the lock file if
// needed. It returns a CONFIG_LOCKED error when the lock is still held
// elsewhere after timeout.
func Acquire(path string, mode LockMode, timeout time.Duration) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	shared := mode == Shared
	if tryLock(file, shared) == nil {
		return &Lock{file: file, path: path, mode: mode}, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			file.Close()
			return nil, errors.ConfigLocked(path)
		case <-ticker.C:
			if tryLock(file, shared) == nil {
				return &Lock{file: file, path: path, mode: mode}, nil
			}
		}
	}
}

// Mode reports how the lock is held.
func (l *Lock) Mode() LockMode {
	return l.mode
}

// Release unlocks and closes the lock file. Releasing twice is an error.
func (l *Lock) Release() error {
	if l.file == nil {
		return fmt.Errorf("lock on %s already released", l.path)
	}

	file := l.file
	l.file = nil

	if err := unlock(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	return nil
}
