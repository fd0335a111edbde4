//go:build !windows

package core

import (
	"os"

	"golang.org/x/sys/unix"
)

func tryLock(file *os.File, shared bool) error {
	op := unix.LOCK_EX
	if shared {
		op = unix.LOCK_SH
	}
	return unix.Flock(int(file.Fd()), op|unix.LOCK_NB)
}

func unlock(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_UN)
}
