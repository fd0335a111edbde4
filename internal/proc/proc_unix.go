//go:build !windows

package proc

import (
	"syscall"

	"golang.org/x/sys/unix"
)

var shimSuffixes []string

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// TerminateTree signals the process group led by pid: SIGTERM, or SIGKILL
// when force is set. A process that is already gone is not an error.
func TerminateTree(pid int, force bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}

	err := unix.Kill(-pid, sig)
	if err == unix.ESRCH {
		// No group; fall back to the process itself.
		err = unix.Kill(pid, sig)
	}
	if err == unix.ESRCH {
		return nil
	}
	return err
}
