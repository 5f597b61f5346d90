//go:build !windows

package procutil

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// GracefulTerminate asks p to exit with SIGTERM. arduino-cli uses it to
// remove its temporary build directories.
func GracefulTerminate(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Signal(syscall.SIGTERM)
}

// TerminateByPID sends SIGTERM to pid. A process that is already gone is
// not an error.
func TerminateByPID(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("procutil: invalid pid %d", pid)
	}
	err := syscall.Kill(pid, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// IsProcessAlive reports whether pid exists. A process owned by another
// user counts as alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
