//go:build !windows

package commands

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// signalProcess sends SIGTERM, or SIGKILL when force is set.
func signalProcess(pid int, force bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}

	err := unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return errProcessDone
	}
	if err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}
	return nil
}

// processAlive sends signal 0 to pid. EPERM still means it exists.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
