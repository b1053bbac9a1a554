//go:build windows

package commands

import (
	"errors"
	"fmt"
	"os"
)

// signalProcess terminates pid. Windows has no SIGTERM for console-less
// processes, so both modes kill.
func signalProcess(pid int, force bool) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return errProcessDone
	}
	if err := process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return errProcessDone
		}
		return fmt.Errorf("failed to kill process: %w", err)
	}
	return nil
}

func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
