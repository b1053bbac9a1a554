// Package lifecycle owns the process record: the PID file external tooling
// reads to find and signal the running server.
package lifecycle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ServiceName names the PID file under the temp directory.
const ServiceName = "appbridge"

// DefaultPath returns <tmp>/appbridge.pid.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), ServiceName+".pid")
}

// Manager writes the record on start and removes it on shutdown.
// Only the host goroutine that runs Start touches it.
type Manager struct {
	path string
}

// NewManager returns a Manager for path, or DefaultPath when path is empty.
func NewManager(path string) *Manager {
	if path == "" {
		path = DefaultPath()
	}
	return &Manager{path: path}
}

// Path returns the record location.
func (m *Manager) Path() string {
	return m.path
}

// OnStart persists pid as decimal text, replacing any stale record.
func (m *Manager) OnStart(pid int) error {
	dir := filepath.Dir(m.path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(m.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", m.path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(strconv.Itoa(pid)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write PID file %s: %w", m.path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write PID file %s: %w", m.path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write PID file %s: %w", m.path, err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write PID file %s: %w", m.path, err)
	}

	return nil
}

// OnShutdown removes the record. A missing record is not an error.
func (m *Manager) OnShutdown() error {
	err := os.Remove(m.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to remove PID file %s: %w", m.path, err)
}

// ReadPID parses the record at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, string(data))
	}
	return pid, nil
}

// IsRunning reads the record at path and sends the process signal 0.
// Returns the PID and true if the process is alive.
func IsRunning(path string) (int, bool) {
	pid, err := ReadPID(path)
	if err != nil {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}

	return pid, true
}
