package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"go-appbridge/internal/lifecycle"
)

var (
	stopPidFile string
	stopForce   bool
	stopGrace   time.Duration
)

// errProcessDone means the recorded process no longer exists.
var errProcessDone = errors.New("process already finished")

const stopPollInterval = 100 * time.Millisecond

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the appbridge server",
	Long: `Stop a running appbridge server.

Sends SIGTERM and waits up to --grace for the server to exit, then sends
SIGKILL. Use --force to send SIGKILL immediately. A PID file left behind by
a dead process is removed.

Examples:
  # Stop server (uses default PID file)
  appbridge stop

  # Stop server using custom PID file
  appbridge stop --pid-file /var/run/appbridge.pid

  # Force stop (SIGKILL)
  appbridge stop --force`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $TMPDIR/appbridge.pid)")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Force kill (SIGKILL) instead of graceful shutdown (SIGTERM)")
	stopCmd.Flags().DurationVar(&stopGrace, "grace", 10*time.Second, "How long to wait for a graceful exit before SIGKILL")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := resolvePidFile(stopPidFile, loadConfigQuiet())
	return stopServer(cmd.OutOrStdout(), pidPath, stopForce, stopGrace)
}

func stopServer(out io.Writer, pidPath string, force bool, grace time.Duration) error {
	pid, err := lifecycle.ReadPID(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("PID file not found: %s\n\nIs the server running?", pidPath)
		}
		return err
	}

	if !processAlive(pid) {
		_ = os.Remove(pidPath)
		fmt.Fprintf(out, "Server not running, removed stale PID file %s\n", pidPath)
		return nil
	}

	fmt.Fprintf(out, "Sending %s to process %d...\n", signalName(force), pid)
	if err := signalProcess(pid, force); err != nil {
		if errors.Is(err, errProcessDone) {
			_ = os.Remove(pidPath)
			fmt.Fprintln(out, "Server already stopped")
			return nil
		}
		return err
	}

	if !force && !waitExit(pid, grace) {
		fmt.Fprintf(out, "Server did not exit within %s, sending %s...\n", grace, signalName(true))
		if err := signalProcess(pid, true); err != nil && !errors.Is(err, errProcessDone) {
			return err
		}
		waitExit(pid, grace)
	}

	// a killed server cannot remove its own record
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	fmt.Fprintln(out, "Server stopped")
	return nil
}

// waitExit polls until pid is gone or timeout passes.
func waitExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(stopPollInterval)
	}
	return !processAlive(pid)
}

func signalName(force bool) string {
	if force {
		return "SIGKILL"
	}
	return "SIGTERM"
}
