package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go-appbridge/internal/config"
	"go-appbridge/internal/lifecycle"
	"go-appbridge/server"
)

var (
	statusOutput  string
	statusPidFile string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display whether the appbridge server is running.

The PID file tells whether the process is alive. When the admin routes are
enabled, the health endpoint adds state, uptime and worker information.

Examples:
  # Check status
  appbridge status

  # Output as JSON
  appbridge status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $TMPDIR/appbridge.pid)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus represents the server status information.
type ServerStatus struct {
	Running bool           `json:"running" yaml:"running"`
	PID     int            `json:"pid,omitempty" yaml:"pid,omitempty"`
	Message string         `json:"message" yaml:"message"`
	Health  *server.Health `json:"health,omitempty" yaml:"health,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfigQuiet()
	status := collectStatus(resolvePidFile(statusPidFile, cfg), cfg)
	return printStatus(cmd.OutOrStdout(), status, statusOutput)
}

func collectStatus(pidPath string, cfg *config.Config) ServerStatus {
	pid, running := lifecycle.IsRunning(pidPath)
	if !running {
		return ServerStatus{Message: "Server is not running"}
	}

	status := ServerStatus{Running: true, PID: pid, Message: "Server is running"}
	if cfg != nil && cfg.Admin.Enabled {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		if h, err := fetchHealth("http://" + addr + server.AdminPrefix + "/health"); err == nil {
			status.Health = h
		}
	}
	return status
}

func fetchHealth(url string) (*server.Health, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned %s", resp.Status)
	}

	var h server.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, err
	}
	return &h, nil
}

func printStatus(out io.Writer, status ServerStatus, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "yaml":
		return yaml.NewEncoder(out).Encode(status)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	fmt.Fprintln(out, status.Message)
	if !status.Running {
		return nil
	}
	fmt.Fprintf(out, "  PID:     %d\n", status.PID)
	if h := status.Health; h != nil {
		fmt.Fprintf(out, "  State:   %s\n", h.State)
		fmt.Fprintf(out, "  Uptime:  %s\n", (time.Duration(h.UptimeSeconds) * time.Second).String())
		fmt.Fprintf(out, "  Workers: %d (%d busy)\n", h.Workers, h.BusyWorkers)
	}
	return nil
}
