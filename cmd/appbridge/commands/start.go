package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"go-appbridge/internal/config"
	"go-appbridge/internal/lifecycle"
	"go-appbridge/internal/logger"
	"go-appbridge/phpworker"
	"go-appbridge/server"
)

var (
	startHost    string
	startPort    int
	startPidFile string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the appbridge server",
	Long: `Start the appbridge server in the foreground.

The PHP application is booted once per worker process from
<php.base_dir>/<php.script> and kept in memory between requests.
SIGINT or SIGTERM trigger a graceful shutdown.

Examples:
  # Start with the default config
  appbridge start

  # Start on another port
  appbridge start --port 9501

  # Start with environment variable overrides
  APPBRIDGE_LOGGING_LEVEL=DEBUG appbridge start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startHost, "host", "", "Listen host (overrides server.host)")
	startCmd.Flags().IntVar(&startPort, "port", 0, "Listen port (overrides server.port)")
	startCmd.Flags().StringVar(&startPidFile, "pid-file", "", "Path to PID file (default: $TMPDIR/appbridge.pid)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if startHost != "" {
		cfg.Server.Host = startHost
	}
	if startPort != 0 {
		cfg.Server.Port = startPort
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host := buildHost(cfg, resolvePidFile(startPidFile, cfg))

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	if err := host.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// buildHost wires configuration into a server host backed by PHP workers.
func buildHost(cfg *config.Config, pidPath string) *server.Host {
	phpCfg := phpworker.Config{
		Binary:         cfg.PHP.Binary,
		Script:         cfg.PHP.Script,
		BaseDir:        cfg.PHP.BaseDir,
		Workers:        cfg.PHP.Workers,
		RequestTimeout: cfg.PHP.RequestTimeout,
		UploadDir:      cfg.PHP.UploadDir,
		Env:            cfg.PHP.Env,
	}

	var host *server.Host
	onReload := func(path string) {
		host.Events().Publish(server.EventReload, map[string]string{"path": path})
	}

	host = server.New(cfg.Server.Host, strconv.Itoa(cfg.Server.Port),
		server.WithProcessRecorder(lifecycle.NewManager(pidPath)),
		server.WithAdmin(server.AdminConfig{
			Enabled:   cfg.Admin.Enabled,
			JWTSecret: cfg.Admin.JWTSecret,
		}),
		server.WithResolver(server.PHPResolver(phpCfg, cfg.PHP.Watch, onReload)),
	)
	host.Configure(cfg.Server.Options)
	return host
}
