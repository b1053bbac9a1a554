package commands

import (
	"fmt"

	"go-appbridge/internal/config"
	"go-appbridge/internal/lifecycle"
	"go-appbridge/internal/logger"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// resolvePidFile picks the flag, then the config, then the default.
func resolvePidFile(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	if cfg != nil && cfg.PIDFile != "" {
		return cfg.PIDFile
	}
	return lifecycle.DefaultPath()
}

// loadConfigQuiet loads the config for commands that work without one.
func loadConfigQuiet() *config.Config {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil
	}
	return cfg
}
