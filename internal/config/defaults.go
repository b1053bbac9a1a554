package config

import (
	"strconv"
	"strings"

	"go-appbridge/phpworker"
	"go-appbridge/server"
)

// ApplyDefaults fills unset fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyPHPDefaults(&cfg.PHP)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = server.DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port, _ = strconv.Atoi(server.DefaultPort)
	}
	if cfg.Options == nil {
		cfg.Options = map[string]any{}
	}
}

func applyPHPDefaults(cfg *PHPConfig) {
	if cfg.Binary == "" {
		cfg.Binary = "php"
	}
	if cfg.Script == "" {
		cfg.Script = phpworker.DefaultScript
	}
}

// GetDefaultConfig returns the configuration written by `config init`.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Options: map[string]any{
				"worker_num":       4,
				"max_request":      1000,
				"request_timeout":  "30s",
				"shutdown_timeout": "10s",
			},
		},
		PHP: PHPConfig{
			BaseDir: ".",
			Watch:   []string{"app", "routes", "config"},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
