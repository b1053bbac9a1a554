// Package config loads the appbridge configuration from a YAML file and
// APPBRIDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. APPBRIDGE_SERVER_PORT.
const EnvPrefix = "APPBRIDGE"

// Config is the complete appbridge configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	Server ServerConfig `mapstructure:"server" yaml:"server"`

	PHP PHPConfig `mapstructure:"php" yaml:"php"`

	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`

	// PIDFile overrides the default process record location.
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file,omitempty"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig is where the host listens and the option map it is
// configured with. Options keys are the server option names
// (worker_num, max_request, ...).
type ServerConfig struct {
	Host string `mapstructure:"host" validate:"required" yaml:"host"`

	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// PHPConfig describes the PHP worker processes.
type PHPConfig struct {
	Binary string `mapstructure:"binary" validate:"required" yaml:"binary"`

	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`

	Script string `mapstructure:"script" validate:"required" yaml:"script"`

	Workers int `mapstructure:"workers" validate:"gte=0" yaml:"workers"`

	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gte=0" yaml:"request_timeout"`

	UploadDir string `mapstructure:"upload_dir" yaml:"upload_dir,omitempty"`

	Env []string `mapstructure:"env" yaml:"env,omitempty"`

	// Watch lists directories (relative to BaseDir) whose .php files
	// trigger a worker recycle. Empty disables hot reload.
	Watch []string `mapstructure:"watch" yaml:"watch,omitempty"`
}

type AdminConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`
}

// Load reads configPath (or the default location when empty) and applies
// environment overrides, defaults and validation. A missing file yields
// the default configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)
	bindEnv(v)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes cfg as YAML, creating the directory if needed.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New()

// Validate checks field constraints.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(GetConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindEnv registers every scalar key so AutomaticEnv overrides also
// apply when the file does not mention the key.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.host", "server.port",
		"php.binary", "php.base_dir", "php.script", "php.workers",
		"php.request_timeout", "php.upload_dir", "php.watch",
		"admin.enabled", "admin.jwt_secret",
		"pid_file",
	} {
		_ = v.BindEnv(key)
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "appbridge")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "appbridge")
}

// GetConfigDir returns the directory searched when no path is given.
func GetConfigDir() string {
	return getConfigDir()
}

// GetDefaultConfigPath returns the default config file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
