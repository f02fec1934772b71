// Package config implements the gateway's layered configuration:
// defaults, an optional YAML file, environment variables, and
// validation, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/astmgw/gateway/internal/logger"
	"github.com/astmgw/gateway/internal/telemetry"
)

// InstrumentConfig describes one instrument's listener and routing
// configuration.
type InstrumentConfig struct {
	Name                     string        `mapstructure:"name" validate:"required"`
	Port                     int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	DriverIdentifier         string        `mapstructure:"driver_identifier" validate:"required"`
	Enabled                  bool          `mapstructure:"enabled"`
	MaxConnections           int           `mapstructure:"max_connections" validate:"min=1"`
	ConnectionTimeoutSeconds int           `mapstructure:"connection_timeout_seconds" validate:"min=1"`
	KeepAliveIntervalMinutes int           `mapstructure:"keep_alive_interval_minutes" validate:"min=0,max=1440"`
	OrderQueue               string        `mapstructure:"order_queue"`
	ResultQueue              string        `mapstructure:"result_queue"`
	Exchange                 string        `mapstructure:"exchange"`
	RoutingKey               string        `mapstructure:"routing_key"`

	KeepAliveInterval    time.Duration `mapstructure:"-" validate:"-"`
	ConnectionTimeout    time.Duration `mapstructure:"-" validate:"-"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// Config is the gateway's complete runtime configuration.
type Config struct {
	Instruments      []InstrumentConfig  `mapstructure:"instruments" validate:"required,dive"`
	MessagingEnabled bool                `mapstructure:"messaging_enabled"`
	Database         DatabaseConfig      `mapstructure:"database" validate:"required"`
	Logging          LoggingConfig       `mapstructure:"logging" validate:"required"`
	Telemetry        telemetry.Config    `mapstructure:"telemetry"`
	ShutdownTimeout  time.Duration       `mapstructure:"shutdown_timeout"`
}

var validate = validator.New()

// Validate runs struct-tag validation over cfg, returning every tag
// violation joined into a single error. Only when the tags pass does it
// check for duplicate instrument ports, reporting the first duplicate.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	seen := make(map[int]bool)
	for _, inst := range cfg.Instruments {
		if seen[inst.Port] {
			return fmt.Errorf("config: duplicate instrument port %d", inst.Port)
		}
		seen[inst.Port] = true
	}
	return nil
}

// ApplyDefaults fills in zero-valued fields with the gateway's
// defaults, mirroring the instrument-level derived duration fields from
// their int inputs.
func ApplyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "astmgw.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry = telemetry.DefaultConfig()
	}

	for i := range cfg.Instruments {
		inst := &cfg.Instruments[i]
		if inst.MaxConnections == 0 {
			inst.MaxConnections = 1
		}
		if inst.ConnectionTimeoutSeconds == 0 {
			inst.ConnectionTimeoutSeconds = 360
		}
		// A zero keep-alive interval stays zero: it means disabled.
		inst.ConnectionTimeout = time.Duration(inst.ConnectionTimeoutSeconds) * time.Second
		inst.KeepAliveInterval = time.Duration(inst.KeepAliveIntervalMinutes) * time.Minute
	}
}

// envPrefix is the prefix every environment variable override must
// carry, e.g. ASTMGW_DATABASE_DRIVER.
const envPrefix = "ASTMGW"

// Load reads configuration from path (if non-empty and present),
// environment variables, and defaults, validates the result, and
// returns it. onChange, if non-nil, is invoked whenever the underlying
// file changes on disk (fsnotify-backed live reload).
func Load(path string, onChange func(*Config)) (*Config, error) {
	v := viper.New()
	setupViper(v, path)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	if onChange != nil && path != "" {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var reloaded Config
			if err := v.Unmarshal(&reloaded); err != nil {
				logger.Error("config reload failed to unmarshal", logger.Err(err))
				return
			}
			ApplyDefaults(&reloaded)
			if err := Validate(&reloaded); err != nil {
				logger.Error("config reload failed validation, keeping previous config", logger.Err(err))
				return
			}
			onChange(&reloaded)
		})
	}

	return &cfg, nil
}

// MustLoad calls Load and panics on error, for use at process startup
// before logging is configured.
func MustLoad(path string) *Config {
	cfg, err := Load(path, nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

func setupViper(v *viper.Viper, path string) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("astmgw")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(GetConfigDir())
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// GetConfigDir returns the platform-appropriate directory this
// gateway's config file lives in by default.
func GetConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "astmgw")
}

// DefaultConfigPath returns the default config file path under
// GetConfigDir.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "astmgw.yaml")
}
