// Package config loads dutyhub daemon configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/dutyhub/internal/duties"
	"github.com/fentz26/dutyhub/internal/events"
)

// DefaultListen is the default daemon listen address.
const DefaultListen = "127.0.0.1:7466"

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the daemon configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	Database  DatabaseConfig  `yaml:"database"`
	Duties    duties.Config   `yaml:"duties"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	// Admins lists the user ids allowed to reset the active set. Empty leaves
	// reset open to any identified caller.
	Admins []string `yaml:"admins"`
}

// DatabaseConfig selects and locates the record store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the duty event publisher. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// TelemetryConfig configures OTLP export. Empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig is the per-caller token bucket on mutating endpoints.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DefaultDBPath returns ~/.dutyhub/dutyhub.db.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".dutyhub", "dutyhub.db")
	}
	return filepath.Join(home, ".dutyhub", "dutyhub.db")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen: DefaultListen,
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   DefaultDBPath(),
		},
		Duties: *duties.DefaultConfig(),
		Redis: RedisConfig{
			Channel: events.DefaultChannel,
		},
		Telemetry: TelemetryConfig{
			Insecure:    true,
			ServiceName: "dutyhub",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 10,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DUTYHUB_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("DUTYHUB_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DUTYHUB_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("DUTYHUB_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("DUTYHUB_MAX_DUTY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DUTYHUB_MAX_DUTY: %w", err)
		}
		c.Duties.MaxDuty = n
	}
	if v := os.Getenv("DUTYHUB_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("DUTYHUB_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("DUTYHUB_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Duties.MaxDuty < 1 {
		return fmt.Errorf("duties.max_duty must be at least 1, got %d", c.Duties.MaxDuty)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New("ratelimit values must not be negative")
	}
	return nil
}

// NewLogger builds the daemon logger described by c.
func (c LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
