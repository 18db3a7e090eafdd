// Package config loads service configuration from an optional YAML file and
// environment overrides.
//
// Precedence: defaults, then the file, then the environment. The result is
// validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Shivanand-hulikatti/class-booking/internal/database"
	"github.com/Shivanand-hulikatti/class-booking/internal/events"
	"github.com/Shivanand-hulikatti/class-booking/internal/rules"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	HTTP             HTTPConfig      `yaml:"http"`
	Log              LogConfig       `yaml:"log"`
	Store            StoreConfig     `yaml:"store"`
	Database         database.Config `yaml:"database"`
	Events           EventsConfig    `yaml:"events"`
	Policy           rules.Policy    `yaml:"policy"`
	OperationTimeout time.Duration   `yaml:"operation_timeout" validate:"gt=0"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr             string        `yaml:"addr" validate:"required"`
	BookingRateLimit int           `yaml:"booking_rate_limit" validate:"gte=0"` // per IP per minute, 0 = off
	ReadTimeout      time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout     time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level   string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Service string `yaml:"service"`
}

// StoreConfig selects the booking store.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory postgres"`
	// Migrate applies the schema on startup when the driver is postgres.
	Migrate bool `yaml:"migrate"`
}

// EventsConfig configures outcome event publishing. Events are discarded
// when no Redis address is set.
type EventsConfig struct {
	Redis events.RedisConfig `yaml:"redis"`
}

// Enabled reports whether a Redis publisher should be created.
func (c EventsConfig) Enabled() bool { return c.Redis.Addr != "" }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:             ":8080",
			BookingRateLimit: 120,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			IdleTimeout:      60 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Log:              LogConfig{Level: "info", Service: "class-booking"},
		Store:            StoreConfig{Driver: DriverMemory, Migrate: true},
		Database:         database.DefaultConfig(),
		Events:           EventsConfig{Redis: events.RedisConfig{Stream: events.DefaultStream}},
		Policy:           rules.DefaultPolicy(),
		OperationTimeout: 5 * time.Second,
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %s", verrs.Error())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	if cfg.Store.Driver == DriverPostgres && cfg.Database.URL == "" && cfg.Database.Host == "" {
		return errors.New("invalid config: postgres store needs database.url or database.host")
	}
	return nil
}
