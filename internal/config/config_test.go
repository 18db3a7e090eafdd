package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/class-booking/internal/rules"
)

func mapLookup(values map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoadFile(t *testing.T) {
	for _, k := range []string{"PORT", "CLASSBOOKING_HTTP_ADDR", "CLASSBOOKING_STORE", "DATABASE_URL", "CLASSBOOKING_REDIS_ADDR", "CLASSBOOKING_OPERATION_TIMEOUT", "LOG_SERVICE"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
store:
  driver: postgres
database:
  url: postgres://u:p@db:5432/class_booking
policy:
  min_lead_time: 1h
  cancellation_deadline: 6h
  max_active_bookings: 3
  cancellation_mode: soft
operation_timeout: 2s
events:
  redis:
    addr: localhost:6379
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, time.Hour, cfg.Policy.MinLeadTime)
	assert.Equal(t, 6*time.Hour, cfg.Policy.CancellationDeadline)
	assert.Equal(t, 3, cfg.Policy.MaxActiveBookings)
	assert.Equal(t, rules.CancellationSoft, cfg.Policy.CancellationMode)
	assert.Equal(t, 2*time.Second, cfg.OperationTimeout)
	assert.True(t, cfg.Events.Enabled())
	// Unset keys keep their defaults.
	assert.Equal(t, "class-booking", cfg.Log.Service)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, mapLookup(map[string]string{
		"PORT":                             "7000",
		"DB_HOST":                          "db.internal",
		"DB_NAME":                          "bookings",
		"CLASSBOOKING_STORE":               "postgres",
		"CLASSBOOKING_MAX_ACTIVE_BOOKINGS": "9",
		"CLASSBOOKING_CANCELLATION_MODE":   "soft",
		"CLASSBOOKING_OPERATION_TIMEOUT":   "750ms",
		"CLASSBOOKING_MIGRATE":             "false",
		"LOG_LEVEL":                        "",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "bookings", cfg.Database.DBName)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.False(t, cfg.Store.Migrate)
	assert.Equal(t, 9, cfg.Policy.MaxActiveBookings)
	assert.Equal(t, rules.CancellationSoft, cfg.Policy.CancellationMode)
	assert.Equal(t, 750*time.Millisecond, cfg.OperationTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, Validate(cfg))
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, mapLookup(map[string]string{"CLASSBOOKING_MIN_LEAD_TIME": "two hours"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLASSBOOKING_MIN_LEAD_TIME")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"zero timeout", func(c *Config) { c.OperationTimeout = 0 }},
		{"bad mode", func(c *Config) { c.Policy.CancellationMode = "lenient" }},
		{"zero limit", func(c *Config) { c.Policy.MaxActiveBookings = 0 }},
		{"negative lead", func(c *Config) { c.Policy.MinLeadTime = -time.Minute }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"postgres without target", func(c *Config) {
			c.Store.Driver = DriverPostgres
			c.Database.URL = ""
			c.Database.Host = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
