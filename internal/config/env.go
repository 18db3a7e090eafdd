package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/rules"
)

// lookupFunc matches os.LookupEnv so tests can supply a map.
type lookupFunc func(key string) (string, bool)

// applyEnv overrides cfg with any set, non-empty environment variables.
// Unparseable values are errors rather than silent fallbacks.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	if port := e.str("PORT"); port != "" {
		cfg.HTTP.Addr = ":" + port
	}
	e.setString(&cfg.HTTP.Addr, "CLASSBOOKING_HTTP_ADDR")
	e.setInt(&cfg.HTTP.BookingRateLimit, "CLASSBOOKING_BOOKING_RATE_LIMIT")

	e.setString(&cfg.Log.Level, "LOG_LEVEL")
	e.setString(&cfg.Log.Service, "LOG_SERVICE")

	e.setString(&cfg.Store.Driver, "CLASSBOOKING_STORE")
	e.setBool(&cfg.Store.Migrate, "CLASSBOOKING_MIGRATE")

	e.setString(&cfg.Database.URL, "DATABASE_URL")
	e.setString(&cfg.Database.Host, "DB_HOST")
	e.setString(&cfg.Database.Port, "DB_PORT")
	e.setString(&cfg.Database.User, "DB_USER")
	e.setString(&cfg.Database.Password, "DB_PASSWORD")
	e.setString(&cfg.Database.DBName, "DB_NAME")
	e.setString(&cfg.Database.SSLMode, "DB_SSLMODE")

	e.setString(&cfg.Events.Redis.Addr, "CLASSBOOKING_REDIS_ADDR")
	e.setString(&cfg.Events.Redis.Password, "CLASSBOOKING_REDIS_PASSWORD")
	e.setInt(&cfg.Events.Redis.DB, "CLASSBOOKING_REDIS_DB")
	e.setString(&cfg.Events.Redis.Stream, "CLASSBOOKING_REDIS_STREAM")

	e.setDuration(&cfg.Policy.MinLeadTime, "CLASSBOOKING_MIN_LEAD_TIME")
	e.setDuration(&cfg.Policy.CancellationDeadline, "CLASSBOOKING_CANCELLATION_DEADLINE")
	e.setInt(&cfg.Policy.MaxActiveBookings, "CLASSBOOKING_MAX_ACTIVE_BOOKINGS")
	if mode := e.str("CLASSBOOKING_CANCELLATION_MODE"); mode != "" {
		cfg.Policy.CancellationMode = rules.CancellationMode(mode)
	}
	e.setDuration(&cfg.OperationTimeout, "CLASSBOOKING_OPERATION_TIMEOUT")

	return e.err
}

// envReader keeps the first parse error so callers can check once.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) str(key string) string {
	v, _ := e.lookup(key)
	return v
}

func (e *envReader) setString(dst *string, key string) {
	if v := e.str(key); v != "" {
		*dst = v
	}
}

func (e *envReader) setInt(dst *int, key string) {
	v := e.str(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setBool(dst *bool, key string) {
	v := e.str(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) setDuration(dst *time.Duration, key string) {
	v := e.str(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("environment %s=%q: %w", key, value, err)
	}
}
