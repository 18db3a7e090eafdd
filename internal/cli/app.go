package cli

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/class-booking/internal/audit"
	"github.com/Shivanand-hulikatti/class-booking/internal/config"
	"github.com/Shivanand-hulikatti/class-booking/internal/database"
	"github.com/Shivanand-hulikatti/class-booking/internal/events"
	"github.com/Shivanand-hulikatti/class-booking/internal/log"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
	"github.com/Shivanand-hulikatti/class-booking/internal/service"
)

// app is the wired engine plus everything that must be closed with it.
type app struct {
	engine  *service.BookingEngine
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp connects the configured store and event publisher and constructs
// the engine.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := log.WithComponent("app")
	a := &app{}

	var store repository.Store
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if cfg.Store.Migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				a.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info().Msg("schema migrated")
		}
		store = repository.NewPostgresStore(pool)
	default:
		store = repository.NewMemoryStore()
		logger.Warn().Msg("using in-memory store, state is lost on exit")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.Enabled() {
		rp, err := events.NewRedisPublisher(ctx, cfg.Events.Redis, log.WithComponent("events"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("events: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rp.Close() })
		publisher = rp
	}

	a.engine = service.NewBookingEngine(store, service.Options{
		Policy:           cfg.Policy,
		Publisher:        publisher,
		Audit:            audit.NewLog(),
		OperationTimeout: cfg.OperationTimeout,
	})
	return a, nil
}
