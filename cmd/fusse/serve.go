package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fusse/internal/api"
	"fusse/internal/assign"
	"fusse/internal/availability"
	"fusse/internal/backup"
	"fusse/internal/booking"
	"fusse/internal/calendar"
	"fusse/internal/clock"
	"fusse/internal/config"
	"fusse/internal/events"
	"fusse/internal/lock"
	"fusse/internal/metrics"
	"fusse/internal/slots"
	"fusse/internal/store"
)

const (
	lockPrefix = "fusse:lock:"
	lockTTL    = 15 * time.Second
)

type app struct {
	calendar *calendar.Calendar
	manager  *booking.Manager
	bus      *events.EventBus
}

// newApp wires the booking engine. rdb may be nil, in which case locks are
// process-local and slot listings are not cached.
func newApp(cfg *config.Config, st store.Store, rdb redis.UniversalClient, logger *zerolog.Logger) (*app, error) {
	cal, err := calendar.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	policy, err := assign.ByName(cfg.Booking.Policy, nil)
	if err != nil {
		return nil, err
	}

	clk := clock.System{}
	resolver := availability.NewResolver(st, cal.BookingDuration(), cfg.Booking.MaxPartySize)
	enumerator := slots.NewEnumerator(cal, resolver, clk)
	bus := events.NewEventBus(logger)

	var locker lock.Locker = lock.NewLocal()
	if rdb != nil {
		locker = lock.NewRedis(rdb, lockPrefix, lockTTL)
		cache := slots.NewCache(rdb, cfg.SlotCacheTTL(), cal.Location(), logger)
		enumerator.WithCache(cache)
		bus.SubscribeAll(cache.Handle)
	}

	mgr := booking.NewManager(booking.Deps{
		Store:    st,
		Calendar: cal,
		Resolver: resolver,
		Policy:   policy,
		Locker:   locker,
		Clock:    clk,
		Events:   bus,
		Logger:   logger,
		Slots:    enumerator,
	}, booking.Options{
		LockTimeout: cfg.LockTimeout(),
		TxTimeout:   cfg.TxTimeout(),
	})

	return &app{calendar: cal, manager: mgr, bus: bus}, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	st, sqliteStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	err = config.WatchTables(ctx, cfg.TablesConfigPath, 30*time.Second, logger, func(tables *config.TablesConfig) {
		if err := st.SyncTables(ctx, tables.Inventory()); err != nil {
			logger.Error().Err(err).Msg("Failed to sync table inventory")
			return
		}
		logger.Info().Str("tables", tables.String()).Msg("Table inventory synced")
	})
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	// Keep a nil *redis.Client out of the interface parameter.
	var a *app
	if rdb != nil {
		a, err = newApp(cfg, st, rdb, logger)
	} else {
		a, err = newApp(cfg, st, nil, logger)
	}
	if err != nil {
		return err
	}

	if cfg.RabbitMQ.URL != "" {
		pub := events.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, events.DialAMQP, logger)
		a.bus.SubscribeAll(pub.Handle)
		go pub.Run(ctx)
	}

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	if sqliteStore != nil && cfg.Backup.Enabled {
		go backup.NewService(sqliteStore, cfg.Backup, logger).Start(ctx)
	}

	ready := map[string]api.Check{"database": st.Ping}
	if rdb != nil {
		ready["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	srv := api.New(a.manager, api.Options{
		RateLimitEnabled: cfg.RateLimit.Enabled,
		Rate:             cfg.RateLimit.Rate,
		Burst:            cfg.RateLimit.Burst,
		Ready:            ready,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Address) }()

	logger.Info().
		Str("timezone", a.calendar.Location().String()).
		Str("policy", cfg.Booking.Policy).
		Msg("Reservation service started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
