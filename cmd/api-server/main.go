package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/meeting"
	"github.com/hackgods/clinic-booking/internal/memstore"
	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/notify"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api-server stopped with error", zap.Error(err))
	}
}

type storage struct {
	repo  appointment.Repository
	grids availability.Store
	ping  api.Pinger
	close func()
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("storage", cfg.Storage),
		zap.String("status_transitions", cfg.StatusTransitions),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)

	store, err := openStorage(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	var (
		locker    redisclient.Locker
		limiter   api.RateLimiter
		publisher notify.Publisher
		redisPing api.Pinger
	)
	if cfg.RedisEnabled {
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			// bookings stay correct without redis; the unique index arbitrates
			logger.Warn("redis unavailable, running without lock, rate limit and fan-out", zap.Error(err))
		} else {
			defer func() {
				if err := rdb.Close(); err != nil {
					logger.Warn("error closing redis", zap.Error(err))
				}
			}()
			logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

			if cfg.SlotLockTTL > 0 {
				locker = redisclient.NewRedisSlotLocker(rdb, cfg.SlotLockTTL)
			}
			if cfg.BookingRateLimit > 0 {
				limiter = redisclient.NewWindowLimiter(rdb, cfg.BookingRateLimit, cfg.BookingRateWindow)
			}
			publisher = redisclient.NewPublisher(rdb, cfg.EventChannelPrefix)
			redisPing = api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		}
	}

	var sender notify.Sender = notify.NewStubSender(logger)
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sender = sg
	}
	notifier := notify.NewNotifier(publisher,
		notify.WithSender(sender),
		notify.WithFailureObserver(bookingMetrics),
		notify.WithLogger(logger),
	)

	opts := []appointment.Option{
		appointment.WithEffects(notifier),
		appointment.WithObserver(bookingMetrics),
		appointment.WithLogger(logger),
	}
	if locker != nil {
		opts = append(opts, appointment.WithLocker(locker))
	}
	if cfg.GoogleCredentialsFile != "" {
		cal, err := meeting.NewGoogleCalendarFromFile(rootCtx, cfg.GoogleCredentialsFile, cfg.GoogleCalendarID, logger)
		if err != nil {
			logger.Warn("google calendar disabled, video bookings use fallback links", zap.Error(err))
		} else {
			opts = append(opts, appointment.WithMeetings(cal))
		}
	}

	bookings := appointment.NewService(store.repo, store.grids, cfg, opts...)

	router := api.NewRouter(api.RouterConfig{
		Bookings:       bookings,
		Availability:   availability.NewService(store.grids, logger),
		Auth:           auth.NewAuthenticator(cfg.JWTSecret, ""),
		Logger:         logger,
		Storage:        store.ping,
		Redis:          redisPing,
		BookingLimiter: limiter,
		HTTPMetrics:    httpMetrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Env:            cfg.Env,
		Version:        cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutting down api-server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	if err := notifier.Wait(shutdownCtx); err != nil {
		logger.Warn("pending notifications dropped at shutdown", zap.Error(err))
	}

	logger.Info("api-server stopped")
	return nil
}

func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (*storage, error) {
	if cfg.Storage == config.StorageMemory {
		mem := memstore.New()
		if cfg.SeedDemoData {
			ds := seed.Generate(0, 10, 50)
			if err := seed.LoadMemory(ctx, mem, ds); err != nil {
				return nil, fmt.Errorf("seed memory store: %w", err)
			}
			logger.Info("in-memory store seeded",
				zap.Int("providers", len(ds.Providers)),
				zap.Int("requesters", len(ds.Requesters)),
			)
		}
		logger.Warn("using in-memory storage, data is lost on restart")
		return &storage{repo: mem, grids: mem, close: func() {}}, nil
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("postgres connection error: %w", err)
	}
	logger.Info("connected to Postgres")

	if cfg.MigrateOnStart {
		migrator, err := db.NewMigrator(pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		err = migrator.Up(ctx)
		_ = migrator.Close()
		if err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &storage{
		repo:  appointment.NewPgRepository(pool),
		grids: availability.NewPgStore(pool),
		ping:  pool,
		close: pool.Close,
	}, nil
}
