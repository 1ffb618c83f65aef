package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saraivavision/clinic-booking/internal/appointment"
	"github.com/saraivavision/clinic-booking/internal/availability"
	"github.com/saraivavision/clinic-booking/internal/booking"
	"github.com/saraivavision/clinic-booking/internal/clock"
	"github.com/saraivavision/clinic-booking/internal/config"
	"github.com/saraivavision/clinic-booking/internal/db"
	"github.com/saraivavision/clinic-booking/internal/jobs"
	"github.com/saraivavision/clinic-booking/internal/ratelimit"
	redisclient "github.com/saraivavision/clinic-booking/internal/redis"
	"github.com/saraivavision/clinic-booking/internal/slots"
)

// App holds the collaborators shared by the binaries. Pool and Redis are nil
// when the configuration does not use them.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Clock  clock.Clock

	Pool  *pgxpool.Pool
	Redis *redis.Client

	Appointments appointment.Repository
	Jobs         jobs.Store
	Filter       *availability.Filter
	Scheduler    *jobs.Scheduler
	Booking      *booking.Service
	Limiter      ratelimit.Limiter
	Leaser       redisclient.Leaser
}

// New connects the configured backends and builds the booking core on top
// of them. Call Close when done.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Clock:   clock.System(),
		Limiter: ratelimit.Unlimited{},
		Leaser:  redisclient.NoopLeaser{},
	}

	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection error: %w", err)
		}
		a.Pool = pool
		logger.Info("connected to Postgres")

		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool, logger); err != nil {
				a.Close()
				return nil, err
			}
		}

		a.Appointments = appointment.NewPgRepository(pool)
		a.Jobs = jobs.NewPgStore(pool)
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		a.Appointments = appointment.NewMemoryRepository()
		a.Jobs = jobs.NewMemoryStore()
	}

	var cache availability.BookedTimesCache
	if cfg.RedisEnabled {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection error: %w", err)
		}
		a.Redis = rdb
		logger.Info("connected to Redis")

		if cfg.CacheTTL > 0 {
			cache = redisclient.NewAvailabilityCache(rdb, cfg.CacheTTL)
		}
		a.Leaser = redisclient.NewRedisLeaser(rdb, cfg.Worker.LeaseTTL)
	}

	if cfg.RateLimit.Requests > 0 {
		if a.Redis != nil {
			a.Limiter = redisclient.NewRateLimiter(a.Redis, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		} else {
			rps := float64(cfg.RateLimit.Requests) / cfg.RateLimit.Window.Seconds()
			a.Limiter = ratelimit.NewLocal(rps, cfg.RateLimit.Requests)
		}
	}

	tmpl := slots.Template{
		StartHour:           cfg.Clinic.StartHour,
		EndHour:             cfg.Clinic.EndHour,
		SlotDurationMinutes: cfg.Clinic.SlotDurationMinutes,
		Weekdays:            cfg.Clinic.Weekdays,
	}
	if err := tmpl.Validate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("clinic template: %w", err)
	}

	a.Filter = availability.NewFilter(a.Appointments, tmpl, a.Clock, availability.Options{
		Location:      cfg.Clinic.Location,
		StoreTimeout:  cfg.StoreTimeout,
		SkipEmptyDays: cfg.Booking.SkipEmptyDays,
		Cache:         cache,
	}, logger.Named("availability"))

	a.Scheduler = jobs.NewScheduler(a.Jobs, a.Clock, cfg.Clinic.Location, logger.Named("jobs"))

	a.Booking = booking.NewService(
		a.Appointments,
		a.Filter,
		a.Clock,
		booking.NewValidator(),
		a.Scheduler,
		booking.Config{
			StoreTimeout:              cfg.StoreTimeout,
			AlternativesScope:         booking.AlternativesScope(cfg.Booking.AlternativesScope),
			AlternativesLimit:         cfg.Booking.AlternativesLimit,
			AlternativesLookaheadDays: cfg.Booking.AlternativesLookaheadDays,
			WaitlistEnabled:           cfg.Booking.WaitlistEnabled,
		},
		logger.Named("booking"),
	)

	return a, nil
}

// Worker builds the notification job worker over the app's stores.
func (a *App) Worker() *jobs.Worker {
	runner := jobs.NewRunner(
		a.Jobs,
		a.Appointments,
		jobs.NewLogNotifier(a.Logger.Named("notifier")),
		a.Clock,
		jobs.RunnerConfig{
			BatchSize:    a.Config.Worker.BatchSize,
			MaxAttempts:  a.Config.Worker.MaxAttempts,
			RetryBackoff: a.Config.Worker.RetryBackoff,
			LockTimeout:  a.Config.Worker.LockTimeout,
			Location:     a.Config.Clinic.Location,
		},
		a.Logger.Named("jobs"),
	)
	return jobs.NewWorker(runner, a.Leaser, a.Config.Worker.Interval, a.Logger.Named("worker"))
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("error closing redis", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
