package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saraivavision/clinic-booking/internal/ratelimit"
)

type RouterConfig struct {
	Service      BookingService
	Availability AvailabilityReader
	Limiter      ratelimit.Limiter // nil disables rate limiting
	PgPool       *pgxpool.Pool     // optional, for readiness
	Redis        *redis.Client     // optional, for readiness
	Logger       *zap.Logger
	DefaultDays  int
	MaxDays      int
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.Unlimited{}
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = 7
	}
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = 60
	}

	h := &handlers{
		svc:         cfg.Service,
		filter:      cfg.Availability,
		defaultDays: cfg.DefaultDays,
		maxDays:     cfg.MaxDays,
		logger:      cfg.Logger,
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/api/appointments", func(r chi.Router) {
		r.Get("/availability", h.availability)
		r.With(RateLimitMiddleware(cfg.Limiter, cfg.Logger)).Post("/", h.appointmentAction)
		r.Post("/confirm", h.confirm)
		r.Post("/cancel", h.cancel)
		r.Get("/{id}", h.get)
	})

	return r
}
