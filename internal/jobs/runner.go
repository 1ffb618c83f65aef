package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saraivavision/clinic-booking/internal/appointment"
	"github.com/saraivavision/clinic-booking/internal/clock"
	"github.com/saraivavision/clinic-booking/internal/slots"
)

// AppointmentReader loads the appointment a job refers to.
type AppointmentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type RunnerConfig struct {
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration // doubled after every failed attempt
	LockTimeout  time.Duration // how long a claimed job stays reserved
	Location     *time.Location
}

type Runner struct {
	store    Store
	appts    AppointmentReader
	notifier Notifier
	clock    clock.Clock
	cfg      RunnerConfig
	logger   *zap.Logger
}

// Result summarises one sweep.
type Result struct {
	Claimed int
	Sent    int
	Skipped int
	Retried int
	Failed  int
}

func NewRunner(store Store, appts AppointmentReader, notifier Notifier, clk clock.Clock, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:    store,
		appts:    appts,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
	}
}

// RunOnce claims one batch of due jobs and processes it. Per-job failures
// are recorded on the job; only store errors abort the sweep.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	now := r.clock.Now()

	claimed, err := r.store.ClaimDue(ctx, now, now.Add(r.cfg.LockTimeout), r.cfg.BatchSize)
	if err != nil {
		return Result{}, err
	}

	res := Result{Claimed: len(claimed)}
	for _, j := range claimed {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.process(ctx, j, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Runner) process(ctx context.Context, j Job, res *Result) error {
	log := r.logger.With(
		zap.String("job_id", j.ID.String()),
		zap.String("kind", string(j.Kind)),
		zap.String("appointment_id", j.AppointmentID.String()),
		zap.Int("attempt", j.Attempts),
	)

	appt, err := r.appts.GetByID(ctx, j.AppointmentID)
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		res.Failed++
		log.Warn("job refers to a missing appointment")
		return r.store.Fail(ctx, j.ID, "appointment not found")
	}
	if err != nil {
		return r.retryOrFail(ctx, j, fmt.Errorf("load appointment: %w", err), res, log)
	}

	if skip, why := r.shouldSkip(j, appt); skip {
		res.Skipped++
		log.Info("notification skipped", zap.String("reason", why))
		return r.store.Complete(ctx, j.ID)
	}

	if err := r.notifier.Notify(ctx, j.Kind, appt); err != nil {
		return r.retryOrFail(ctx, j, err, res, log)
	}

	res.Sent++
	return r.store.Complete(ctx, j.ID)
}

func (r *Runner) shouldSkip(j Job, appt *appointment.Appointment) (bool, string) {
	if appt.Status == appointment.StatusCancelled {
		return true, "appointment cancelled"
	}
	if j.Kind == KindConfirmation {
		return false, ""
	}

	// a reminder picked up after the visit started is useless
	start, err := slots.Slot{Date: appt.Date, Time: appt.Time}.Start(r.cfg.Location)
	if err != nil {
		return true, "unparseable appointment time"
	}
	if !start.After(r.clock.Now()) {
		return true, "appointment already started"
	}
	return false, ""
}

func (r *Runner) retryOrFail(ctx context.Context, j Job, cause error, res *Result, log *zap.Logger) error {
	if j.Attempts >= r.cfg.MaxAttempts {
		res.Failed++
		log.Error("notification failed permanently", zap.Error(cause))
		return r.store.Fail(ctx, j.ID, cause.Error())
	}

	next := r.clock.Now().Add(r.backoff(j.Attempts))
	res.Retried++
	log.Warn("notification failed, will retry", zap.Time("next_run", next), zap.Error(cause))
	return r.store.Retry(ctx, j.ID, next, cause.Error())
}

func (r *Runner) backoff(attempts int) time.Duration {
	d := r.cfg.RetryBackoff
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	return min(d, time.Hour)
}
