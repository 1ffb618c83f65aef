package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	redisclient "github.com/saraivavision/clinic-booking/internal/redis"
)

const sweepLease = "job-sweep"

// Worker runs sweeps of a Runner. Overlapping sweeps from several worker
// processes are skipped through the lease; SKIP LOCKED keeps them correct
// even without it.
type Worker struct {
	runner   *Runner
	leaser   redisclient.Leaser
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewWorker(runner *Runner, leaser redisclient.Leaser, interval time.Duration, logger *zap.Logger) *Worker {
	if leaser == nil {
		leaser = redisclient.NoopLeaser{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		runner:   runner,
		leaser:   leaser,
		interval: interval,
		timeout:  max(interval, 20*time.Second),
		logger:   logger,
	}
}

// Sweep runs one batch. It is what an external cron trigger calls.
func (w *Worker) Sweep(ctx context.Context) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	var res Result
	err := w.leaser.WithLease(runCtx, sweepLease, func(ctx context.Context) error {
		var err error
		res, err = w.runner.RunOnce(ctx)
		return err
	})
	if errors.Is(err, redisclient.ErrLeaseHeld) {
		w.logger.Debug("another worker is sweeping, skipping")
		return Result{}, nil
	}
	if err != nil {
		w.logger.Error("job sweep failed", zap.Error(err))
		return res, err
	}

	if res.Claimed > 0 {
		w.logger.Info("job sweep complete",
			zap.Int("claimed", res.Claimed),
			zap.Int("sent", res.Sent),
			zap.Int("skipped", res.Skipped),
			zap.Int("retried", res.Retried),
			zap.Int("failed", res.Failed),
			zap.Duration("took", time.Since(start)),
		)
	}
	return res, nil
}

// Run sweeps once at startup and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("job worker started", zap.Duration("interval", w.interval))

	_, _ = w.Sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("job worker stopping")
			return
		case <-ticker.C:
			_, _ = w.Sweep(ctx)
		}
	}
}
