package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrJobNotFound = errors.New("job not found")

// Store persists notification jobs. Enqueue ignores a job whose
// (appointment, kind) pair already exists.
type Store interface {
	Enqueue(ctx context.Context, jobs []NewJob) (int, error)

	// ClaimDue marks up to limit due jobs as running until lockUntil and
	// returns them. A running job whose lock has expired is due again, so
	// work held by a crashed worker is picked up by the next sweep.
	ClaimDue(ctx context.Context, now, lockUntil time.Time, limit int) ([]Job, error)

	Complete(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error
	Fail(ctx context.Context, id uuid.UUID, lastErr string) error
}
