package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Enqueue(ctx context.Context, jobs []NewJob) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, j := range jobs {
		batch.Queue(`
			INSERT INTO jobs (id, kind, appointment_id, run_at, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'queued', now(), now())
			ON CONFLICT (appointment_id, kind) DO NOTHING
		`, uuid.New(), string(j.Kind), j.AppointmentID, j.RunAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range jobs {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("enqueue job: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PgStore) ClaimDue(ctx context.Context, now, lockUntil time.Time, limit int) ([]Job, error) {
	// SKIP LOCKED lets concurrent workers claim disjoint batches.
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs
		SET status = 'running',
		    attempts = attempts + 1,
		    locked_until = $2,
		    updated_at = now()
		WHERE id IN (
			SELECT id
			FROM jobs
			WHERE (status = 'queued' AND run_at <= $1)
			   OR (status = 'running' AND locked_until <= $1)
			ORDER BY run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, appointment_id, run_at, status, attempts,
		          last_error, locked_until, created_at, updated_at
	`, now, lockUntil, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(
			&j.ID,
			&j.Kind,
			&j.AppointmentID,
			&j.RunAt,
			&j.Status,
			&j.Attempts,
			&j.LastError,
			&j.LockedUntil,
			&j.CreatedAt,
			&j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgStore) Complete(ctx context.Context, id uuid.UUID) error {
	return s.finish(ctx, `
		UPDATE jobs
		SET status = 'done', locked_until = NULL, updated_at = now()
		WHERE id = $1
	`, id)
}

func (s *PgStore) Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error {
	return s.finish(ctx, `
		UPDATE jobs
		SET status = 'queued', run_at = $2, last_error = $3, locked_until = NULL, updated_at = now()
		WHERE id = $1
	`, id, runAt, lastErr)
}

func (s *PgStore) Fail(ctx context.Context, id uuid.UUID, lastErr string) error {
	return s.finish(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = $2, locked_until = NULL, updated_at = now()
		WHERE id = $1
	`, id, lastErr)
}

func (s *PgStore) finish(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}
