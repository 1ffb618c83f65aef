package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps jobs in process memory for local runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	keys map[string]uuid.UUID // appointment id + kind
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*Job),
		keys: make(map[string]uuid.UUID),
		now:  time.Now,
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, jobs []NewJob) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, nj := range jobs {
		key := nj.AppointmentID.String() + "/" + string(nj.Kind)
		if _, dup := s.keys[key]; dup {
			continue
		}
		now := s.now()
		j := &Job{
			ID:            uuid.New(),
			Kind:          nj.Kind,
			AppointmentID: nj.AppointmentID,
			RunAt:         nj.RunAt,
			Status:        StatusQueued,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		s.jobs[j.ID] = j
		s.keys[key] = j.ID
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) ClaimDue(ctx context.Context, now, lockUntil time.Time, limit int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	for _, j := range s.jobs {
		switch {
		case j.Status == StatusQueued && !j.RunAt.After(now):
			due = append(due, j)
		case j.Status == StatusRunning && j.LockedUntil != nil && !j.LockedUntil.After(now):
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]Job, 0, len(due))
	for _, j := range due {
		lock := lockUntil
		j.Status = StatusRunning
		j.Attempts++
		j.LockedUntil = &lock
		j.UpdatedAt = s.now()
		out = append(out, *j)
	}
	return out, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, id, func(j *Job) {
		j.Status = StatusDone
	})
}

func (s *MemoryStore) Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error {
	return s.update(ctx, id, func(j *Job) {
		j.Status = StatusQueued
		j.RunAt = runAt
		j.LastError = lastErr
	})
}

func (s *MemoryStore) Fail(ctx context.Context, id uuid.UUID, lastErr string) error {
	return s.update(ctx, id, func(j *Job) {
		j.Status = StatusFailed
		j.LastError = lastErr
	})
}

func (s *MemoryStore) update(ctx context.Context, id uuid.UUID, fn func(j *Job)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(j)
	j.LockedUntil = nil
	j.UpdatedAt = s.now()
	return nil
}

// Jobs returns a snapshot ordered by run time.
func (s *MemoryStore) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RunAt.Before(out[b].RunAt) })
	return out
}
