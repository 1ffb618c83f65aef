package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps appointments in process memory. The uniqueness rule
// is enforced inside the store, so it behaves like the Postgres partial index
// for a single process. It backs local development and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Appointment
	active map[string]uuid.UUID // "date time" -> id
	events []EventLog
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[uuid.UUID]*Appointment),
		active: make(map[string]uuid.UUID),
		now:    time.Now,
	}
}

func slotKey(date, t string) string {
	return date + " " + t
}

func (r *MemoryRepository) BookedTimes(ctx context.Context, date string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var times []string
	for _, a := range r.byID {
		if a.Date == date && a.Status.Active() {
			times = append(times, a.Time)
		}
	}
	sort.Strings(times)
	return times, nil
}

func (r *MemoryRepository) Create(ctx context.Context, in NewAppointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotKey(in.Date, in.Time)
	if _, taken := r.active[key]; taken {
		return nil, ErrSlotTaken
	}

	now := r.now()
	a := &Appointment{
		ID:                uuid.New(),
		PatientName:       in.PatientName,
		PatientEmail:      in.PatientEmail,
		PatientPhone:      in.PatientPhone,
		Date:              in.Date,
		Time:              in.Time,
		Status:            StatusPending,
		ConfirmationToken: in.ConfirmationToken,
		Notes:             in.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	r.byID[a.ID] = a
	r.active[key] = a.ID

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) GetByToken(ctx context.Context, token string) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.byID {
		if a.ConfirmationToken == token {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	now := r.now()
	a.Status = to
	a.UpdatedAt = now

	switch to {
	case StatusConfirmed:
		a.ConfirmedAt = &now
	case StatusCancelled:
		a.CancelledAt = &now
		a.CancellationReason = reason
		delete(r.active, slotKey(a.Date, a.Time))
	}

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}
