package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saraivavision/clinic-booking/internal/appointment"
	"github.com/saraivavision/clinic-booking/internal/clock"
	"github.com/saraivavision/clinic-booking/internal/slots"
)

// Scheduler turns a committed appointment into persisted notification jobs:
// a confirmation right away and reminders 24h and 1h before the visit.
// Reminders whose time has already passed are not enqueued.
type Scheduler struct {
	store  Store
	clock  clock.Clock
	loc    *time.Location
	logger *zap.Logger
}

func NewScheduler(store Store, clk clock.Clock, loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:  store,
		clock:  clk,
		loc:    loc,
		logger: logger,
	}
}

func (s *Scheduler) ScheduleFor(ctx context.Context, appt *appointment.Appointment) error {
	planned, err := s.Plan(appt)
	if err != nil {
		return err
	}

	n, err := s.store.Enqueue(ctx, planned)
	if err != nil {
		return fmt.Errorf("enqueue notifications for %s: %w", appt.ID, err)
	}

	s.logger.Debug("notification jobs enqueued",
		zap.String("appointment_id", appt.ID.String()),
		zap.Int("count", n),
	)
	return nil
}

// Plan lists the jobs ScheduleFor would enqueue for appt.
func (s *Scheduler) Plan(appt *appointment.Appointment) ([]NewJob, error) {
	start, err := slots.Slot{Date: appt.Date, Time: appt.Time}.Start(s.loc)
	if err != nil {
		return nil, fmt.Errorf("appointment %s start: %w", appt.ID, err)
	}

	now := s.clock.Now()
	planned := []NewJob{{
		Kind:          KindConfirmation,
		AppointmentID: appt.ID,
		RunAt:         now,
	}}

	for _, r := range []struct {
		kind   Kind
		before time.Duration
	}{
		{KindReminder24h, 24 * time.Hour},
		{KindReminder1h, time.Hour},
	} {
		at := start.Add(-r.before)
		if !at.After(now) {
			continue
		}
		planned = append(planned, NewJob{
			Kind:          r.kind,
			AppointmentID: appt.ID,
			RunAt:         at,
		})
	}
	return planned, nil
}
