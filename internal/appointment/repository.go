package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrSlotTaken               = errors.New("slot already has an active appointment")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// Repository is the persistent appointment store. Implementations must
// enforce that at most one pending or confirmed appointment exists per
// (date, time) and report a violation as ErrSlotTaken.
type Repository interface {
	// BookedTimes lists HH:MM start times held by active appointments on date.
	BookedTimes(ctx context.Context, date string) ([]string, error)

	Create(ctx context.Context, in NewAppointment) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByToken(ctx context.Context, token string) (*Appointment, error)

	// UpdateStatus moves id from -> to. It returns ErrAppointmentNotFound when
	// no appointment with that id is currently in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
