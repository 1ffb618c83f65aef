package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Active reports whether an appointment in this status holds its slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// CanTransitionTo encodes the lifecycle pending -> confirmed -> cancelled,
// with pending -> cancelled allowed directly. Cancelled is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCancelled
	default:
		return false
	}
}

type Appointment struct {
	ID                 uuid.UUID
	PatientName        string
	PatientEmail       string
	PatientPhone       string
	Date               string // YYYY-MM-DD
	Time               string // HH:MM
	Status             Status
	ConfirmationToken  string
	Notes              string
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ConfirmedAt        *time.Time
	CancelledAt        *time.Time
}

// NewAppointment carries the fields the booking service fills in before insert.
type NewAppointment struct {
	PatientName       string
	PatientEmail      string
	PatientPhone      string
	Date              string
	Time              string
	Notes             string
	ConfirmationToken string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
