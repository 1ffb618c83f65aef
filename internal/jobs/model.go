package jobs

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindConfirmation Kind = "appointment_confirmation"
	KindReminder24h  Kind = "appointment_reminder_24h"
	KindReminder1h   Kind = "appointment_reminder_1h"
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

type Job struct {
	ID            uuid.UUID
	Kind          Kind
	AppointmentID uuid.UUID
	RunAt         time.Time
	Status        Status
	Attempts      int // incremented on every claim
	LastError     string
	LockedUntil   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type NewJob struct {
	Kind          Kind
	AppointmentID uuid.UUID
	RunAt         time.Time
}
