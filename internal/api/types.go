package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/saraivavision/clinic-booking/internal/appointment"
	"github.com/saraivavision/clinic-booking/internal/availability"
	"github.com/saraivavision/clinic-booking/internal/booking"
	"github.com/saraivavision/clinic-booking/internal/slots"
)

const (
	ActionBook              = "book"
	ActionCheckAvailability = "check_availability"
)

// actionEnvelope is decoded first to pick the request type for POST /api/appointments.
type actionEnvelope struct {
	Action string `json:"action"`
}

type BookRequest struct {
	PatientName  string `json:"patient_name"`
	PatientEmail string `json:"patient_email"`
	PatientPhone string `json:"patient_phone"`
	Date         string `json:"appointment_date"`
	Time         string `json:"appointment_time"`
	Notes        string `json:"notes,omitempty"`
}

func (r BookRequest) toBooking() booking.BookingRequest {
	return booking.BookingRequest{
		PatientName:  r.PatientName,
		PatientEmail: r.PatientEmail,
		PatientPhone: r.PatientPhone,
		Date:         r.Date,
		Time:         r.Time,
		Notes:        r.Notes,
	}
}

type CheckAvailabilityRequest struct {
	Date string `json:"appointment_date"`
	Time string `json:"appointment_time"`
}

type TokenRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason,omitempty"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientName        string     `json:"patient_name"`
	PatientEmail       string     `json:"patient_email"`
	PatientPhone       string     `json:"patient_phone"`
	Date               string     `json:"appointment_date"`
	Time               string     `json:"appointment_time"`
	Status             string     `json:"status"`
	ConfirmationToken  string     `json:"confirmation_token,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

// toAppointmentResponse renders appt. The confirmation token is only handed
// out when withToken is set, i.e. to the patient who just booked.
func toAppointmentResponse(appt *appointment.Appointment, withToken bool) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                 appt.ID,
		PatientName:        appt.PatientName,
		PatientEmail:       appt.PatientEmail,
		PatientPhone:       appt.PatientPhone,
		Date:               appt.Date,
		Time:               appt.Time,
		Status:             string(appt.Status),
		Notes:              appt.Notes,
		CancellationReason: appt.CancellationReason,
		CreatedAt:          appt.CreatedAt,
		ConfirmedAt:        appt.ConfirmedAt,
		CancelledAt:        appt.CancelledAt,
	}
	if withToken {
		resp.ConfirmationToken = appt.ConfirmationToken
	}
	return resp
}

type CheckAvailabilityResponse struct {
	Available bool   `json:"available"`
	Date      string `json:"appointment_date"`
	Time      string `json:"appointment_time"`
}

type SlotResponse struct {
	Time string `json:"time"`
}

type DayResponse struct {
	Date  string         `json:"date"`
	Slots []SlotResponse `json:"slots"`
}

type AvailabilitySummary struct {
	TotalDates int `json:"totalDates"`
	TotalSlots int `json:"totalSlots"`
}

type AvailabilityResponse struct {
	Availability []DayResponse       `json:"availability"`
	Summary      AvailabilitySummary `json:"summary"`
}

func toAvailabilityResponse(days []availability.DayAvailability) AvailabilityResponse {
	resp := AvailabilityResponse{Availability: make([]DayResponse, 0, len(days))}
	for _, d := range days {
		day := DayResponse{Date: d.Date, Slots: make([]SlotResponse, 0, len(d.Slots))}
		for _, s := range d.Slots {
			day.Slots = append(day.Slots, SlotResponse{Time: s.Time})
		}
		resp.Availability = append(resp.Availability, day)
		resp.Summary.TotalSlots += len(day.Slots)
	}
	resp.Summary.TotalDates = len(resp.Availability)
	return resp
}

type AlternativeSlot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func toAlternatives(in []slots.Slot) []AlternativeSlot {
	out := make([]AlternativeSlot, 0, len(in))
	for _, s := range in {
		out = append(out, AlternativeSlot{Date: s.Date, Time: s.Time})
	}
	return out
}

type ErrorBody struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Fields  []booking.FieldError `json:"fields,omitempty"`
}

type ErrorResponse struct {
	Success           bool              `json:"success"`
	Error             ErrorBody         `json:"error"`
	AlternativeSlots  []AlternativeSlot `json:"alternativeSlots,omitempty"`
	WaitlistAvailable *bool             `json:"waitlistAvailable,omitempty"`
}
