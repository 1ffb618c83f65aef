package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saraivavision/clinic-booking/internal/appointment"
	"github.com/saraivavision/clinic-booking/internal/availability"
	"github.com/saraivavision/clinic-booking/internal/booking"
	"github.com/saraivavision/clinic-booking/internal/slots"
)

const maxBodyBytes = 64 << 10

type BookingService interface {
	Book(ctx context.Context, req booking.BookingRequest) (*appointment.Appointment, error)
	CheckAvailability(ctx context.Context, date, t string) (bool, error)
	Confirm(ctx context.Context, token string) (*appointment.Appointment, error)
	Cancel(ctx context.Context, token, reason string) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type AvailabilityReader interface {
	GetAvailableSlotsForNextDays(ctx context.Context, n int, opts ...availability.LookupOption) ([]availability.DayAvailability, error)
	GetAvailableSlotsForDates(ctx context.Context, dates []string, opts ...availability.LookupOption) ([]availability.DayAvailability, error)
}

type handlers struct {
	svc         BookingService
	filter      AvailabilityReader
	defaultDays int
	maxDays     int
	logger      *zap.Logger
}

// timeBuckets maps a timePreferences value to the [from, to) minute range it covers.
var timeBuckets = map[string][2]int{
	"morning":   {0, 12 * 60},
	"afternoon": {12 * 60, 18 * 60},
	"evening":   {18 * 60, 24 * 60},
}

func (h *handlers) availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	days := h.defaultDays
	if raw := q.Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > h.maxDays {
			writeFieldError(w, "days", "must be a whole number between 1 and "+strconv.Itoa(h.maxDays))
			return
		}
		days = n
	}

	var buckets []string
	for _, b := range splitList(q.Get("timePreferences")) {
		b = strings.ToLower(b)
		if _, ok := timeBuckets[b]; !ok {
			writeFieldError(w, "timePreferences", "unknown time preference "+strconv.Quote(b)+", use morning, afternoon or evening")
			return
		}
		buckets = append(buckets, b)
	}

	var (
		result []availability.DayAvailability
		err    error
	)
	if preferred := splitList(q.Get("preferredDates")); len(preferred) > 0 {
		if len(preferred) > h.maxDays {
			writeFieldError(w, "preferredDates", "at most "+strconv.Itoa(h.maxDays)+" dates may be requested")
			return
		}
		for _, d := range preferred {
			if _, perr := slots.ParseDate(d, time.UTC); perr != nil {
				writeFieldError(w, "preferredDates", "dates must use the format YYYY-MM-DD")
				return
			}
		}
		result, err = h.filter.GetAvailableSlotsForDates(r.Context(), preferred, availability.UpcomingOnly())
	} else {
		result, err = h.filter.GetAvailableSlotsForNextDays(r.Context(), days, availability.UpcomingOnly())
	}
	if err != nil {
		h.logger.Error("availability lookup failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, booking.CodeInternal, "availability could not be determined, please try again later")
		return
	}

	if len(buckets) > 0 {
		result = filterBuckets(result, buckets)
	}

	writeData(w, http.StatusOK, toAvailabilityResponse(result))
}

func filterBuckets(days []availability.DayAvailability, buckets []string) []availability.DayAvailability {
	out := make([]availability.DayAvailability, 0, len(days))
	for _, d := range days {
		kept := make([]slots.Slot, 0, len(d.Slots))
		for _, s := range d.Slots {
			m, err := slots.ParseTime(s.Time)
			if err != nil {
				continue
			}
			for _, b := range buckets {
				rng := timeBuckets[b]
				if m >= rng[0] && m < rng[1] {
					kept = append(kept, s)
					break
				}
			}
		}
		out = append(out, availability.DayAvailability{Date: d.Date, Slots: kept})
	}
	return out
}

// appointmentAction dispatches POST /api/appointments on the body's action field.
func (h *handlers) appointmentAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, booking.CodeValidation, "request body could not be read")
		return
	}

	var env actionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, booking.CodeValidation, "could not parse JSON")
		return
	}

	switch env.Action {
	case ActionBook:
		var req BookRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, booking.CodeValidation, "could not parse JSON")
			return
		}
		h.book(w, r, req)
	case ActionCheckAvailability:
		var req CheckAvailabilityRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, booking.CodeValidation, "could not parse JSON")
			return
		}
		h.checkAvailability(w, r, req)
	default:
		writeError(w, http.StatusBadRequest, booking.CodeInvalidAction,
			"unknown action "+strconv.Quote(env.Action)+", expected book or check_availability")
	}
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request, req BookRequest) {
	appt, err := h.svc.Book(r.Context(), req.toBooking())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, SuccessResponse{
		Success: true,
		Data:    toAppointmentResponse(appt, true),
		Message: "appointment booked, keep your confirmation token to confirm or cancel",
	})
}

func (h *handlers) checkAvailability(w http.ResponseWriter, r *http.Request, req CheckAvailabilityRequest) {
	date, t := strings.TrimSpace(req.Date), strings.TrimSpace(req.Time)
	if date == "" || t == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: ErrorBody{
				Code:    string(booking.CodeValidation),
				Message: "appointment_date and appointment_time are required",
				Fields: []booking.FieldError{
					{Field: "appointment_date", Message: "is required"},
					{Field: "appointment_time", Message: "is required"},
				},
			},
		})
		return
	}

	ok, err := h.svc.CheckAvailability(r.Context(), date, t)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, CheckAvailabilityResponse{Available: ok, Date: date, Time: t})
}

func (h *handlers) confirm(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTokenRequest(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.Confirm(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, toAppointmentResponse(appt, false))
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTokenRequest(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.Cancel(r.Context(), req.Token, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, toAppointmentResponse(appt, false))
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeFieldError(w, "id", "must be a valid UUID")
		return
	}

	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, toAppointmentResponse(appt, false))
}

func decodeTokenRequest(w http.ResponseWriter, r *http.Request) (TokenRequest, bool) {
	var req TokenRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, booking.CodeValidation, "could not parse JSON")
		return TokenRequest{}, false
	}
	return req, true
}

func writeFieldError(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: ErrorBody{
			Code:    string(booking.CodeValidation),
			Message: "invalid request parameters",
			Fields:  []booking.FieldError{{Field: field, Message: message}},
		},
	})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
