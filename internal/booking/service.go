package booking

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saraivavision/clinic-booking/internal/appointment"
	"github.com/saraivavision/clinic-booking/internal/availability"
	"github.com/saraivavision/clinic-booking/internal/clock"
	"github.com/saraivavision/clinic-booking/internal/slots"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

const internalMessage = "an internal error occurred, please try again later"

type BookingRequest struct {
	PatientName  string `field:"patient_name" validate:"required,min=2,max=120"`
	PatientEmail string `field:"patient_email" validate:"required,email,max=254"`
	PatientPhone string `field:"patient_phone" validate:"required,phone"`
	Date         string `field:"appointment_date" validate:"required,datetime=2006-01-02"`
	Time         string `field:"appointment_time" validate:"required,datetime=15:04"`
	Notes        string `field:"notes" validate:"max=1000"`
}

// NotificationScheduler arranges the confirmation message and the reminders
// of a committed appointment.
type NotificationScheduler interface {
	ScheduleFor(ctx context.Context, appt *appointment.Appointment) error
}

type AlternativesScope string

const (
	ScopeSameDay  AlternativesScope = "same_day"
	ScopeMultiDay AlternativesScope = "multi_day"
)

type Config struct {
	StoreTimeout              time.Duration
	AlternativesScope         AlternativesScope
	AlternativesLimit         int
	AlternativesLookaheadDays int
	WaitlistEnabled           bool
}

type Service struct {
	repo      appointment.Repository
	filter    *availability.Filter
	clock     clock.Clock
	validator Validator
	notifier  NotificationScheduler
	cfg       Config
	logger    *zap.Logger
	newToken  func() string
}

func NewService(
	repo appointment.Repository,
	filter *availability.Filter,
	clk clock.Clock,
	validator Validator,
	notifier NotificationScheduler,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.AlternativesLimit <= 0 {
		cfg.AlternativesLimit = 3
	}
	if cfg.AlternativesScope == "" {
		cfg.AlternativesScope = ScopeSameDay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		filter:    filter,
		clock:     clk,
		validator: validator,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		newToken:  newConfirmationToken,
	}
}

func newConfirmationToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Book validates req and commits a pending appointment. Two concurrent
// bookings of one slot are settled by the store's uniqueness rule; the loser
// gets SLOT_UNAVAILABLE with alternatives.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*appointment.Appointment, error) {
	req = normalize(req)

	if fields := s.validator.ValidateBooking(req); len(fields) > 0 {
		return nil, &Error{
			Code:    CodeValidation,
			Message: "the booking request has invalid fields",
			Fields:  fields,
		}
	}

	if res := s.filter.ValidateAppointmentDateTime(req.Date, req.Time); !res.IsValid {
		return nil, &Error{Code: CodeInvalidDateTime, Message: res.Error}
	}

	// Re-check against the store right before the insert. This narrows the
	// race window; the unique index closes it.
	available, err := s.filter.IsSlotAvailable(ctx, req.Date, req.Time, availability.WithoutCache())
	if err != nil {
		return nil, s.internal("availability re-check failed", err,
			zap.String("date", req.Date), zap.String("time", req.Time))
	}
	if !available {
		return nil, s.unavailable(ctx, req.Date, req.Time)
	}

	var appt *appointment.Appointment
	err = s.withStore(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.repo.Create(ctx, appointment.NewAppointment{
			PatientName:       req.PatientName,
			PatientEmail:      req.PatientEmail,
			PatientPhone:      req.PatientPhone,
			Date:              req.Date,
			Time:              req.Time,
			Notes:             req.Notes,
			ConfirmationToken: s.newToken(),
		})
		return err
	})
	if errors.Is(err, appointment.ErrSlotTaken) {
		return nil, s.unavailable(ctx, req.Date, req.Time)
	}
	if err != nil {
		return nil, s.internal("insert appointment failed", err,
			zap.String("date", req.Date), zap.String("time", req.Time))
	}

	s.filter.Invalidate(ctx, appt.Date)

	s.logEvent(ctx, appt.ID, EventAppointmentBooked, map[string]any{
		"date": appt.Date,
		"time": appt.Time,
	})

	if s.notifier != nil {
		if err := s.notifier.ScheduleFor(ctx, appt); err != nil {
			s.logger.Error("failed to schedule notifications",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("date", appt.Date),
		zap.String("time", appt.Time),
	)

	return appt, nil
}

// CheckAvailability answers the check_availability action. It may be served
// from the availability cache.
func (s *Service) CheckAvailability(ctx context.Context, date, t string) (bool, error) {
	if res := s.filter.ValidateAppointmentDateTime(date, t); !res.IsValid {
		return false, &Error{Code: CodeInvalidDateTime, Message: res.Error}
	}

	ok, err := s.filter.IsSlotAvailable(ctx, date, t)
	if err != nil {
		return false, s.internal("availability check failed", err,
			zap.String("date", date), zap.String("time", t))
	}
	return ok, nil
}

// Confirm moves the appointment holding token to confirmed. Confirming twice
// is not an error.
func (s *Service) Confirm(ctx context.Context, token string) (*appointment.Appointment, error) {
	appt, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if appt.Status == appointment.StatusConfirmed {
		return appt, nil
	}

	updated, err := s.transition(ctx, appt, appointment.StatusConfirmed, "")
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{})
	return updated, nil
}

// Cancel releases the slot held by token. Cancelling twice is not an error.
func (s *Service) Cancel(ctx context.Context, token, reason string) (*appointment.Appointment, error) {
	appt, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if appt.Status == appointment.StatusCancelled {
		return appt, nil
	}

	updated, err := s.transition(ctx, appt, appointment.StatusCancelled, strings.TrimSpace(reason))
	if err != nil {
		return nil, err
	}

	s.filter.Invalidate(ctx, updated.Date)
	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"reason": updated.CancellationReason,
	})

	s.logger.Info("appointment cancelled",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("date", updated.Date),
		zap.String("time", updated.Time),
	)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	var appt *appointment.Appointment
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.repo.GetByID(ctx, id)
		return err
	})
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return nil, &Error{Code: CodeNotFound, Message: "appointment not found", Err: err}
	}
	if err != nil {
		return nil, s.internal("load appointment failed", err, zap.String("appointment_id", id.String()))
	}
	return appt, nil
}

// Alternatives lists open slots near (date, t), closest first. With the
// multi_day scope the following days are searched once the day runs out.
func (s *Service) Alternatives(ctx context.Context, date, t string) ([]slots.Slot, error) {
	limit := s.cfg.AlternativesLimit
	requested, err := slots.ParseTime(t)
	if err != nil {
		return nil, err
	}

	available, err := s.filter.GetAvailableSlots(ctx, date, availability.UpcomingOnly(), availability.WithoutCache())
	if err != nil {
		return nil, err
	}
	sameDay := make([]slots.Slot, 0, len(available))
	for _, sl := range available {
		if sl.Time != t {
			sameDay = append(sameDay, sl)
		}
	}

	out := make([]slots.Slot, 0, limit)
	out = appendClosest(out, sameDay, requested, limit)

	if s.cfg.AlternativesScope != ScopeMultiDay || len(out) >= limit || s.cfg.AlternativesLookaheadDays <= 0 {
		return out, nil
	}

	day, err := slots.ParseDate(date, s.filter.Location())
	if err != nil {
		return nil, err
	}
	next := make([]string, 0, s.cfg.AlternativesLookaheadDays)
	for i := 1; i <= s.cfg.AlternativesLookaheadDays; i++ {
		next = append(next, day.AddDate(0, 0, i).Format(slots.DateLayout))
	}

	days, err := s.filter.GetAvailableSlotsForDates(ctx, next, availability.UpcomingOnly())
	if err != nil {
		return nil, err
	}
	for _, d := range days {
		if len(out) >= limit {
			break
		}
		out = appendClosest(out, d.Slots, requested, limit)
	}
	return out, nil
}

// appendClosest appends candidates ordered by distance from minute until out
// holds limit entries. Ties keep chronological order.
func appendClosest(out, candidates []slots.Slot, minute, limit int) []slots.Slot {
	sorted := make([]slots.Slot, len(candidates))
	copy(sorted, candidates)

	dist := func(s slots.Slot) int {
		m, _ := slots.ParseTime(s.Time)
		if m < minute {
			return minute - m
		}
		return m - minute
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return dist(sorted[i]) < dist(sorted[j])
	})

	for _, sl := range sorted {
		if len(out) >= limit {
			break
		}
		out = append(out, sl)
	}
	return out
}

func (s *Service) unavailable(ctx context.Context, date, t string) *Error {
	alts, err := s.Alternatives(ctx, date, t)
	if err != nil {
		s.logger.Warn("could not compute alternative slots",
			zap.String("date", date),
			zap.String("time", t),
			zap.Error(err),
		)
		alts = nil
	}

	return &Error{
		Code:              CodeSlotUnavailable,
		Message:           "the requested time is no longer available",
		Alternatives:      alts,
		WaitlistAvailable: s.cfg.WaitlistEnabled,
	}
}

func (s *Service) byToken(ctx context.Context, token string) (*appointment.Appointment, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &Error{
			Code:    CodeValidation,
			Message: "confirmation token is required",
			Fields:  []FieldError{{Field: "token", Message: "is required"}},
		}
	}

	var appt *appointment.Appointment
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.repo.GetByToken(ctx, token)
		return err
	})
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return nil, &Error{Code: CodeNotFound, Message: "appointment not found", Err: err}
	}
	if err != nil {
		return nil, s.internal("load appointment by token failed", err)
	}
	return appt, nil
}

func (s *Service) transition(ctx context.Context, appt *appointment.Appointment, to appointment.Status, reason string) (*appointment.Appointment, error) {
	if !appt.Status.CanTransitionTo(to) {
		return nil, &Error{
			Code:    CodeInvalidTransition,
			Message: "appointment is " + string(appt.Status) + " and cannot become " + string(to),
			Err:     appointment.ErrInvalidStatusTransition,
		}
	}

	var updated *appointment.Appointment
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.repo.UpdateStatus(ctx, appt.ID, appt.Status, to, reason)
		return err
	})
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		// the row changed status between our read and the update
		return nil, &Error{
			Code:    CodeInvalidTransition,
			Message: "appointment was modified concurrently, please retry",
			Err:     appointment.ErrInvalidStatusTransition,
		}
	}
	if err != nil {
		return nil, s.internal("update appointment status failed", err,
			zap.String("appointment_id", appt.ID.String()),
			zap.String("to", string(to)),
		)
	}
	return updated, nil
}

// withStore bounds a single store call by StoreTimeout.
func (s *Service) withStore(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.cfg.StoreTimeout <= 0 {
		return fn(ctx)
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return fn(storeCtx)
}

func (s *Service) internal(msg string, err error, fields ...zap.Field) *Error {
	s.logger.Error(msg, append(fields, zap.Error(err))...)
	return &Error{Code: CodeInternal, Message: internalMessage, Err: err}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID
	ev := appointment.EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	err = s.withStore(ctx, func(ctx context.Context) error {
		return s.repo.InsertEvent(ctx, ev)
	})
	if err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}
