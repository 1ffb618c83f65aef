package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saraivavision/clinic-booking/internal/appointment"
	"github.com/saraivavision/clinic-booking/internal/availability"
	"github.com/saraivavision/clinic-booking/internal/clock"
	"github.com/saraivavision/clinic-booking/internal/slots"
)

var sundayNoon = time.Date(2024, 1, 14, 12, 0, 0, 0, time.UTC)

type recordingScheduler struct {
	mu     sync.Mutex
	booked []uuid.UUID
	err    error
}

func (r *recordingScheduler) ScheduleFor(_ context.Context, appt *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.booked = append(r.booked, appt.ID)
	return r.err
}

// faultyRepo lets a test replace single repository calls.
type faultyRepo struct {
	appointment.Repository
	create      func(ctx context.Context, in appointment.NewAppointment) (*appointment.Appointment, error)
	bookedTimes func(ctx context.Context, date string) ([]string, error)
}

func (r *faultyRepo) Create(ctx context.Context, in appointment.NewAppointment) (*appointment.Appointment, error) {
	if r.create != nil {
		return r.create(ctx, in)
	}
	return r.Repository.Create(ctx, in)
}

func (r *faultyRepo) BookedTimes(ctx context.Context, date string) ([]string, error) {
	if r.bookedTimes != nil {
		return r.bookedTimes(ctx, date)
	}
	return r.Repository.BookedTimes(ctx, date)
}

type fixture struct {
	repo     appointment.Repository
	mem      *appointment.MemoryRepository
	notifier *recordingScheduler
	svc      *Service
}

func newFixture(t *testing.T, cfg Config, wrap func(*appointment.MemoryRepository) appointment.Repository) *fixture {
	t.Helper()
	mem := appointment.NewMemoryRepository()
	var repo appointment.Repository = mem
	if wrap != nil {
		repo = wrap(mem)
	}
	clk := clock.NewFixed(sundayNoon)
	filter := availability.NewFilter(repo, slots.DefaultTemplate(), clk, availability.Options{}, nil)
	notifier := &recordingScheduler{}
	return &fixture{
		repo:     repo,
		mem:      mem,
		notifier: notifier,
		svc:      NewService(repo, filter, clk, NewValidator(), notifier, cfg, nil),
	}
}

func validRequest(date, tm string) BookingRequest {
	return BookingRequest{
		PatientName:  "João da Silva",
		PatientEmail: "joao@example.com",
		PatientPhone: "+55 (33) 99876-5432",
		Date:         date,
		Time:         tm,
		Notes:        "primeira consulta",
	}
}

func requireCode(t *testing.T, err error, code Code) *Error {
	t.Helper()
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, code, be.Code, be.Error())
	return be
}

func TestBookSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{WaitlistEnabled: true}, nil)

	appt, err := f.svc.Book(ctx, validRequest("2024-01-15", "09:00"))
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusPending, appt.Status)
	assert.Equal(t, "2024-01-15", appt.Date)
	assert.Equal(t, "09:00", appt.Time)
	assert.Len(t, appt.ConfirmationToken, 32)
	assert.Equal(t, []uuid.UUID{appt.ID}, f.notifier.booked)

	events := f.mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentBooked, events[0].EventType)
	assert.True(t, events[0].CreatedAt.Equal(sundayNoon), "event time comes from the service clock")
}

func TestBookNormalizesInput(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	req := validRequest("2024-01-15", "10:00")
	req.PatientName = "  João   da  Silva "
	req.PatientEmail = " JOAO@Example.com "

	appt, err := f.svc.Book(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "João da Silva", appt.PatientName)
	assert.Equal(t, "joao@example.com", appt.PatientEmail)
}

func TestBookValidationError(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	_, err := f.svc.Book(context.Background(), BookingRequest{
		PatientName:  "J",
		PatientEmail: "not-an-email",
		PatientPhone: "123",
		Date:         "15/01/2024",
		Time:         "",
	})
	be := requireCode(t, err, CodeValidation)

	fields := map[string]bool{}
	for _, fe := range be.Fields {
		fields[fe.Field] = true
		assert.NotEmpty(t, fe.Message)
	}
	for _, name := range []string{"patient_name", "patient_email", "patient_phone", "appointment_date", "appointment_time"} {
		assert.True(t, fields[name], "expected violation for %s", name)
	}
	assert.Empty(t, f.notifier.booked)
}

func TestBookInvalidDateTime(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	cases := map[string]BookingRequest{
		"past":           validRequest("2024-01-10", "09:00"),
		"closed weekday": validRequest("2024-01-20", "09:00"),
		"off template":   validRequest("2024-01-15", "19:00"),
		"off grid":       validRequest("2024-01-15", "09:10"),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Book(context.Background(), req)
			be := requireCode(t, err, CodeInvalidDateTime)
			assert.NotEmpty(t, be.Message)
		})
	}
}

func TestBookConflictReturnsAlternatives(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{WaitlistEnabled: true, AlternativesLimit: 3}, nil)

	_, err := f.svc.Book(ctx, validRequest("2024-01-15", "09:00"))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, validRequest("2024-01-15", "09:00"))
	be := requireCode(t, err, CodeSlotUnavailable)

	assert.True(t, be.WaitlistAvailable)
	require.Len(t, be.Alternatives, 3)
	assert.Equal(t, "08:30", be.Alternatives[0].Time)
	assert.Equal(t, "09:30", be.Alternatives[1].Time)
	for _, alt := range be.Alternatives {
		assert.Equal(t, "2024-01-15", alt.Date)
		assert.NotEqual(t, "09:00", alt.Time)
	}
}

func TestAlternativesScope(t *testing.T) {
	ctx := context.Background()

	fill := func(t *testing.T, f *fixture, date string) {
		for _, s := range slots.DefaultTemplate().Generate(mustDate(t, date)) {
			_, err := f.mem.Create(ctx, appointment.NewAppointment{
				PatientName: "x", Date: s.Date, Time: s.Time, ConfirmationToken: uuid.NewString(),
			})
			require.NoError(t, err)
		}
	}

	t.Run("same day only", func(t *testing.T) {
		f := newFixture(t, Config{AlternativesScope: ScopeSameDay, AlternativesLimit: 2, AlternativesLookaheadDays: 5}, nil)
		fill(t, f, "2024-01-15")

		_, err := f.svc.Book(ctx, validRequest("2024-01-15", "09:00"))
		be := requireCode(t, err, CodeSlotUnavailable)
		assert.Empty(t, be.Alternatives)
		assert.False(t, be.WaitlistAvailable)
	})

	t.Run("multi day", func(t *testing.T) {
		f := newFixture(t, Config{AlternativesScope: ScopeMultiDay, AlternativesLimit: 2, AlternativesLookaheadDays: 5}, nil)
		fill(t, f, "2024-01-15")

		_, err := f.svc.Book(ctx, validRequest("2024-01-15", "09:00"))
		be := requireCode(t, err, CodeSlotUnavailable)
		require.Len(t, be.Alternatives, 2)
		assert.Equal(t, "2024-01-16", be.Alternatives[0].Date)
		assert.Equal(t, "09:00", be.Alternatives[0].Time)
	})
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := slots.ParseDate(s, time.UTC)
	require.NoError(t, err)
	return d
}

func TestConcurrentBookingsSameSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{WaitlistEnabled: true}, nil)

	const n = 25
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Book(ctx, validRequest("2024-01-15", "09:00"))
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded, conflicted := 0, 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if CodeOf(err) == CodeSlotUnavailable {
			conflicted++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicted)

	booked, err := f.mem.BookedTimes(ctx, "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00"}, booked)
}

func TestConcurrentBookingsDifferentSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)

	times := []string{"08:00", "08:30", "09:00", "09:30", "10:00", "10:30"}
	var wg sync.WaitGroup
	errs := make([]error, len(times))
	for i, tm := range times {
		wg.Add(1)
		go func(i int, tm string) {
			defer wg.Done()
			_, errs[i] = f.svc.Book(ctx, validRequest("2024-01-15", tm))
		}(i, tm)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestRaceLostAtInsertIsSlotUnavailable(t *testing.T) {
	// The pre-commit check sees a free slot, the insert then loses the race.
	f := newFixture(t, Config{WaitlistEnabled: true}, func(mem *appointment.MemoryRepository) appointment.Repository {
		return &faultyRepo{
			Repository: mem,
			create: func(context.Context, appointment.NewAppointment) (*appointment.Appointment, error) {
				return nil, appointment.ErrSlotTaken
			},
		}
	})

	_, err := f.svc.Book(context.Background(), validRequest("2024-01-15", "11:00"))
	be := requireCode(t, err, CodeSlotUnavailable)
	assert.NotEmpty(t, be.Alternatives)
	assert.True(t, be.WaitlistAvailable)
}

func TestStoreFailureIsInternal(t *testing.T) {
	cause := errors.New("pq: connection reset")
	f := newFixture(t, Config{}, func(mem *appointment.MemoryRepository) appointment.Repository {
		return &faultyRepo{
			Repository: mem,
			create: func(context.Context, appointment.NewAppointment) (*appointment.Appointment, error) {
				return nil, cause
			},
		}
	})

	_, err := f.svc.Book(context.Background(), validRequest("2024-01-15", "11:00"))
	be := requireCode(t, err, CodeInternal)
	assert.ErrorIs(t, err, cause)
	assert.NotContains(t, be.Message, "pq")
	assert.Empty(t, f.notifier.booked)
}

func TestAvailabilityReadFailureIsInternal(t *testing.T) {
	f := newFixture(t, Config{}, func(mem *appointment.MemoryRepository) appointment.Repository {
		return &faultyRepo{
			Repository: mem,
			bookedTimes: func(context.Context, string) ([]string, error) {
				return nil, errors.New("timeout")
			},
		}
	})

	_, err := f.svc.Book(context.Background(), validRequest("2024-01-15", "11:00"))
	requireCode(t, err, CodeInternal)
	assert.ErrorIs(t, err, availability.ErrAvailabilityUnknown)

	_, err = f.svc.CheckAvailability(context.Background(), "2024-01-15", "11:00")
	requireCode(t, err, CodeInternal)
}

func TestStoreTimeoutIsInternal(t *testing.T) {
	f := newFixture(t, Config{StoreTimeout: 20 * time.Millisecond}, func(mem *appointment.MemoryRepository) appointment.Repository {
		return &faultyRepo{
			Repository: mem,
			create: func(ctx context.Context, _ appointment.NewAppointment) (*appointment.Appointment, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
	})

	_, err := f.svc.Book(context.Background(), validRequest("2024-01-15", "11:00"))
	requireCode(t, err, CodeInternal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSchedulerFailureKeepsBooking(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.notifier.err = errors.New("queue unavailable")

	appt, err := f.svc.Book(context.Background(), validRequest("2024-01-15", "14:00"))
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, appt.Status)
}

func TestCancelThenRebook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)

	first, err := f.svc.Book(ctx, validRequest("2024-01-15", "15:00"))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, validRequest("2024-01-15", "15:00"))
	requireCode(t, err, CodeSlotUnavailable)

	cancelled, err := f.svc.Cancel(ctx, first.ConfirmationToken, "mudança de planos")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)
	assert.Equal(t, "mudança de planos", cancelled.CancellationReason)

	again, err := f.svc.Cancel(ctx, first.ConfirmationToken, "")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, again.Status)

	second, err := f.svc.Book(ctx, validRequest("2024-01-15", "15:00"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)

	appt, err := f.svc.Book(ctx, validRequest("2024-01-15", "16:00"))
	require.NoError(t, err)

	confirmed, err := f.svc.Confirm(ctx, appt.ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)

	again, err := f.svc.Confirm(ctx, appt.ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, again.Status)

	_, err = f.svc.Cancel(ctx, appt.ConfirmationToken, "")
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, appt.ConfirmationToken)
	requireCode(t, err, CodeInvalidTransition)

	_, err = f.svc.Confirm(ctx, "does-not-exist")
	requireCode(t, err, CodeNotFound)

	_, err = f.svc.Confirm(ctx, "  ")
	requireCode(t, err, CodeValidation)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)

	appt, err := f.svc.Book(ctx, validRequest("2024-01-15", "16:30"))
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)

	_, err = f.svc.Get(ctx, uuid.New())
	requireCode(t, err, CodeNotFound)
}

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)

	ok, err := f.svc.CheckAvailability(ctx, "2024-01-15", "09:00")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.Book(ctx, validRequest("2024-01-15", "09:00"))
	require.NoError(t, err)

	ok, err = f.svc.CheckAvailability(ctx, "2024-01-15", "09:00")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.CheckAvailability(ctx, "2024-01-01", "09:00")
	requireCode(t, err, CodeInvalidDateTime)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeNotFound, CodeOf(&Error{Code: CodeNotFound}))
}
