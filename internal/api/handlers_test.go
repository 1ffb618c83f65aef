package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saraivavision/clinic-booking/internal/appointment"
	"github.com/saraivavision/clinic-booking/internal/availability"
	"github.com/saraivavision/clinic-booking/internal/booking"
	"github.com/saraivavision/clinic-booking/internal/clock"
	"github.com/saraivavision/clinic-booking/internal/ratelimit"
	"github.com/saraivavision/clinic-booking/internal/slots"
)

// Sunday 2024-01-14 at noon; the next clinic day is Monday 2024-01-15.
var sundayNoon = time.Date(2024, 1, 14, 12, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	clk := clock.NewFixed(sundayNoon)
	filter := availability.NewFilter(repo, slots.DefaultTemplate(), clk, availability.Options{}, nil)
	svc := booking.NewService(repo, filter, clk, booking.NewValidator(), nil, booking.Config{
		WaitlistEnabled:   true,
		AlternativesLimit: 3,
	}, nil)

	return &testServer{
		handler: NewRouter(RouterConfig{
			Service:      svc,
			Availability: filter,
			Limiter:      limiter,
			Env:          "test",
			Version:      "test",
		}),
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type successEnvelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func bookBody(date, tm string) string {
	b, _ := json.Marshal(map[string]string{
		"action":           "book",
		"patient_name":     "Maria Oliveira",
		"patient_email":    "maria@example.com",
		"patient_phone":    "(33) 99876-5432",
		"appointment_date": date,
		"appointment_time": tm,
	})
	return string(b)
}

func TestAvailabilityPreferredDate(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/appointments/availability?preferredDates=2024-01-15", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[successEnvelope[AvailabilityResponse]](t, rec)
	assert.True(t, resp.Success)
	require.Len(t, resp.Data.Availability, 1)

	day := resp.Data.Availability[0]
	assert.Equal(t, "2024-01-15", day.Date)
	require.Len(t, day.Slots, 20)
	assert.Equal(t, "08:00", day.Slots[0].Time)
	assert.Equal(t, "17:30", day.Slots[19].Time)
	assert.Equal(t, AvailabilitySummary{TotalDates: 1, TotalSlots: 20}, resp.Data.Summary)
}

func TestAvailabilityNextDays(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/appointments/availability", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[successEnvelope[AvailabilityResponse]](t, rec)
	require.Len(t, resp.Data.Availability, 7)
	assert.Equal(t, "2024-01-14", resp.Data.Availability[0].Date)
	assert.Empty(t, resp.Data.Availability[0].Slots, "clinic is closed on Sunday")
	assert.Equal(t, 100, resp.Data.Summary.TotalSlots)
}

func TestAvailabilityTimePreferences(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/appointments/availability?preferredDates=2024-01-15&timePreferences=morning", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[successEnvelope[AvailabilityResponse]](t, rec)
	require.Len(t, resp.Data.Availability, 1)
	slotsOut := resp.Data.Availability[0].Slots
	require.Len(t, slotsOut, 8)
	assert.Equal(t, "11:30", slotsOut[len(slotsOut)-1].Time)

	rec = s.do(t, http.MethodGet, "/api/appointments/availability?preferredDates=2024-01-15&timePreferences=afternoon,evening", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[successEnvelope[AvailabilityResponse]](t, rec)
	assert.Len(t, resp.Data.Availability[0].Slots, 12)
}

func TestAvailabilityRejectsBadQuery(t *testing.T) {
	s := newTestServer(t, nil)

	for _, q := range []string{
		"days=0",
		"days=61",
		"days=abc",
		"timePreferences=night",
		"preferredDates=15-01-2024",
	} {
		t.Run(q, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/appointments/availability?"+q, "")
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, string(booking.CodeValidation), resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Fields)
		})
	}
}

func TestBookThenConflict(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/appointments", bookBody("2024-01-15", "09:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[successEnvelope[AppointmentResponse]](t, rec)
	assert.True(t, created.Success)
	assert.Equal(t, "pending", created.Data.Status)
	assert.NotEmpty(t, created.Data.ConfirmationToken)

	rec = s.do(t, http.MethodPost, "/api/appointments", bookBody("2024-01-15", "09:00"))
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[ErrorResponse](t, rec)
	assert.False(t, conflict.Success)
	assert.Equal(t, string(booking.CodeSlotUnavailable), conflict.Error.Code)
	assert.NotEmpty(t, conflict.AlternativeSlots)
	require.NotNil(t, conflict.WaitlistAvailable)
	assert.True(t, *conflict.WaitlistAvailable)
	for _, alt := range conflict.AlternativeSlots {
		assert.NotEqual(t, "09:00", alt.Time)
	}

	rec = s.do(t, http.MethodGet, "/api/appointments/availability?preferredDates=2024-01-15", "")
	resp := decode[successEnvelope[AvailabilityResponse]](t, rec)
	assert.Equal(t, 19, resp.Data.Summary.TotalSlots)
}

func TestBookRejections(t *testing.T) {
	s := newTestServer(t, nil)

	cases := []struct {
		name   string
		body   string
		status int
		code   booking.Code
	}{
		{"past date", bookBody("2024-01-10", "09:00"), http.StatusBadRequest, booking.CodeInvalidDateTime},
		{"outside hours", bookBody("2024-01-15", "07:00"), http.StatusBadRequest, booking.CodeInvalidDateTime},
		{"missing fields", `{"action":"book","appointment_date":"2024-01-15"}`, http.StatusBadRequest, booking.CodeValidation},
		{"malformed json", `{"action":"book",`, http.StatusBadRequest, booking.CodeValidation},
		{"unknown action", `{"action":"reschedule"}`, http.StatusBadRequest, booking.CodeInvalidAction},
		{"missing action", `{}`, http.StatusBadRequest, booking.CodeInvalidAction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/appointments", tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, string(tc.code), resp.Error.Code)
			assert.Nil(t, resp.WaitlistAvailable)
		})
	}
}

func TestValidationErrorListsFields(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/appointments",
		`{"action":"book","patient_name":"Ana","patient_email":"nope","patient_phone":"(33) 99876-5432","appointment_date":"2024-01-15","appointment_time":"09:00"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	require.Len(t, resp.Error.Fields, 1)
	assert.Equal(t, "patient_email", resp.Error.Fields[0].Field)
}

func TestCheckAvailabilityAction(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"action":"check_availability","appointment_date":"2024-01-15","appointment_time":"10:00"}`

	rec := s.do(t, http.MethodPost, "/api/appointments", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[successEnvelope[CheckAvailabilityResponse]](t, rec).Data.Available)

	rec = s.do(t, http.MethodPost, "/api/appointments", bookBody("2024-01-15", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/appointments", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[successEnvelope[CheckAvailabilityResponse]](t, rec).Data.Available)

	rec = s.do(t, http.MethodPost, "/api/appointments", `{"action":"check_availability"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(booking.CodeValidation), decode[ErrorResponse](t, rec).Error.Code)
}

func TestConfirmCancelAndGet(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/appointments", bookBody("2024-01-15", "14:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[successEnvelope[AppointmentResponse]](t, rec).Data
	token := `{"token":"` + created.ConfirmationToken + `"}`

	rec = s.do(t, http.MethodPost, "/api/appointments/confirm", token)
	require.Equal(t, http.StatusOK, rec.Code)
	confirmed := decode[successEnvelope[AppointmentResponse]](t, rec).Data
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.Empty(t, confirmed.ConfirmationToken)

	rec = s.do(t, http.MethodGet, "/api/appointments/"+created.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decode[successEnvelope[AppointmentResponse]](t, rec).Data.Status)

	rec = s.do(t, http.MethodPost, "/api/appointments/cancel",
		`{"token":"`+created.ConfirmationToken+`","reason":"viagem"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decode[successEnvelope[AppointmentResponse]](t, rec).Data
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "viagem", cancelled.CancellationReason)

	rec = s.do(t, http.MethodPost, "/api/appointments/confirm", token)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(booking.CodeInvalidTransition), decode[ErrorResponse](t, rec).Error.Code)

	// the slot is free again
	rec = s.do(t, http.MethodPost, "/api/appointments", bookBody("2024-01-15", "14:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestNotFoundAndBadIDs(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/appointments/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/appointments/7d1f5b8e-8a43-4a4f-9b1a-1f7f0f2b9c11", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(booking.CodeNotFound), decode[ErrorResponse](t, rec).Error.Code)

	rec = s.do(t, http.MethodPost, "/api/appointments/cancel", `{"token":"unknown"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/appointments/confirm", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(booking.CodeValidation), decode[ErrorResponse](t, rec).Error.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, ratelimit.NewLocal(0, 2))

	body := `{"action":"check_availability","appointment_date":"2024-01-15","appointment_time":"10:00"}`
	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/appointments", body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/appointments", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, string(booking.CodeRateLimited), decode[ErrorResponse](t, rec).Error.Code)

	// reads are not limited
	rec = s.do(t, http.MethodGet, "/api/appointments/availability", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = s.do(t, http.MethodGet, "/health/live", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[LivenessResponse](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[ReadinessResponse](t, rec).Status)
}

func TestReadinessRedisDegraded(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := NewHealthHandler(nil, rdb, "test", "v0")

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Dependencies["redis"])

	mr.Close()

	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "down", resp.Dependencies["redis"])
}

func TestErrorEnvelopeShape(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/appointments", `{"action":"dance"}`)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))

	assert.Equal(t, false, raw["success"])
	errObj, ok := raw["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "INVALID_ACTION", errObj["code"])
	assert.True(t, strings.Contains(errObj["message"].(string), "dance"))
	assert.NotContains(t, raw, "alternativeSlots")
	assert.NotContains(t, raw, "waitlistAvailable")
}
