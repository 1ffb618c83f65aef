package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/saraivavision/clinic-booking/internal/booking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code booking.Code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorBody{Code: string(code), Message: message},
	})
}

func statusFor(code booking.Code) int {
	switch code {
	case booking.CodeValidation, booking.CodeInvalidDateTime, booking.CodeInvalidAction:
		return http.StatusBadRequest
	case booking.CodeSlotUnavailable, booking.CodeInvalidTransition:
		return http.StatusConflict
	case booking.CodeNotFound:
		return http.StatusNotFound
	case booking.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders an error returned by the booking service.
// Anything that is not a *booking.Error is treated as internal and its
// detail is only logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var be *booking.Error
	if !errors.As(err, &be) {
		logger.Error("unhandled error",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, booking.CodeInternal, "an internal error occurred, please try again later")
		return
	}

	resp := ErrorResponse{
		Error: ErrorBody{
			Code:    string(be.Code),
			Message: be.Message,
			Fields:  be.Fields,
		},
	}
	if be.Code == booking.CodeSlotUnavailable {
		waitlist := be.WaitlistAvailable
		resp.AlternativeSlots = toAlternatives(be.Alternatives)
		resp.WaitlistAvailable = &waitlist
	}

	writeJSON(w, statusFor(be.Code), resp)
}
