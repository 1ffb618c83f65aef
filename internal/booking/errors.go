package booking

import (
	"errors"
	"fmt"

	"github.com/saraivavision/clinic-booking/internal/slots"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeInvalidDateTime   Code = "INVALID_DATETIME"
	CodeSlotUnavailable   Code = "SLOT_UNAVAILABLE"
	CodeInvalidAction     Code = "INVALID_ACTION"
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeRateLimited       Code = "RATE_LIMITED"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the rejection returned by every Service operation. Message is
// safe to show to patients; Err carries the internal cause and is never
// rendered.
type Error struct {
	Code    Code
	Message string
	Fields  []FieldError

	// Set for SLOT_UNAVAILABLE.
	Alternatives      []slots.Slot
	WaitlistAvailable bool

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the code of a booking error, INTERNAL_ERROR for anything else.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeInternal
}
