package booking

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator performs the structural checks on a booking request.
type Validator interface {
	ValidateBooking(req BookingRequest) []FieldError
}

var phonePattern = regexp.MustCompile(`^\+?[0-9\s().-]+$`)

type StructValidator struct {
	v *validator.Validate
}

func NewValidator() *StructValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("field"); name != "" {
			return name
		}
		return f.Name
	})
	_ = v.RegisterValidation("phone", validatePhone)

	return &StructValidator{v: v}
}

// validatePhone accepts formatted numbers such as "+55 (33) 99999-0000"
// carrying 10 to 13 digits.
func validatePhone(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if !phonePattern.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10 && digits <= 13
}

func (sv *StructValidator) ValidateBooking(req BookingRequest) []FieldError {
	err := sv.v.Struct(req)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "request", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: describe(fe)})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number with area code"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "datetime":
		return fmt.Sprintf("must match the format %s", humanLayout(fe.Param()))
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func humanLayout(layout string) string {
	switch layout {
	case "2006-01-02":
		return "YYYY-MM-DD"
	case "15:04":
		return "HH:MM"
	}
	return layout
}

func normalize(req BookingRequest) BookingRequest {
	req.PatientName = strings.Join(strings.Fields(req.PatientName), " ")
	req.PatientEmail = strings.ToLower(strings.TrimSpace(req.PatientEmail))
	req.PatientPhone = strings.TrimSpace(req.PatientPhone)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	req.Notes = strings.TrimSpace(req.Notes)
	return req
}
