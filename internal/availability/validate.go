package availability

import (
	"fmt"

	"github.com/saraivavision/clinic-booking/internal/slots"
)

// ValidationResult is returned instead of an error because datetime checks
// run on every user-facing request.
type ValidationResult struct {
	IsValid bool
	Error   string
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Error: fmt.Sprintf(format, args...)}
}

// ValidateAppointmentDateTime rejects malformed values, slots that are not
// after the current time and slots outside the operating template.
func (f *Filter) ValidateAppointmentDateTime(date, t string) ValidationResult {
	day, err := slots.ParseDate(date, f.opts.Location)
	if err != nil {
		return invalid("invalid date %q: expected YYYY-MM-DD", date)
	}
	if _, err := slots.ParseTime(t); err != nil {
		return invalid("invalid time %q: expected HH:MM", t)
	}

	start, err := slots.Slot{Date: date, Time: t}.Start(f.opts.Location)
	if err != nil {
		return invalid("invalid date/time %s %s", date, t)
	}
	if !start.After(f.clock.Now()) {
		return invalid("appointment %s %s is in the past", date, t)
	}

	if !f.tmpl.OpenOn(day.Weekday()) {
		return invalid("the clinic does not take appointments on %s", day.Weekday())
	}
	if !f.tmpl.Contains(t) {
		return invalid("%s is not a bookable time (%02d:00-%02d:00, every %d minutes)",
			t, f.tmpl.StartHour, f.tmpl.EndHour, f.tmpl.SlotDurationMinutes)
	}

	return ValidationResult{IsValid: true}
}
