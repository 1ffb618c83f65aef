package slots

import (
	"errors"
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	ErrMalformedDate = errors.New("date must be formatted as YYYY-MM-DD")
	ErrMalformedTime = errors.New("time must be formatted as HH:MM")
)

// Slot is a single bookable start time on a given day. It is a computed value
// and never persisted on its own.
type Slot struct {
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"durationMinutes"`
}

// Start returns the slot's start instant in loc.
func (s Slot) Start(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+TimeLayout, s.Date+" "+s.Time, loc)
}

// Template is the clinic's fixed daily operating window.
//
// Slots are generated in [StartHour:00, EndHour:00). When SlotDurationMinutes
// divides 60 the slots run back to back. When it is shorter than an hour but
// does not divide it, every hour is filled on its own and the leftover
// minutes at the end of each hour are dropped. Durations longer than an hour
// run back to back and the last slot that would cross EndHour:00 is dropped.
type Template struct {
	StartHour           int
	EndHour             int
	SlotDurationMinutes int
	// Weekdays lists the open days. Empty means open every day.
	Weekdays []time.Weekday
}

func DefaultTemplate() Template {
	return Template{
		StartHour:           8,
		EndHour:             18,
		SlotDurationMinutes: 30,
		Weekdays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
	}
}

// Validate rejects templates that can never be configured on purpose.
// A template with EndHour <= StartHour is still accepted by Generate, which
// returns no slots for it.
func (t Template) Validate() error {
	if t.StartHour < 0 || t.StartHour > 23 {
		return fmt.Errorf("start hour %d out of range 0-23", t.StartHour)
	}
	if t.EndHour < 1 || t.EndHour > 24 {
		return fmt.Errorf("end hour %d out of range 1-24", t.EndHour)
	}
	if t.EndHour <= t.StartHour {
		return fmt.Errorf("end hour %d must be after start hour %d", t.EndHour, t.StartHour)
	}
	if t.SlotDurationMinutes <= 0 {
		return fmt.Errorf("slot duration must be positive, got %d", t.SlotDurationMinutes)
	}
	return nil
}

// OpenOn reports whether the clinic takes appointments on wd.
func (t Template) OpenOn(wd time.Weekday) bool {
	if len(t.Weekdays) == 0 {
		return true
	}
	for _, d := range t.Weekdays {
		if d == wd {
			return true
		}
	}
	return false
}

// Generate enumerates the slots of date's calendar day. It performs no I/O.
func (t Template) Generate(date time.Time) []Slot {
	if !t.OpenOn(date.Weekday()) {
		return []Slot{}
	}

	offsets := t.offsets()
	day := date.Format(DateLayout)

	out := make([]Slot, 0, len(offsets))
	for _, m := range offsets {
		out = append(out, Slot{
			Date:            day,
			Time:            FormatMinutes(m),
			DurationMinutes: t.SlotDurationMinutes,
		})
	}
	return out
}

// Count is the number of slots on an open day.
func (t Template) Count() int {
	return len(t.offsets())
}

// Contains reports whether hhmm is one of the template's start times.
// It does not look at weekdays.
func (t Template) Contains(hhmm string) bool {
	m, err := ParseTime(hhmm)
	if err != nil {
		return false
	}
	for _, o := range t.offsets() {
		if o == m {
			return true
		}
	}
	return false
}

// offsets returns slot starts as minutes since midnight.
func (t Template) offsets() []int {
	d := t.SlotDurationMinutes
	if d <= 0 || t.EndHour <= t.StartHour {
		return nil
	}

	start, end := t.StartHour*60, t.EndHour*60
	var out []int

	if d < 60 && 60%d != 0 {
		for h := start; h < end; h += 60 {
			for m := h; m+d <= h+60; m += d {
				out = append(out, m)
			}
		}
		return out
	}

	for m := start; m+d <= end; m += d {
		out = append(out, m)
	}
	return out
}

// ParseDate parses a YYYY-MM-DD string as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if len(s) != len(DateLayout) {
		return time.Time{}, ErrMalformedDate
	}
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, ErrMalformedDate
	}
	return d, nil
}

// ParseTime parses HH:MM into minutes since midnight.
func ParseTime(s string) (int, error) {
	if len(s) != len(TimeLayout) {
		return 0, ErrMalformedTime
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return 0, ErrMalformedTime
	}
	return t.Hour()*60 + t.Minute(), nil
}

func FormatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
