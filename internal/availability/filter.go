package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saraivavision/clinic-booking/internal/clock"
	"github.com/saraivavision/clinic-booking/internal/slots"
)

// ErrAvailabilityUnknown means the appointment store could not be read. It is
// never returned for a day that is simply fully booked.
var ErrAvailabilityUnknown = errors.New("could not determine availability")

// Store is the read side of the appointment store.
type Store interface {
	BookedTimes(ctx context.Context, date string) ([]string, error)
}

// BookedTimesCache holds recently read booked times per date. Get reports
// the date's version, also on a miss; Set must drop the write when the date
// was invalidated after that version was read.
type BookedTimesCache interface {
	Get(ctx context.Context, date string) (times []string, version int64, ok bool, err error)
	Set(ctx context.Context, date string, version int64, times []string) error
	Invalidate(ctx context.Context, date string) error
}

type Options struct {
	Location      *time.Location
	StoreTimeout  time.Duration
	SkipEmptyDays bool
	Cache         BookedTimesCache
}

type DayAvailability struct {
	Date  string
	Slots []slots.Slot
}

type Filter struct {
	store  Store
	tmpl   slots.Template
	clock  clock.Clock
	opts   Options
	logger *zap.Logger
}

func NewFilter(store Store, tmpl slots.Template, clk clock.Clock, opts Options, logger *zap.Logger) *Filter {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		store:  store,
		tmpl:   tmpl,
		clock:  clk,
		opts:   opts,
		logger: logger,
	}
}

type lookup struct {
	bypassCache  bool
	upcomingOnly bool
}

type LookupOption func(*lookup)

// WithoutCache forces a read from the store.
func WithoutCache() LookupOption {
	return func(l *lookup) { l.bypassCache = true }
}

// UpcomingOnly drops slots whose start is not after the current time.
func UpcomingOnly() LookupOption {
	return func(l *lookup) { l.upcomingOnly = true }
}

func resolve(opts []LookupOption) lookup {
	var l lookup
	for _, o := range opts {
		o(&l)
	}
	return l
}

func (f *Filter) Template() slots.Template { return f.tmpl }

func (f *Filter) Location() *time.Location { return f.opts.Location }

// Today is midnight of the current day in the clinic's time zone.
func (f *Filter) Today() time.Time {
	now := f.clock.Now().In(f.opts.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, f.opts.Location)
}

// GetAvailableSlots returns the template slots of date that no pending or
// confirmed appointment holds, in chronological order.
func (f *Filter) GetAvailableSlots(ctx context.Context, date string, opts ...LookupOption) ([]slots.Slot, error) {
	day, err := slots.ParseDate(date, f.opts.Location)
	if err != nil {
		return nil, err
	}
	return f.availableOn(ctx, day, resolve(opts))
}

// GetAvailableSlotsForNextDays looks up n consecutive days starting today.
// Fully booked days are kept as empty entries unless SkipEmptyDays is set.
func (f *Filter) GetAvailableSlotsForNextDays(ctx context.Context, n int, opts ...LookupOption) ([]DayAvailability, error) {
	today := f.Today()
	days := make([]time.Time, 0, max(n, 0))
	for i := 0; i < n; i++ {
		days = append(days, today.AddDate(0, 0, i))
	}
	return f.collect(ctx, days, resolve(opts))
}

// GetAvailableSlotsForDates looks up an explicit list of dates. Duplicates
// are collapsed; order is kept.
func (f *Filter) GetAvailableSlotsForDates(ctx context.Context, dates []string, opts ...LookupOption) ([]DayAvailability, error) {
	seen := make(map[string]struct{}, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}

		day, err := slots.ParseDate(d, f.opts.Location)
		if err != nil {
			return nil, fmt.Errorf("date %q: %w", d, err)
		}
		days = append(days, day)
	}
	return f.collect(ctx, days, resolve(opts))
}

// IsSlotAvailable reports whether (date, t) is in GetAvailableSlots(date).
func (f *Filter) IsSlotAvailable(ctx context.Context, date, t string, opts ...LookupOption) (bool, error) {
	available, err := f.GetAvailableSlots(ctx, date, opts...)
	if err != nil {
		return false, err
	}
	for _, s := range available {
		if s.Time == t {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops cached booked times for date. Cache failures are logged.
func (f *Filter) Invalidate(ctx context.Context, date string) {
	if f.opts.Cache == nil {
		return
	}
	if err := f.opts.Cache.Invalidate(ctx, date); err != nil {
		f.logger.Warn("availability cache invalidation failed",
			zap.String("date", date),
			zap.Error(err),
		)
	}
}

func (f *Filter) collect(ctx context.Context, days []time.Time, lk lookup) ([]DayAvailability, error) {
	out := make([]DayAvailability, 0, len(days))
	for _, day := range days {
		available, err := f.availableOn(ctx, day, lk)
		if err != nil {
			return nil, err
		}
		if len(available) == 0 && f.opts.SkipEmptyDays {
			continue
		}
		out = append(out, DayAvailability{
			Date:  day.Format(slots.DateLayout),
			Slots: available,
		})
	}
	return out, nil
}

func (f *Filter) availableOn(ctx context.Context, day time.Time, lk lookup) ([]slots.Slot, error) {
	generated := f.tmpl.Generate(day)
	if len(generated) == 0 {
		return generated, nil
	}

	booked, err := f.bookedTimes(ctx, day.Format(slots.DateLayout), lk)
	if err != nil {
		return nil, err
	}

	taken := make(map[string]struct{}, len(booked))
	for _, t := range booked {
		taken[t] = struct{}{}
	}

	now := f.clock.Now()
	out := make([]slots.Slot, 0, len(generated))
	for _, s := range generated {
		if _, ok := taken[s.Time]; ok {
			continue
		}
		if lk.upcomingOnly {
			start, err := s.Start(f.opts.Location)
			if err != nil || !start.After(now) {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// bookedTimes reads through the cache. Uncached reads never write back since
// they carry no version to guard the write with.
func (f *Filter) bookedTimes(ctx context.Context, date string, lk lookup) ([]string, error) {
	var (
		version  int64
		writable bool
	)
	if f.opts.Cache != nil && !lk.bypassCache {
		times, v, ok, err := f.opts.Cache.Get(ctx, date)
		switch {
		case err != nil:
			f.logger.Warn("availability cache read failed", zap.String("date", date), zap.Error(err))
		case ok:
			return times, nil
		default:
			version, writable = v, true
		}
	}

	storeCtx := ctx
	if f.opts.StoreTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, f.opts.StoreTimeout)
		defer cancel()
	}

	times, err := f.store.BookedTimes(storeCtx, date)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAvailabilityUnknown, err)
	}

	if writable {
		if err := f.opts.Cache.Set(ctx, date, version, times); err != nil {
			f.logger.Warn("availability cache write failed", zap.String("date", date), zap.Error(err))
		}
	}

	return times, nil
}
