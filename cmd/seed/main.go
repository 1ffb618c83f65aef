package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/saraivavision/clinic-booking/internal/app"
	"github.com/saraivavision/clinic-booking/internal/availability"
	"github.com/saraivavision/clinic-booking/internal/booking"
	"github.com/saraivavision/clinic-booking/internal/config"
	"github.com/saraivavision/clinic-booking/internal/logging"
	"github.com/saraivavision/clinic-booking/internal/slots"
)

var visitNotes = []string{
	"",
	"routine eye exam",
	"follow-up after cataract surgery",
	"glasses prescription renewal",
	"contact lens fitting",
	"blurred vision for two weeks",
	"glaucoma monitoring",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StorageBackend != config.StoragePostgres {
		log.Fatalf("seed needs STORAGE_BACKEND=%s", config.StoragePostgres)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	count := getInt("SEED_APPOINTMENTS", 40)
	days := getInt("SEED_DAYS", 14)
	logger.Info("seed starting", zap.Int("appointments", count), zap.Int("days", days))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	_ = gofakeit.Seed(time.Now().UnixNano())

	booked, conflicts, err := seedAppointments(ctx, a, count, days)
	if err != nil {
		logger.Fatal("seed appointments", zap.Error(err))
	}

	logger.Info("seed complete", zap.Int("booked", booked), zap.Int("conflicts", conflicts))
}

// seedAppointments books count random free slots through the booking
// service, so the same validation and uniqueness rules apply.
func seedAppointments(ctx context.Context, a *app.App, count, days int) (booked, conflicts int, err error) {
	for booked < count {
		open, err := a.Filter.GetAvailableSlotsForNextDays(ctx, days, availability.UpcomingOnly())
		if err != nil {
			return booked, conflicts, err
		}
		free := flatten(open)
		if len(free) == 0 {
			a.Logger.Warn("no free slots left in the seeding window")
			return booked, conflicts, nil
		}

		sl := free[gofakeit.Number(0, len(free)-1)]
		_, err = a.Booking.Book(ctx, booking.BookingRequest{
			PatientName:  gofakeit.Name(),
			PatientEmail: gofakeit.Email(),
			PatientPhone: gofakeit.Phone(),
			Date:         sl.Date,
			Time:         sl.Time,
			Notes:        visitNotes[gofakeit.Number(0, len(visitNotes)-1)],
		})
		switch booking.CodeOf(err) {
		case booking.CodeSlotUnavailable:
			conflicts++
			continue
		case booking.CodeValidation:
			// fake data occasionally fails validation, draw again
			continue
		}
		if err != nil {
			return booked, conflicts, err
		}

		booked++
		if booked%10 == 0 {
			a.Logger.Info("appointments seeded", zap.Int("done", booked), zap.Int("total", count))
		}
	}
	return booked, conflicts, nil
}

func flatten(days []availability.DayAvailability) []slots.Slot {
	var out []slots.Slot
	for _, d := range days {
		out = append(out, d.Slots...)
	}
	return out
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
