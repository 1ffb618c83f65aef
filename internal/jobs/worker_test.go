package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saraivavision/clinic-booking/internal/appointment"
	"github.com/saraivavision/clinic-booking/internal/clock"
	redisclient "github.com/saraivavision/clinic-booking/internal/redis"
)

func TestWorkerSweep(t *testing.T) {
	ctx := context.Background()
	repo := appointment.NewMemoryRepository()
	store := NewMemoryStore()
	clk := clock.NewFixed(sundayNoon)
	notifier := &fakeNotifier{}

	appt := bookAt(t, repo, "2024-01-16", "09:00")
	require.NoError(t, NewScheduler(store, clk, time.UTC, nil).ScheduleFor(ctx, appt))

	w := NewWorker(newRunner(store, repo, notifier, clk), nil, time.Minute, nil)
	res, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestWorkerSkipsWhileLeaseHeld(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := appointment.NewMemoryRepository()
	store := NewMemoryStore()
	clk := clock.NewFixed(sundayNoon)
	notifier := &fakeNotifier{}

	appt := bookAt(t, repo, "2024-01-16", "09:00")
	require.NoError(t, NewScheduler(store, clk, time.UTC, nil).ScheduleFor(ctx, appt))

	w := NewWorker(newRunner(store, repo, notifier, clk), redisclient.NewRedisLeaser(rdb, time.Minute), time.Minute, nil)

	require.NoError(t, mr.Set("lease:"+sweepLease, "someone-else"))
	res, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
	assert.Empty(t, notifier.sent)

	mr.Del("lease:" + sweepLease)
	res, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(newRunner(NewMemoryStore(), appointment.NewMemoryRepository(), &fakeNotifier{}, clock.NewFixed(sundayNoon)),
		nil, 10*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
