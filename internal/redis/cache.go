package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// versionTTL outlives any entry written under an old version, so an expired
// counter never resurrects a stale entry.
const versionTTL = 24 * time.Hour

// AvailabilityCache stores the booked start times of a date as a JSON array.
// An empty array is a valid cached value and means nothing is booked.
//
// Every date carries a version counter bumped by Invalidate. A reader passes
// the version it saw on Get back to Set, and the write is dropped when the
// date was invalidated in between, so a slow read cannot put a list from
// before a booking back into the cache.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AvailabilityCache{client: client, ttl: ttl}
}

func availabilityKey(date string) string {
	return "availability:booked:" + date
}

func versionKey(date string) string {
	return "availability:version:" + date
}

// Get returns the cached times and the date's current version. The version
// is valid on a miss too.
func (c *AvailabilityCache) Get(ctx context.Context, date string) ([]string, int64, bool, error) {
	vals, err := c.client.MGet(ctx, versionKey(date), availabilityKey(date)).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("get cached availability: %w", err)
	}

	var version int64
	if raw, ok := vals[0].(string); ok {
		version, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, 0, false, fmt.Errorf("decode availability version: %w", err)
		}
	}

	raw, ok := vals[1].(string)
	if !ok {
		return nil, version, false, nil
	}

	var times []string
	if err := json.Unmarshal([]byte(raw), &times); err != nil {
		return nil, version, false, fmt.Errorf("decode cached availability: %w", err)
	}
	return times, version, true, nil
}

var setIfVersionScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then v = "0" end
if v ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// Set stores times read at version. It is a no-op when the date has been
// invalidated since.
func (c *AvailabilityCache) Set(ctx context.Context, date string, version int64, times []string) error {
	if times == nil {
		times = []string{}
	}
	raw, err := json.Marshal(times)
	if err != nil {
		return err
	}

	err = setIfVersionScript.Run(ctx, c.client,
		[]string{versionKey(date), availabilityKey(date)},
		strconv.FormatInt(version, 10), string(raw), c.ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("set cached availability: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry and bumps the version, so writes of
// reads already in flight are discarded.
func (c *AvailabilityCache) Invalidate(ctx context.Context, date string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(date))
		pipe.Expire(ctx, versionKey(date), versionTTL)
		pipe.Del(ctx, availabilityKey(date))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate cached availability: %w", err)
	}
	return nil
}
