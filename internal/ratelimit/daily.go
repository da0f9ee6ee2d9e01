package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DailyCounter caps outbound attempts per destination per calendar day in
// the destination's local time zone, backed by Redis counters.
type DailyCounter struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDailyCounter constructs a counter. Keys expire after ttl so stale days
// clean themselves up.
func NewDailyCounter(client *redis.Client, ttl time.Duration) *DailyCounter {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &DailyCounter{client: client, ttl: ttl}
}

// incrScript increments and reads in one round trip so two concurrent
// attempts to the same destination cannot both observe a pre-increment
// count under the cap.
var incrScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])
local current = redis.call('INCR', key)
if current == 1 and ttl > 0 then
  redis.call('PEXPIRE', key, ttl)
end
return current
`)

// Increment atomically bumps the counter for the destination's local day
// and returns the post-increment value.
func (c *DailyCounter) Increment(ctx context.Context, destination string, localDay time.Time) (int64, error) {
	key := c.key(destination, localDay)
	n, err := incrScript.Run(ctx, c.client, []string{key}, c.ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("daily counter: increment %s: %w", key, err)
	}
	return n, nil
}

// Get reads the current count without modifying it.
func (c *DailyCounter) Get(ctx context.Context, destination string, localDay time.Time) (int64, error) {
	n, err := c.client.Get(ctx, c.key(destination, localDay)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("daily counter: get: %w", err)
	}
	return n, nil
}

func (c *DailyCounter) key(destination string, localDay time.Time) string {
	return fmt.Sprintf("memento:dial:%s:%s", destination, localDay.Format("2006-01-02"))
}
