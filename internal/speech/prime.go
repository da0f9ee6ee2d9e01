package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	apperrors "github.com/acme/call-memento/pkg/errors"
)

// PrimeCache stages speech instructions in Redis between call initiation and
// stream start, so the bridge can open the engine session without waiting on
// Postgres. Entries expire on their own; the bridge falls back to a record
// lookup when the prime is gone.
type PrimeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPrimeCache(client *redis.Client, ttl time.Duration) *PrimeCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &PrimeCache{client: client, ttl: ttl}
}

func primeKey(callID string) string {
	return "memento:prime:" + callID
}

// Prime stores the instructions for the call.
func (c *PrimeCache) Prime(ctx context.Context, callID string, instructions string) error {
	if err := c.client.Set(ctx, primeKey(callID), instructions, c.ttl).Err(); err != nil {
		return fmt.Errorf("prime cache: set: %w", err)
	}
	return nil
}

// Lookup returns the primed instructions, or apperrors.ErrNotFound when the
// call was never primed or the entry expired.
func (c *PrimeCache) Lookup(ctx context.Context, callID string) (string, error) {
	val, err := c.client.Get(ctx, primeKey(callID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", apperrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("prime cache: get: %w", err)
	}
	return val, nil
}
