package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// inflightMarker is the sentinel stored while an operation holds the key.
// Completed results are JSON payloads and can never collide with it.
const inflightMarker = "__inflight__"

// releaseScript deletes the key only while it still holds the in-flight
// marker, so a Release racing a concurrent Complete cannot wipe a result.
var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
end
return 0
`)

// RedisGuard implements Guard on Redis. SET NX gives the atomic
// check-and-set; the in-flight TTL bounds how long a crashed caller can hold
// a reservation, and completed results are retained for the result TTL.
type RedisGuard struct {
	client      *redis.Client
	inFlightTTL time.Duration
	resultTTL   time.Duration
}

// NewRedisGuard creates a Redis-backed idempotency guard
func NewRedisGuard(client *redis.Client, inFlightTTL, resultTTL time.Duration) *RedisGuard {
	return &RedisGuard{
		client:      client,
		inFlightTTL: inFlightTTL,
		resultTTL:   resultTTL,
	}
}

func guardKey(key string) string {
	return "idempotency:" + key
}

func (g *RedisGuard) Reserve(ctx context.Context, key string) (Reservation, error) {
	acquired, err := g.client.SetNX(ctx, guardKey(key), inflightMarker, g.inFlightTTL).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve %q: %w", key, err)
	}
	if acquired {
		return Reservation{Acquired: true}, nil
	}

	value, err := g.client.Get(ctx, guardKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Reservation expired between SETNX and GET; treat as in flight and
		// let the caller retry.
		return Reservation{}, ErrInFlight
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("read reservation %q: %w", key, err)
	}

	if string(value) == inflightMarker {
		return Reservation{}, ErrInFlight
	}
	return Reservation{Acquired: false, Result: value}, nil
}

func (g *RedisGuard) Complete(ctx context.Context, key string, result []byte) error {
	if err := g.client.Set(ctx, guardKey(key), result, g.resultTTL).Err(); err != nil {
		return fmt.Errorf("complete %q: %w", key, err)
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, g.client, []string{guardKey(key)}, inflightMarker).Err(); err != nil {
		return fmt.Errorf("release %q: %w", key, err)
	}
	return nil
}
