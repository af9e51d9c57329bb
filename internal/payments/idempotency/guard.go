package idempotency

import (
	"context"
	"errors"
)

// ErrInFlight means another caller holds the reservation for the key and has
// not finished yet. Callers fail fast and surface a retryable outcome rather
// than blocking the request goroutine.
var ErrInFlight = errors.New("operation in flight for idempotency key")

// Reservation is the outcome of a Reserve call. Acquired means the caller
// owns the key and must eventually Complete or Release it. When not acquired,
// Result carries the previously stored outcome of the completed operation.
type Reservation struct {
	Acquired bool
	Result   []byte
}

// Guard deduplicates operation attempts and webhook deliveries by stable key.
// Reserve is atomic check-and-set: exactly one of any number of concurrent
// first callers acquires the key. A reservation held by a crashed caller
// expires after a bounded TTL so legitimate retries are not blocked forever.
type Guard interface {
	Reserve(ctx context.Context, key string) (Reservation, error)
	Complete(ctx context.Context, key string, result []byte) error
	Release(ctx context.Context, key string) error
}
