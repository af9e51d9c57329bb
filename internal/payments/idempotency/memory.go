package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	result    []byte
	inFlight  bool
	expiresAt time.Time
}

// MemoryGuard is a mutex-based Guard for tests and single-node development.
// Semantics mirror RedisGuard, including reservation expiry.
type MemoryGuard struct {
	mu          sync.Mutex
	entries     map[string]memoryEntry
	inFlightTTL time.Duration
	resultTTL   time.Duration
}

// NewMemoryGuard creates an in-memory idempotency guard
func NewMemoryGuard(inFlightTTL, resultTTL time.Duration) *MemoryGuard {
	return &MemoryGuard{
		entries:     make(map[string]memoryEntry),
		inFlightTTL: inFlightTTL,
		resultTTL:   resultTTL,
	}
}

func (g *MemoryGuard) Reserve(ctx context.Context, key string) (Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	entry, ok := g.entries[key]
	if ok && now.Before(entry.expiresAt) {
		if entry.inFlight {
			return Reservation{}, ErrInFlight
		}
		return Reservation{Acquired: false, Result: entry.result}, nil
	}

	g.entries[key] = memoryEntry{inFlight: true, expiresAt: now.Add(g.inFlightTTL)}
	return Reservation{Acquired: true}, nil
}

func (g *MemoryGuard) Complete(ctx context.Context, key string, result []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entries[key] = memoryEntry{result: result, expiresAt: time.Now().Add(g.resultTTL)}
	return nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.entries[key]; ok && entry.inFlight {
		delete(g.entries, key)
	}
	return nil
}

// SweepExpired drops expired entries; the background worker calls this on
// the reconciliation cadence. Redis handles expiry natively, so only the
// in-memory guard needs it.
func (g *MemoryGuard) SweepExpired() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range g.entries {
		if now.After(entry.expiresAt) {
			delete(g.entries, key)
			removed++
		}
	}
	return removed
}
