package idempotency_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/craftmarket/payment-engine/internal/payments/idempotency"
)

func TestMemoryGuard_ReserveCompleteReplay(t *testing.T) {
	guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
	ctx := context.Background()

	res, err := guard.Reserve(ctx, "ord-1:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Acquired {
		t.Fatal("first reserve must acquire")
	}

	if err := guard.Complete(ctx, "ord-1:1", []byte(`{"intent_id":"int-1"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err = guard.Reserve(ctx, "ord-1:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Acquired {
		t.Fatal("replay must not acquire")
	}
	if string(res.Result) != `{"intent_id":"int-1"}` {
		t.Errorf("replay must return the stored result, got %q", res.Result)
	}
}

func TestMemoryGuard_InFlightFailsFast(t *testing.T) {
	guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
	ctx := context.Background()

	if _, err := guard.Reserve(ctx, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := guard.Reserve(ctx, "k")
	if !errors.Is(err, idempotency.ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
}

func TestMemoryGuard_ReleaseAllowsRetry(t *testing.T) {
	guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
	ctx := context.Background()

	if _, err := guard.Reserve(ctx, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := guard.Release(ctx, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := guard.Reserve(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Acquired {
		t.Fatal("reserve after release must acquire")
	}
}

func TestMemoryGuard_StuckReservationExpires(t *testing.T) {
	guard := idempotency.NewMemoryGuard(10*time.Millisecond, time.Hour)
	ctx := context.Background()

	if _, err := guard.Reserve(ctx, "crashed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	res, err := guard.Reserve(ctx, "crashed")
	if err != nil {
		t.Fatalf("expected expired reservation to be retryable, got %v", err)
	}
	if !res.Acquired {
		t.Fatal("reserve after TTL expiry must acquire")
	}
}

func TestMemoryGuard_ExactlyOneConcurrentWinner(t *testing.T) {
	guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	acquired := make(chan bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := guard.Reserve(ctx, "race")
			acquired <- err == nil && res.Acquired
		}()
	}
	wg.Wait()
	close(acquired)

	winners := 0
	for won := range acquired {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
}

func TestMemoryGuard_SweepExpired(t *testing.T) {
	guard := idempotency.NewMemoryGuard(5*time.Millisecond, 5*time.Millisecond)
	ctx := context.Background()

	_, _ = guard.Reserve(ctx, "a")
	_ = guard.Complete(ctx, "b", []byte("{}"))

	time.Sleep(10 * time.Millisecond)

	if removed := guard.SweepExpired(); removed != 2 {
		t.Errorf("expected 2 entries swept, got %d", removed)
	}
}
