package worker

import (
	"context"
	"time"

	"github.com/craftmarket/payment-engine/internal/payments/usecase/command"
	"github.com/craftmarket/payment-engine/pkg/logger"
)

// GuardSweeper is implemented by idempotency guards that need periodic expiry
// (the in-memory guard; Redis expires keys natively).
type GuardSweeper interface {
	SweepExpired() int
}

// Sweeper runs the reconciliation sweep on a fixed cadence
type Sweeper struct {
	handler  *command.ReconcileStaleHandler
	guard    GuardSweeper // nil when the guard expires entries itself
	interval time.Duration
}

// NewSweeper creates a new reconciliation sweeper
func NewSweeper(handler *command.ReconcileStaleHandler, guard GuardSweeper, interval time.Duration) *Sweeper {
	return &Sweeper{handler: handler, guard: guard, interval: interval}
}

// Run blocks until the context is cancelled, sweeping once per interval.
// Call it from its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	logger.Logger.Info().
		Dur("interval", s.interval).
		Msg("Reconciliation sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info().Msg("Reconciliation sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	result, err := s.handler.Handle(ctx)
	if err != nil {
		logger.Error(ctx).Err(err).Msg("Reconciliation sweep failed")
		return
	}

	if s.guard != nil {
		if removed := s.guard.SweepExpired(); removed > 0 {
			logger.Debug(ctx).Int("removed", removed).Msg("Expired idempotency entries swept")
		}
	}

	logger.Debug(ctx).
		Int("examined", result.Examined).
		Int("corrected", result.Corrected).
		Int("reapplied", result.Reapplied).
		Int("flagged", result.Flagged).
		Msg("Reconciliation sweep pass finished")
}
