package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/craftmarket/payment-engine/internal/payments/config"
	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/idempotency"
	"github.com/craftmarket/payment-engine/internal/payments/ledger"
	"github.com/craftmarket/payment-engine/internal/payments/metrics"
	"github.com/craftmarket/payment-engine/internal/payments/provider"
	"github.com/craftmarket/payment-engine/kafka"
	"github.com/craftmarket/payment-engine/pkg/logger"
)

// RefundCommand refunds part or all of a captured intent. AmountMinor zero
// refunds the remaining captured balance.
type RefundCommand struct {
	IntentID       string `json:"-"`
	AmountMinor    int64  `json:"amount_minor,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// RefundHandler handles full and partial refunds
type RefundHandler struct {
	intents    domain.IntentRepository
	registry   *provider.Registry
	guard      idempotency.Guard
	reconciler *ledger.Reconciler
	retry      provider.RetryPolicy
	cfg        config.Config
}

// NewRefundHandler creates a new RefundHandler
func NewRefundHandler(intents domain.IntentRepository, registry *provider.Registry, guard idempotency.Guard, reconciler *ledger.Reconciler, cfg config.Config) *RefundHandler {
	return &RefundHandler{
		intents:    intents,
		registry:   registry,
		guard:      guard,
		reconciler: reconciler,
		retry: provider.RetryPolicy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryBaseDelay,
			MaxDelay:  cfg.RetryMaxDelay,
		},
		cfg: cfg,
	}
}

// Handle issues the refund with the provider, then applies it to the intent
// and the ledger. The captured-balance bound is enforced before the provider
// is contacted so an over-refund never leaves the process.
func (h *RefundHandler) Handle(ctx context.Context, cmd RefundCommand) (*domain.PaymentIntent, error) {
	if cmd.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency_key is required")
	}

	intent, err := h.intents.FindByID(ctx, cmd.IntentID)
	if err != nil {
		return nil, err
	}
	if intent.CapturedMinor == nil {
		return nil, fmt.Errorf("%w: refund before capture", domain.ErrStaleEvent)
	}
	if intent.ActiveMinor() == 0 {
		return nil, fmt.Errorf("%w: captured balance already refunded", domain.ErrStaleEvent)
	}

	amount := cmd.AmountMinor
	if amount == 0 {
		amount = intent.ActiveMinor()
	}
	if amount <= 0 || amount > intent.ActiveMinor() {
		metrics.InvariantViolations.Inc()
		return nil, fmt.Errorf("%w: refund %d exceeds captured balance %d",
			domain.ErrInvariantViolation, amount, intent.ActiveMinor())
	}

	adapter, err := h.registry.Get(intent.Provider)
	if err != nil {
		return nil, err
	}

	guardKey := "refund:" + intent.ID + ":" + cmd.IdempotencyKey
	reservation, err := h.guard.Reserve(ctx, guardKey)
	if err != nil {
		if errors.Is(err, idempotency.ErrInFlight) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !reservation.Acquired {
		return h.intents.FindByID(ctx, intent.ID)
	}

	_, callErr := h.retry.Do(ctx, func(ctx context.Context) (*domain.ProviderResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, h.cfg.ProviderTimeout)
		defer cancel()
		return adapter.Refund(callCtx, intent.ProviderTransactionID, amount)
	})
	if callErr != nil {
		metrics.Refunds.WithLabelValues(intent.Provider, errorKind(callErr)).Inc()
		metrics.ProviderErrors.WithLabelValues(intent.Provider, errorKind(callErr)).Inc()
		h.releaseGuard(ctx, guardKey)
		return intent, callErr
	}

	intent, err = h.intents.Mutate(ctx, intent.ID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
		row, terr := intent.RecordRefund(amount, domain.CauseAdapterResponse)
		if terr != nil {
			return nil, terr
		}
		return []*domain.IntentTransition{row}, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleEvent) {
			// The refund webhook landed first; keep its state.
			intent, err = h.intents.FindByID(ctx, cmd.IntentID)
		}
		if err != nil {
			h.releaseGuard(ctx, guardKey)
			return nil, err
		}
	}

	if err := h.reconciler.Record(ctx, intent, kafka.EventTypePaymentRefunded); err != nil {
		logger.Error(ctx).Err(err).Str("intent_id", intent.ID).Msg("Ledger record after refund failed")
	}

	if err := h.guard.Complete(ctx, guardKey, []byte(intent.ID)); err != nil {
		logger.Warn(ctx).Err(err).Str("intent_id", intent.ID).Msg("Failed to store idempotency result")
	}

	metrics.Refunds.WithLabelValues(intent.Provider, "success").Inc()
	logger.Info(ctx).
		Str("intent_id", intent.ID).
		Int64("refunded_minor", amount).
		Str("status", string(intent.Status)).
		Msg("Refund applied")
	return intent, nil
}

func (h *RefundHandler) releaseGuard(ctx context.Context, key string) {
	if err := h.guard.Release(ctx, key); err != nil {
		logger.Warn(ctx).Err(err).Str("key", key).Msg("Failed to release idempotency reservation")
	}
}
