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

// CaptureCommand settles an intent. AmountMinor zero captures the full
// authorized amount.
type CaptureCommand struct {
	IntentID       string `json:"-"`
	AmountMinor    int64  `json:"amount_minor,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CaptureHandler handles authorize-and-capture
type CaptureHandler struct {
	intents    domain.IntentRepository
	registry   *provider.Registry
	guard      idempotency.Guard
	reconciler *ledger.Reconciler
	retry      provider.RetryPolicy
	cfg        config.Config
}

// NewCaptureHandler creates a new CaptureHandler
func NewCaptureHandler(intents domain.IntentRepository, registry *provider.Registry, guard idempotency.Guard, reconciler *ledger.Reconciler, cfg config.Config) *CaptureHandler {
	return &CaptureHandler{
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

// Handle runs authorize-and-capture, settling the intent at most once. The
// authorize leg places the hold for intents still in pending; the intent is
// then marked capturing before the settlement call, so a timeout leaves a
// durable marker for the reconciliation sweep to resolve.
func (h *CaptureHandler) Handle(ctx context.Context, cmd CaptureCommand) (*domain.PaymentIntent, error) {
	if cmd.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency_key is required")
	}

	intent, err := h.intents.FindByID(ctx, cmd.IntentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == domain.StatusCompleted {
		return intent, nil
	}

	adapter, err := h.registry.Get(intent.Provider)
	if err != nil {
		return nil, err
	}

	amount := cmd.AmountMinor
	if amount == 0 {
		amount = intent.AmountMinor
	}
	if amount < 0 || amount > intent.AmountMinor {
		return nil, fmt.Errorf("%w: capture amount %d outside (0, %d]", domain.ErrInvariantViolation, amount, intent.AmountMinor)
	}

	guardKey := "capture:" + intent.ID + ":" + cmd.IdempotencyKey
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

	if intent.Status == domain.StatusPending {
		intent, err = h.authorize(ctx, adapter, intent, guardKey)
		if err != nil {
			return intent, err
		}
	}

	// Durable marker before the outbound call.
	intent, err = h.intents.Mutate(ctx, intent.ID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
		if intent.Status == domain.StatusCapturing {
			return nil, nil
		}
		row, terr := intent.Transition(domain.StatusCapturing, domain.CauseAPIRequest)
		if terr != nil {
			return nil, terr
		}
		return []*domain.IntentTransition{row}, nil
	})
	if err != nil {
		h.releaseGuard(ctx, guardKey)
		if errors.Is(err, domain.ErrStaleEvent) {
			// Already settled or terminal; report current state.
			current, findErr := h.intents.FindByID(ctx, cmd.IntentID)
			if findErr != nil {
				return nil, findErr
			}
			if current.Status == domain.StatusCompleted {
				return current, nil
			}
			return current, err
		}
		return nil, err
	}

	result, callErr := h.retry.Do(ctx, func(ctx context.Context) (*domain.ProviderResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, h.cfg.ProviderTimeout)
		defer cancel()
		return adapter.Capture(callCtx, intent.ProviderReference, amount, cmd.IdempotencyKey)
	})
	if callErr != nil {
		return h.handleCaptureFailure(ctx, intent, guardKey, callErr)
	}

	captured := result.CapturedMinor
	if captured == 0 {
		captured = amount
	}

	intent, err = h.intents.Mutate(ctx, intent.ID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
		row, terr := intent.RecordCapture(captured, result.TransactionID, domain.CauseAdapterResponse)
		if terr != nil {
			return nil, terr
		}
		return []*domain.IntentTransition{row}, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleEvent) {
			// A webhook recorded the capture while the response was in flight.
			intent, err = h.intents.FindByID(ctx, cmd.IntentID)
			if err != nil {
				h.releaseGuard(ctx, guardKey)
				return nil, err
			}
		} else {
			h.releaseGuard(ctx, guardKey)
			return nil, err
		}
	}

	if err := h.reconciler.Record(ctx, intent, kafka.EventTypePaymentCaptured); err != nil {
		logger.Error(ctx).Err(err).Str("intent_id", intent.ID).Msg("Ledger record after capture failed")
	}

	if err := h.guard.Complete(ctx, guardKey, []byte(intent.ID)); err != nil {
		logger.Warn(ctx).Err(err).Str("intent_id", intent.ID).Msg("Failed to store idempotency result")
	}

	metrics.Captures.WithLabelValues(intent.Provider, "success").Inc()
	logger.Info(ctx).
		Str("intent_id", intent.ID).
		Int64("captured_minor", captured).
		Msg("Payment captured")
	return intent, nil
}

// authorize runs the authorize leg for intents the provider has only
// acknowledged. An unauthorized result without error means approval happens
// out of band; the intent stays pending and settlement proceeds against the
// provider's own check.
func (h *CaptureHandler) authorize(ctx context.Context, adapter domain.ProviderAdapter, intent *domain.PaymentIntent, guardKey string) (*domain.PaymentIntent, error) {
	result, callErr := h.retry.Do(ctx, func(ctx context.Context) (*domain.ProviderResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, h.cfg.ProviderTimeout)
		defer cancel()
		return adapter.Authorize(callCtx, intent.ProviderReference)
	})
	if callErr != nil {
		if domain.IsRetryable(callErr) {
			metrics.Captures.WithLabelValues(intent.Provider, "unavailable").Inc()
			metrics.ProviderErrors.WithLabelValues(intent.Provider, errorKind(callErr)).Inc()
			h.releaseGuard(ctx, guardKey)
			logger.Warn(ctx).Err(callErr).
				Str("intent_id", intent.ID).
				Msg("Authorization unresolved; intent left in pending")
			return intent, callErr
		}
		return h.handleCaptureFailure(ctx, intent, guardKey, callErr)
	}

	if !result.Authorized {
		return intent, nil
	}

	updated, err := h.intents.Mutate(ctx, intent.ID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
		if intent.Status != domain.StatusPending {
			// A webhook moved the intent while the call was in flight.
			return nil, nil
		}
		row, terr := intent.Transition(domain.StatusAuthorized, domain.CauseAdapterResponse)
		if terr != nil {
			return nil, terr
		}
		return []*domain.IntentTransition{row}, nil
	})
	if err != nil {
		h.releaseGuard(ctx, guardKey)
		return intent, err
	}
	return updated, nil
}

// handleCaptureFailure resolves a failed provider call. Transient failures
// leave the intent in capturing for the sweep; rejections fail it.
func (h *CaptureHandler) handleCaptureFailure(ctx context.Context, intent *domain.PaymentIntent, guardKey string, callErr error) (*domain.PaymentIntent, error) {
	if domain.IsRetryable(callErr) {
		metrics.Captures.WithLabelValues(intent.Provider, "unavailable").Inc()
		metrics.ProviderErrors.WithLabelValues(intent.Provider, errorKind(callErr)).Inc()
		h.releaseGuard(ctx, guardKey)
		logger.Warn(ctx).Err(callErr).
			Str("intent_id", intent.ID).
			Msg("Capture unresolved; intent left in capturing for reconciliation")
		return intent, callErr
	}

	metrics.Captures.WithLabelValues(intent.Provider, "rejected").Inc()
	metrics.ProviderErrors.WithLabelValues(intent.Provider, "rejected").Inc()

	failed, err := h.intents.Mutate(ctx, intent.ID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
		row, terr := intent.Transition(domain.StatusFailed, domain.CauseAdapterResponse)
		if terr != nil {
			return nil, terr
		}
		intent.LastError = callErr.Error()
		return []*domain.IntentTransition{row}, nil
	})
	if err != nil {
		h.releaseGuard(ctx, guardKey)
		return intent, callErr
	}

	if err := h.guard.Complete(ctx, guardKey, []byte(failed.ID)); err != nil {
		logger.Warn(ctx).Err(err).Str("intent_id", failed.ID).Msg("Failed to store idempotency result")
	}
	return failed, callErr
}

func (h *CaptureHandler) releaseGuard(ctx context.Context, key string) {
	if err := h.guard.Release(ctx, key); err != nil {
		logger.Warn(ctx).Err(err).Str("key", key).Msg("Failed to release idempotency reservation")
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "unavailable"
	default:
		return "rejected"
	}
}
