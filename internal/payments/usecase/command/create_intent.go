package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/craftmarket/payment-engine/internal/payments/config"
	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/idempotency"
	"github.com/craftmarket/payment-engine/internal/payments/metrics"
	"github.com/craftmarket/payment-engine/internal/payments/provider"
	"github.com/craftmarket/payment-engine/pkg/logger"
)

// CreateIntentCommand opens a payment intent for an order
type CreateIntentCommand struct {
	OrderID        string            `json:"order_id"`
	Provider       string            `json:"provider"`
	AmountMinor    int64             `json:"amount_minor"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CreateIntentHandler handles payment intent creation
type CreateIntentHandler struct {
	intents  domain.IntentRepository
	registry *provider.Registry
	guard    idempotency.Guard
	retry    provider.RetryPolicy
	cfg      config.Config
}

// NewCreateIntentHandler creates a new CreateIntentHandler
func NewCreateIntentHandler(intents domain.IntentRepository, registry *provider.Registry, guard idempotency.Guard, cfg config.Config) *CreateIntentHandler {
	return &CreateIntentHandler{
		intents:  intents,
		registry: registry,
		guard:    guard,
		retry: provider.RetryPolicy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryBaseDelay,
			MaxDelay:  cfg.RetryMaxDelay,
		},
		cfg: cfg,
	}
}

func (c CreateIntentCommand) validate() error {
	if strings.TrimSpace(c.OrderID) == "" {
		return fmt.Errorf("order_id is required")
	}
	if strings.TrimSpace(c.IdempotencyKey) == "" {
		return fmt.Errorf("idempotency_key is required")
	}
	if c.AmountMinor <= 0 {
		return fmt.Errorf("amount_minor must be positive")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code")
	}
	return nil
}

// Handle opens the intent exactly once per idempotency key. A replay of a
// completed call returns the original intent; a replay racing the first call
// fails fast with ErrInFlight.
func (h *CreateIntentHandler) Handle(ctx context.Context, cmd CreateIntentCommand) (*domain.PaymentIntent, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	adapter, err := h.registry.Get(cmd.Provider)
	if err != nil {
		return nil, err
	}

	guardKey := "intent:" + cmd.IdempotencyKey
	reservation, err := h.guard.Reserve(ctx, guardKey)
	if err != nil {
		if errors.Is(err, idempotency.ErrInFlight) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !reservation.Acquired {
		return h.intents.FindByID(ctx, string(reservation.Result))
	}

	intent, err := h.openIntent(ctx, cmd)
	if err != nil {
		// Nothing durable happened; let a retry start over.
		h.release(ctx, guardKey)
		return nil, err
	}

	intent, callErr := h.contactProvider(ctx, adapter, cmd, intent)
	if callErr != nil && domain.IsRetryable(callErr) {
		// The intent row exists in created; a client retry re-enters here via
		// the duplicate-key path and re-attempts the provider call with the
		// same key, which the provider deduplicates.
		h.release(ctx, guardKey)
		metrics.IntentsCreated.WithLabelValues(cmd.Provider, "unavailable").Inc()
		return intent, callErr
	}

	if err := h.guard.Complete(ctx, guardKey, []byte(intent.ID)); err != nil {
		logger.Warn(ctx).Err(err).Str("intent_id", intent.ID).Msg("Failed to store idempotency result")
	}

	if callErr != nil {
		metrics.IntentsCreated.WithLabelValues(cmd.Provider, "rejected").Inc()
		return intent, callErr
	}

	metrics.IntentsCreated.WithLabelValues(cmd.Provider, "success").Inc()
	logger.Info(ctx).
		Str("intent_id", intent.ID).
		Str("order_id", cmd.OrderID).
		Str("provider", cmd.Provider).
		Int64("amount_minor", cmd.AmountMinor).
		Msg("Payment intent created")
	return intent, nil
}

// openIntent persists the intent row, or resumes the existing one when the
// idempotency key already exists from a prior partial attempt.
func (h *CreateIntentHandler) openIntent(ctx context.Context, cmd CreateIntentCommand) (*domain.PaymentIntent, error) {
	intent := &domain.PaymentIntent{
		ID:             "pi_" + uuid.NewString(),
		Provider:       cmd.Provider,
		OrderID:        cmd.OrderID,
		AmountMinor:    cmd.AmountMinor,
		Currency:       strings.ToUpper(cmd.Currency),
		Status:         domain.StatusCreated,
		IdempotencyKey: cmd.IdempotencyKey,
	}

	err := h.intents.Create(ctx, intent)
	if err == nil {
		return intent, nil
	}
	if !errors.Is(err, domain.ErrDuplicateOperation) {
		return nil, fmt.Errorf("persist intent: %w", err)
	}

	existing, findErr := h.intents.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
	if findErr != nil {
		return nil, fmt.Errorf("load intent for idempotency key: %w", findErr)
	}
	return existing, nil
}

// contactProvider opens the intent with the provider and advances the row to
// pending. A resumed intent that already has a provider reference skips the
// call.
func (h *CreateIntentHandler) contactProvider(ctx context.Context, adapter domain.ProviderAdapter, cmd CreateIntentCommand, intent *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	if intent.Status != domain.StatusCreated || intent.ProviderReference != "" {
		return intent, nil
	}

	result, err := h.retry.Do(ctx, func(ctx context.Context) (*domain.ProviderResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, h.cfg.ProviderTimeout)
		defer cancel()
		return adapter.Create(callCtx, domain.CreateRequest{
			IdempotencyKey: cmd.IdempotencyKey,
			AmountMinor:    cmd.AmountMinor,
			Currency:       strings.ToUpper(cmd.Currency),
			Metadata:       cmd.Metadata,
		})
	})
	if err != nil {
		if domain.IsRetryable(err) {
			return intent, err
		}
		metrics.ProviderErrors.WithLabelValues(cmd.Provider, "rejected").Inc()
		failed, mutErr := h.intents.Mutate(ctx, intent.ID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
			row, terr := intent.Transition(domain.StatusFailed, domain.CauseAdapterResponse)
			if terr != nil {
				return nil, terr
			}
			intent.LastError = err.Error()
			return []*domain.IntentTransition{row}, nil
		})
		if mutErr != nil {
			return intent, fmt.Errorf("record provider rejection: %w", mutErr)
		}
		return failed, err
	}

	updated, err := h.intents.Mutate(ctx, intent.ID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
		row, terr := intent.Transition(domain.StatusPending, domain.CauseAdapterResponse)
		if terr != nil {
			return nil, terr
		}
		intent.ProviderReference = result.Reference
		return []*domain.IntentTransition{row}, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleEvent) {
			// A webhook advanced the intent first; keep its state.
			return h.intents.FindByID(ctx, intent.ID)
		}
		return intent, fmt.Errorf("advance intent to pending: %w", err)
	}
	return updated, nil
}

func (h *CreateIntentHandler) release(ctx context.Context, key string) {
	if err := h.guard.Release(ctx, key); err != nil {
		logger.Warn(ctx).Err(err).Str("key", key).Msg("Failed to release idempotency reservation")
	}
}
