package command

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/craftmarket/payment-engine/internal/payments/config"
	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/idempotency"
	"github.com/craftmarket/payment-engine/internal/payments/ledger"
	"github.com/craftmarket/payment-engine/internal/payments/metrics"
	"github.com/craftmarket/payment-engine/internal/payments/provider"
	"github.com/craftmarket/payment-engine/pkg/logger"
)

// WebhookCommand is one raw provider delivery
type WebhookCommand struct {
	Provider string
	Body     []byte
	Headers  http.Header
}

// WebhookResult classifies what happened to a delivery
type WebhookResult string

const (
	WebhookResultProcessed WebhookResult = "processed"
	WebhookResultDuplicate WebhookResult = "duplicate"
	WebhookResultStale     WebhookResult = "stale"
	WebhookResultUnmatched WebhookResult = "unmatched"
)

// HandleWebhookHandler verifies, deduplicates, and applies provider webhooks
type HandleWebhookHandler struct {
	intents    domain.IntentRepository
	webhooks   domain.WebhookEventRepository
	registry   *provider.Registry
	guard      idempotency.Guard
	reconciler *ledger.Reconciler
	cfg        config.Config
}

// NewHandleWebhookHandler creates a new HandleWebhookHandler
func NewHandleWebhookHandler(intents domain.IntentRepository, webhooks domain.WebhookEventRepository, registry *provider.Registry, guard idempotency.Guard, reconciler *ledger.Reconciler, cfg config.Config) *HandleWebhookHandler {
	return &HandleWebhookHandler{
		intents:    intents,
		webhooks:   webhooks,
		registry:   registry,
		guard:      guard,
		reconciler: reconciler,
		cfg:        cfg,
	}
}

// Handle runs the ingestion pipeline: verify signature, deduplicate by
// (provider, event_id), match the intent, apply the event under the intent
// lock. Duplicates and stale events succeed without touching state so the
// provider stops redelivering.
func (h *HandleWebhookHandler) Handle(ctx context.Context, cmd WebhookCommand) (WebhookResult, error) {
	adapter, err := h.registry.Get(cmd.Provider)
	if err != nil {
		return "", err
	}

	event, err := adapter.VerifyWebhook(cmd.Body, cmd.Headers)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(cmd.Provider, metrics.WebhookRejected).Inc()
		logger.Warn(ctx).Err(err).Str("provider", cmd.Provider).Msg("Webhook rejected")
		return "", err
	}
	event.Provider = cmd.Provider

	guardKey := "webhook:" + cmd.Provider + ":" + event.ID
	reservation, err := h.guard.Reserve(ctx, guardKey)
	if err != nil {
		if errors.Is(err, idempotency.ErrInFlight) {
			// A concurrent delivery of the same event is being applied; this
			// copy is a duplicate.
			metrics.WebhookEvents.WithLabelValues(cmd.Provider, metrics.WebhookDuplicate).Inc()
			return WebhookResultDuplicate, nil
		}
		return "", fmt.Errorf("reserve webhook key: %w", err)
	}
	if !reservation.Acquired {
		metrics.WebhookEvents.WithLabelValues(cmd.Provider, metrics.WebhookDuplicate).Inc()
		return WebhookResultDuplicate, nil
	}

	hash := sha256.Sum256(cmd.Body)
	record := &domain.WebhookEvent{
		EventID:           event.ID,
		Provider:          cmd.Provider,
		Kind:              event.Kind,
		ProviderReference: event.ProviderReference,
		AmountMinor:       event.AmountMinor,
		TransactionID:     event.TransactionID,
		OccurredAt:        event.OccurredAt,
		PayloadHash:       hex.EncodeToString(hash[:]),
		ReceivedAt:        time.Now().UTC(),
	}
	if err := h.webhooks.Insert(ctx, record); err != nil {
		if errors.Is(err, domain.ErrDuplicateOperation) {
			// The durable ledger already has this event from before the guard
			// entry expired.
			h.complete(ctx, guardKey, WebhookResultDuplicate)
			metrics.WebhookEvents.WithLabelValues(cmd.Provider, metrics.WebhookDuplicate).Inc()
			return WebhookResultDuplicate, nil
		}
		h.releaseGuard(ctx, guardKey)
		return "", fmt.Errorf("record webhook event: %w", err)
	}

	intent, err := h.matchIntent(ctx, event)
	if err != nil {
		if errors.Is(err, domain.ErrIntentNotFound) {
			// Left unmatched; the reconciliation sweep re-attempts from the
			// durable row.
			h.complete(ctx, guardKey, WebhookResultUnmatched)
			metrics.WebhookEvents.WithLabelValues(cmd.Provider, metrics.WebhookUnmatched).Inc()
			logger.Warn(ctx).
				Str("provider", cmd.Provider).
				Str("event_id", event.ID).
				Str("provider_reference", event.ProviderReference).
				Msg("Webhook arrived before its intent")
			return WebhookResultUnmatched, nil
		}
		h.releaseGuard(ctx, guardKey)
		return "", err
	}

	result, err := h.apply(ctx, intent, event, record)
	if err != nil {
		h.releaseGuard(ctx, guardKey)
		return "", err
	}

	h.complete(ctx, guardKey, result)
	return result, nil
}

// matchIntent finds the intent by provider reference, retrying briefly for
// deliveries that race the create-intent response.
func (h *HandleWebhookHandler) matchIntent(ctx context.Context, event *domain.CanonicalEvent) (*domain.PaymentIntent, error) {
	attempts := h.cfg.LookupRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		intent, err := h.intents.FindByProviderReference(ctx, event.Provider, event.ProviderReference)
		if err == nil {
			return intent, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrIntentNotFound) || attempt == attempts {
			break
		}
		select {
		case <-time.After(h.cfg.LookupRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// apply mutates the intent under its lock and finishes the event row
func (h *HandleWebhookHandler) apply(ctx context.Context, intent *domain.PaymentIntent, event *domain.CanonicalEvent, record *domain.WebhookEvent) (WebhookResult, error) {
	cause := domain.CauseWebhook(event.ID)
	updated, err := h.intents.Mutate(ctx, intent.ID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
		return applyCanonical(intent, event, cause)
	})

	now := time.Now().UTC()
	record.Matched = true
	record.ProcessedAt = &now

	switch {
	case err == nil:
		if uerr := h.webhooks.Update(ctx, record); uerr != nil {
			logger.Warn(ctx).Err(uerr).Str("event_id", event.ID).Msg("Failed to mark webhook processed")
		}
		if ledgerRelevant(updated.Status) {
			if lerr := h.reconciler.Record(ctx, updated, settleEventType(event.Kind)); lerr != nil {
				logger.Error(ctx).Err(lerr).Str("intent_id", updated.ID).Msg("Ledger record after webhook failed")
			}
		}
		metrics.WebhookEvents.WithLabelValues(event.Provider, metrics.WebhookProcessed).Inc()
		logger.Info(ctx).
			Str("event_id", event.ID).
			Str("intent_id", updated.ID).
			Str("kind", string(event.Kind)).
			Str("status", string(updated.Status)).
			Msg("Webhook applied")
		return WebhookResultProcessed, nil

	case errors.Is(err, domain.ErrStaleEvent):
		// Out-of-order or superseded; acknowledged so the provider stops
		// redelivering, state untouched.
		if uerr := h.webhooks.Update(ctx, record); uerr != nil {
			logger.Warn(ctx).Err(uerr).Str("event_id", event.ID).Msg("Failed to mark webhook processed")
		}
		metrics.WebhookEvents.WithLabelValues(event.Provider, metrics.WebhookStale).Inc()
		logger.Info(ctx).
			Str("event_id", event.ID).
			Str("intent_id", intent.ID).
			Str("kind", string(event.Kind)).
			Msg("Stale webhook discarded")
		return WebhookResultStale, nil

	case errors.Is(err, domain.ErrInvariantViolation):
		record.Matched = false
		record.ProcessedAt = nil
		record.Review = true
		if uerr := h.webhooks.Update(ctx, record); uerr != nil {
			logger.Warn(ctx).Err(uerr).Str("event_id", event.ID).Msg("Failed to flag webhook for review")
		}
		metrics.InvariantViolations.Inc()
		logger.Error(ctx).Err(err).
			Str("event_id", event.ID).
			Str("intent_id", intent.ID).
			Msg("Webhook flagged for manual review")
		return "", err

	default:
		return "", err
	}
}

func (h *HandleWebhookHandler) complete(ctx context.Context, key string, result WebhookResult) {
	if err := h.guard.Complete(ctx, key, []byte(result)); err != nil {
		logger.Warn(ctx).Err(err).Str("key", key).Msg("Failed to store webhook dedup result")
	}
}

func (h *HandleWebhookHandler) releaseGuard(ctx context.Context, key string) {
	if err := h.guard.Release(ctx, key); err != nil {
		logger.Warn(ctx).Err(err).Str("key", key).Msg("Failed to release webhook reservation")
	}
}
