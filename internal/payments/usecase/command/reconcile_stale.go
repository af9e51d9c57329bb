package command

import (
	"context"
	"errors"
	"time"

	"github.com/craftmarket/payment-engine/internal/payments/config"
	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/ledger"
	"github.com/craftmarket/payment-engine/internal/payments/metrics"
	"github.com/craftmarket/payment-engine/internal/payments/provider"
	"github.com/craftmarket/payment-engine/kafka"
	"github.com/craftmarket/payment-engine/pkg/logger"
)

// ReconcileStaleHandler is the drift backstop: it resolves intents stuck in
// transient states by querying the provider directly, and re-attaches webhook
// events that arrived before their intent existed.
type ReconcileStaleHandler struct {
	intents    domain.IntentRepository
	webhooks   domain.WebhookEventRepository
	registry   *provider.Registry
	reconciler *ledger.Reconciler
	publisher  ledger.EventPublisher
	cfg        config.Config
}

// NewReconcileStaleHandler creates a new ReconcileStaleHandler
func NewReconcileStaleHandler(intents domain.IntentRepository, webhooks domain.WebhookEventRepository, registry *provider.Registry, reconciler *ledger.Reconciler, publisher ledger.EventPublisher, cfg config.Config) *ReconcileStaleHandler {
	return &ReconcileStaleHandler{
		intents:    intents,
		webhooks:   webhooks,
		registry:   registry,
		reconciler: reconciler,
		publisher:  publisher,
		cfg:        cfg,
	}
}

// SweepResult summarizes one reconciliation pass
type SweepResult struct {
	Examined  int `json:"examined"`
	Corrected int `json:"corrected"`
	Reapplied int `json:"reapplied"`
	Flagged   int `json:"flagged"`
}

// Handle runs one sweep pass. Errors on individual intents are logged and
// skipped so one bad row cannot stall the sweep.
func (h *ReconcileStaleHandler) Handle(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	cutoff := time.Now().Add(-h.cfg.StaleThreshold)
	transient := []domain.Status{domain.StatusCreated, domain.StatusPending, domain.StatusAuthorized, domain.StatusCapturing}
	stale, err := h.intents.FindStale(ctx, transient, cutoff, h.cfg.SweepBatchSize)
	if err != nil {
		return result, err
	}

	for i := range stale {
		intent := &stale[i]
		result.Examined++
		corrected, err := h.resolveIntent(ctx, intent)
		if err != nil {
			logger.Error(ctx).Err(err).Str("intent_id", intent.ID).Msg("Reconciliation of stale intent failed")
			continue
		}
		if corrected {
			result.Corrected++
		}
	}

	reapplied, flagged := h.resolveUnmatched(ctx)
	result.Reapplied = reapplied
	result.Flagged = flagged

	if result.Corrected > 0 || result.Reapplied > 0 || result.Flagged > 0 {
		logger.Info(ctx).
			Int("examined", result.Examined).
			Int("corrected", result.Corrected).
			Int("reapplied", result.Reapplied).
			Int("flagged", result.Flagged).
			Msg("Reconciliation sweep completed")
	}
	return result, nil
}

// resolveIntent queries the provider for the intent's true state and applies
// the correction. Intents that never reached the provider are expired.
func (h *ReconcileStaleHandler) resolveIntent(ctx context.Context, intent *domain.PaymentIntent) (bool, error) {
	if intent.ProviderReference == "" {
		_, err := h.intents.Mutate(ctx, intent.ID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
			if !intent.Status.IsTransient() {
				return nil, nil
			}
			row, terr := intent.Transition(domain.StatusExpired, domain.CauseReconciliation)
			if terr != nil {
				return nil, terr
			}
			intent.LastError = "no provider reference after stale threshold"
			return []*domain.IntentTransition{row}, nil
		})
		if err != nil && !errors.Is(err, domain.ErrStaleEvent) {
			return false, err
		}
		return err == nil, nil
	}

	adapter, err := h.registry.Get(intent.Provider)
	if err != nil {
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, h.cfg.ProviderTimeout)
	status, err := adapter.Status(callCtx, intent.ProviderReference)
	cancel()
	if err != nil {
		return false, err
	}

	event := &domain.CanonicalEvent{
		Kind:              status.Kind,
		Provider:          intent.Provider,
		ProviderReference: intent.ProviderReference,
		AmountMinor:       status.CapturedMinor,
		TransactionID:     status.TransactionID,
		OccurredAt:        time.Now().UTC(),
	}

	updated, err := h.intents.Mutate(ctx, intent.ID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
		return applyCanonical(intent, event, domain.CauseReconciliation)
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleEvent) {
			// Provider agrees with our state, or a webhook fixed it first.
			return false, nil
		}
		return false, err
	}

	metrics.ReconciliationDrift.WithLabelValues(intent.Provider).Inc()
	logger.Warn(ctx).
		Str("intent_id", intent.ID).
		Str("from_status", string(intent.Status)).
		Str("to_status", string(updated.Status)).
		Msg("Reconciliation corrected drifted intent")

	if ledgerRelevant(updated.Status) {
		if err := h.reconciler.Record(ctx, updated, settleEventType(event.Kind)); err != nil {
			logger.Error(ctx).Err(err).Str("intent_id", updated.ID).Msg("Ledger record after reconciliation failed")
		}
	}

	if h.publisher != nil {
		drift := kafka.PaymentEvent{
			EventType:   kafka.EventTypeReconciliationDrift,
			IntentID:    updated.ID,
			OrderID:     updated.OrderID,
			Provider:    updated.Provider,
			AmountMinor: updated.ActiveMinor(),
			Currency:    updated.Currency,
			Status:      string(updated.Status),
		}
		if err := h.publisher.PublishPaymentEvent(ctx, drift); err != nil {
			logger.Error(ctx).Err(err).Str("intent_id", updated.ID).Msg("Failed to publish drift event")
		}
	}
	return true, nil
}

// resolveUnmatched re-attempts intent lookup for webhook events that arrived
// early, and flags the ones past the deadline for manual review.
func (h *ReconcileStaleHandler) resolveUnmatched(ctx context.Context) (reapplied, flagged int) {
	events, err := h.webhooks.FindUnmatched(ctx, h.cfg.SweepBatchSize)
	if err != nil {
		logger.Error(ctx).Err(err).Msg("Failed to load unmatched webhook events")
		return 0, 0
	}

	for i := range events {
		record := &events[i]
		intent, err := h.intents.FindByProviderReference(ctx, record.Provider, record.ProviderReference)
		if err != nil {
			if errors.Is(err, domain.ErrIntentNotFound) {
				if time.Since(record.ReceivedAt) > h.cfg.UnmatchedDeadline {
					record.Review = true
					if uerr := h.webhooks.Update(ctx, record); uerr != nil {
						logger.Error(ctx).Err(uerr).Str("event_id", record.EventID).Msg("Failed to flag webhook for review")
					} else {
						flagged++
						logger.Warn(ctx).
							Str("event_id", record.EventID).
							Str("provider", record.Provider).
							Str("provider_reference", record.ProviderReference).
							Msg("Webhook unmatched past deadline, flagged for review")
					}
				}
				continue
			}
			logger.Error(ctx).Err(err).Str("event_id", record.EventID).Msg("Unmatched webhook lookup failed")
			continue
		}

		event := &domain.CanonicalEvent{
			ID:                record.EventID,
			Kind:              record.Kind,
			Provider:          record.Provider,
			ProviderReference: record.ProviderReference,
			AmountMinor:       record.AmountMinor,
			TransactionID:     record.TransactionID,
			OccurredAt:        record.OccurredAt,
		}
		cause := domain.CauseWebhook(record.EventID)
		updated, err := h.intents.Mutate(ctx, intent.ID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
			return applyCanonical(intent, event, cause)
		})

		now := time.Now().UTC()
		record.Matched = true
		record.ProcessedAt = &now

		switch {
		case err == nil:
			if ledgerRelevant(updated.Status) {
				if lerr := h.reconciler.Record(ctx, updated, settleEventType(event.Kind)); lerr != nil {
					logger.Error(ctx).Err(lerr).Str("intent_id", updated.ID).Msg("Ledger record after late webhook failed")
				}
			}
			reapplied++
		case errors.Is(err, domain.ErrStaleEvent):
			// Superseded while waiting; closed as processed.
		default:
			logger.Error(ctx).Err(err).Str("event_id", record.EventID).Msg("Failed to apply late webhook")
			continue
		}

		if uerr := h.webhooks.Update(ctx, record); uerr != nil {
			logger.Error(ctx).Err(uerr).Str("event_id", record.EventID).Msg("Failed to mark late webhook processed")
		}
	}
	return reapplied, flagged
}
