package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/metrics"
	"github.com/craftmarket/payment-engine/kafka"
	"github.com/craftmarket/payment-engine/pkg/logger"
)

// EventPublisher is the slice of the Kafka publisher the reconciler needs
type EventPublisher interface {
	PublishPaymentEvent(ctx context.Context, event kafka.PaymentEvent) error
}

// Reconciler owns the payments ledger: it derives Payment rows from settled
// intents, enforces the per-order sum invariant, and answers the order
// payment status read used by order management.
type Reconciler struct {
	payments  domain.LedgerRepository
	publisher EventPublisher // nil disables event publishing
}

// NewReconciler creates a ledger reconciler
func NewReconciler(payments domain.LedgerRepository, publisher EventPublisher) *Reconciler {
	return &Reconciler{payments: payments, publisher: publisher}
}

// Record creates or updates the single Payment row for a settled intent.
// The per-order invariant is checked first: active payments for the order,
// with this intent's new amount, must not exceed the order's amount due.
// eventType, when non-empty, is published to Kafka after the write.
func (r *Reconciler) Record(ctx context.Context, intent *domain.PaymentIntent, eventType string) error {
	if intent.CapturedMinor == nil {
		return fmt.Errorf("%w: ledger record for uncaptured intent %s", domain.ErrInvariantViolation, intent.ID)
	}

	status := domain.PaymentCompleted
	switch intent.Status {
	case domain.StatusRefunded:
		status = domain.PaymentRefunded
	case domain.StatusDisputed:
		status = domain.PaymentDisputed
	case domain.StatusCompleted, domain.StatusPartiallyRefunded:
	default:
		return fmt.Errorf("%w: ledger record for intent %s in status %s", domain.ErrInvariantViolation, intent.ID, intent.Status)
	}

	if err := r.checkOrderSum(ctx, intent); err != nil {
		metrics.InvariantViolations.Inc()
		return err
	}

	payment := &domain.Payment{
		ID:                    uuid.NewString(),
		IntentID:              intent.ID,
		OrderID:               intent.OrderID,
		AmountMinor:           intent.ActiveMinor(),
		Currency:              intent.Currency,
		Status:                status,
		ProviderTransactionID: intent.ProviderTransactionID,
	}

	if err := r.payments.UpsertByIntent(ctx, payment); err != nil {
		return fmt.Errorf("upsert payment for intent %s: %w", intent.ID, err)
	}

	logger.Info(ctx).
		Str("intent_id", intent.ID).
		Str("order_id", intent.OrderID).
		Int64("amount_minor", payment.AmountMinor).
		Str("status", payment.Status).
		Msg("Ledger payment recorded")

	if r.publisher != nil && eventType != "" {
		event := kafka.PaymentEvent{
			EventType:     eventType,
			IntentID:      intent.ID,
			OrderID:       intent.OrderID,
			Provider:      intent.Provider,
			AmountMinor:   payment.AmountMinor,
			Currency:      intent.Currency,
			Status:        string(intent.Status),
			TransactionID: intent.ProviderTransactionID,
		}
		if err := r.publisher.PublishPaymentEvent(ctx, event); err != nil {
			// The ledger write is the source of truth; a publish failure is
			// logged, not propagated.
			logger.Error(ctx).Err(err).
				Str("intent_id", intent.ID).
				Msg("Failed to publish payment event")
		}
	}

	return nil
}

// checkOrderSum enforces: active payments for the order, counting this
// intent at its new amount, never exceed the order's amount due. The order
// total is taken from this intent's AmountMinor, which the order subsystem
// sets to the order's amountDue on every intent it opens; intents for one
// order therefore carry the same bound.
func (r *Reconciler) checkOrderSum(ctx context.Context, intent *domain.PaymentIntent) error {
	existing, err := r.payments.FindByOrderID(ctx, intent.OrderID)
	if err != nil {
		return fmt.Errorf("load payments for order %s: %w", intent.OrderID, err)
	}

	total := intent.ActiveMinor()
	for _, payment := range existing {
		if payment.IntentID == intent.ID || !payment.Active() {
			continue
		}
		total += payment.AmountMinor
	}

	if total > intent.AmountMinor {
		return fmt.Errorf("%w: order %s active payments %d exceed amount due %d",
			domain.ErrInvariantViolation, intent.OrderID, total, intent.AmountMinor)
	}
	return nil
}

// OrderPaymentStatus is the read-only view order management consumes
func (r *Reconciler) OrderPaymentStatus(ctx context.Context, orderID string) (*domain.OrderPaymentStatus, error) {
	payments, err := r.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load payments for order %s: %w", orderID, err)
	}

	status := &domain.OrderPaymentStatus{OrderID: orderID}
	for _, payment := range payments {
		if payment.Active() {
			status.PaidMinor += payment.AmountMinor
		}
		if payment.Status == domain.PaymentRefunded {
			status.RefundedMinor += payment.AmountMinor
		}
		if payment.Status == domain.PaymentDisputed {
			status.Disputed = true
		}
		if status.Currency == "" {
			status.Currency = payment.Currency
		}
	}
	status.Paid = status.PaidMinor > 0
	return status, nil
}
