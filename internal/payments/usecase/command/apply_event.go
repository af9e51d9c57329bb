package command

import (
	"fmt"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/kafka"
)

// applyCanonical maps a canonical event onto the intent's state machine. It
// runs inside the repository's per-intent lock, so it only mutates the intent
// and returns the audit rows. Out-of-order deliveries surface as ErrStaleEvent
// from the transition table and leave the intent untouched.
func applyCanonical(intent *domain.PaymentIntent, event *domain.CanonicalEvent, cause string) ([]*domain.IntentTransition, error) {
	switch event.Kind {
	case domain.EventPending:
		row, err := intent.Transition(domain.StatusPending, cause)
		if err != nil {
			return nil, err
		}
		return []*domain.IntentTransition{row}, nil

	case domain.EventAuthorized:
		row, err := intent.Transition(domain.StatusAuthorized, cause)
		if err != nil {
			return nil, err
		}
		return []*domain.IntentTransition{row}, nil

	case domain.EventCaptured:
		if intent.CapturedMinor != nil {
			// Already settled: only the disputed -> completed resolution edge
			// accepts a repeat capture notification; anything else is stale.
			row, err := intent.Transition(domain.StatusCompleted, cause)
			if err != nil {
				return nil, err
			}
			return []*domain.IntentTransition{row}, nil
		}
		amount := event.AmountMinor
		if amount == 0 {
			amount = intent.AmountMinor
		}
		row, err := intent.RecordCapture(amount, event.TransactionID, cause)
		if err != nil {
			return nil, err
		}
		return []*domain.IntentTransition{row}, nil

	case domain.EventRefunded:
		amount := event.AmountMinor
		if amount == 0 {
			amount = intent.ActiveMinor()
		}
		row, err := intent.RecordRefund(amount, cause)
		if err != nil {
			return nil, err
		}
		return []*domain.IntentTransition{row}, nil

	case domain.EventFailed:
		row, err := intent.Transition(domain.StatusFailed, cause)
		if err != nil {
			return nil, err
		}
		intent.LastError = "provider reported failure"
		return []*domain.IntentTransition{row}, nil

	case domain.EventCancelled:
		row, err := intent.Transition(domain.StatusCancelled, cause)
		if err != nil {
			return nil, err
		}
		return []*domain.IntentTransition{row}, nil

	case domain.EventExpired:
		row, err := intent.Transition(domain.StatusExpired, cause)
		if err != nil {
			return nil, err
		}
		return []*domain.IntentTransition{row}, nil

	case domain.EventDisputed:
		row, err := intent.Transition(domain.StatusDisputed, cause)
		if err != nil {
			return nil, err
		}
		return []*domain.IntentTransition{row}, nil
	}

	return nil, fmt.Errorf("%w: unrecognized event kind %q", domain.ErrStaleEvent, event.Kind)
}

// settleEventType returns the Kafka event type to publish after applying the
// event, or "" when the event does not settle money.
func settleEventType(kind domain.EventKind) string {
	switch kind {
	case domain.EventCaptured:
		return kafka.EventTypePaymentCaptured
	case domain.EventRefunded:
		return kafka.EventTypePaymentRefunded
	}
	return ""
}

// ledgerRelevant reports whether the intent's status has a ledger row to keep
// in sync after this event.
func ledgerRelevant(status domain.Status) bool {
	switch status {
	case domain.StatusCompleted, domain.StatusPartiallyRefunded,
		domain.StatusRefunded, domain.StatusDisputed:
		return true
	}
	return false
}
