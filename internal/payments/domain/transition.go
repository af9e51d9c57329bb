package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transition causes recorded in the audit log
const (
	CauseAdapterResponse = "adapter_response"
	CauseAPIRequest      = "api_request"
	CauseReconciliation  = "reconciliation"
)

// CauseWebhook tags a transition triggered by a verified webhook delivery
func CauseWebhook(eventID string) string {
	return "webhook_event:" + eventID
}

// IntentTransition is one row of the per-intent audit log
type IntentTransition struct {
	ID         string    `json:"id" gorm:"primaryKey;size:64"`
	IntentID   string    `json:"intent_id" gorm:"not null;index"`
	FromStatus Status    `json:"from_status" gorm:"not null"`
	ToStatus   Status    `json:"to_status" gorm:"not null"`
	Cause      string    `json:"cause" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name
func (IntentTransition) TableName() string {
	return "intent_transitions"
}

// allowedTransitions is the explicit forward-edge table. Anything not listed
// is rejected as stale; terminal states have no outgoing edges, so a delayed
// webhook can never revert them. Ordering is enforced by status precedence,
// not wall-clock, because webhook delivery order is not guaranteed.
var allowedTransitions = map[Status]map[Status]bool{
	StatusCreated: {
		StatusPending:    true,
		StatusAuthorized: true,
		StatusFailed:     true,
		StatusCancelled:  true,
		StatusExpired:    true,
	},
	StatusPending: {
		StatusAuthorized: true,
		StatusCapturing:  true,
		StatusCompleted:  true,
		StatusFailed:     true,
		StatusCancelled:  true,
		StatusExpired:    true,
	},
	StatusAuthorized: {
		StatusCapturing: true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
		StatusExpired:   true,
	},
	StatusCapturing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusCompleted: {
		StatusDisputed:          true,
		StatusPartiallyRefunded: true,
		StatusRefunded:          true,
	},
	StatusPartiallyRefunded: {
		// Self-edge: further partial refunds on the same intent.
		StatusPartiallyRefunded: true,
		StatusRefunded:          true,
		StatusDisputed:          true,
	},
	StatusDisputed: {
		// Dispute lost refunds the intent; dispute won settles it back.
		StatusRefunded:  true,
		StatusCompleted: true,
	},
}

// CanTransition reports whether the edge from → to is in the table
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Transition moves the intent along an allowed edge and returns the audit row.
// A disallowed edge fails with ErrStaleEvent and leaves the intent untouched.
func (p *PaymentIntent) Transition(to Status, cause string) (*IntentTransition, error) {
	if !CanTransition(p.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrStaleEvent, p.Status, to)
	}

	row := &IntentTransition{
		ID:         uuid.NewString(),
		IntentID:   p.ID,
		FromStatus: p.Status,
		ToStatus:   to,
		Cause:      cause,
		CreatedAt:  time.Now().UTC(),
	}
	p.Status = to
	return row, nil
}

// RecordCapture settles the intent: sets the captured amount exactly once and
// transitions to completed.
func (p *PaymentIntent) RecordCapture(capturedMinor int64, transactionID, cause string) (*IntentTransition, error) {
	if capturedMinor <= 0 || capturedMinor > p.AmountMinor {
		return nil, fmt.Errorf("%w: captured %d outside (0, %d]", ErrInvariantViolation, capturedMinor, p.AmountMinor)
	}
	if p.CapturedMinor != nil {
		return nil, fmt.Errorf("%w: capture already recorded", ErrStaleEvent)
	}

	row, err := p.Transition(StatusCompleted, cause)
	if err != nil {
		return nil, err
	}

	p.CapturedMinor = &capturedMinor
	if transactionID != "" {
		p.ProviderTransactionID = transactionID
	}
	return row, nil
}

// RecordRefund applies a full or partial refund against the captured amount.
// Edge validity is checked before the amount bound, so a late notification on
// an already-refunded intent reads as stale rather than an invariant breach.
func (p *PaymentIntent) RecordRefund(amountMinor int64, cause string) (*IntentTransition, error) {
	if p.CapturedMinor == nil {
		return nil, fmt.Errorf("%w: refund before capture", ErrStaleEvent)
	}

	remaining := *p.CapturedMinor - p.RefundedMinor
	target := StatusPartiallyRefunded
	if amountMinor >= remaining {
		target = StatusRefunded
	}
	if !CanTransition(p.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrStaleEvent, p.Status, target)
	}

	if amountMinor <= 0 || amountMinor > remaining {
		return nil, fmt.Errorf("%w: refund %d exceeds captured balance %d",
			ErrInvariantViolation, amountMinor, remaining)
	}

	row, err := p.Transition(target, cause)
	if err != nil {
		return nil, err
	}

	p.RefundedMinor += amountMinor
	return row, nil
}
