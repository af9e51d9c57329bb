package kafka

import "time"

// PaymentEvent is published on every settled money movement and on
// reconciliation corrections; order management and notifications consume it.
type PaymentEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	IntentID      string    `json:"intent_id"`
	OrderID       string    `json:"order_id"`
	Provider      string    `json:"provider"`
	AmountMinor   int64     `json:"amount_minor"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Event types
const (
	EventTypePaymentCaptured     = "payment.captured"
	EventTypePaymentRefunded     = "payment.refunded"
	EventTypeReconciliationDrift = "payment.reconciliation_drift"
)

// Kafka topics
const (
	TopicPaymentEvents = "payment-events"
)
