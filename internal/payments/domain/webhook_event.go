package domain

import "time"

// WebhookEvent is the processed-event ledger: one row per provider event ID.
// The unique index on (provider, event_id) is the durable deduplication layer
// behind the idempotency guard. Canonical fields are persisted so an event
// that arrived before its intent can be re-applied by the reconciliation
// sweep without the raw body.
type WebhookEvent struct {
	ID                uint       `json:"id" gorm:"primaryKey"`
	EventID           string     `json:"event_id" gorm:"not null;uniqueIndex:idx_webhook_provider_event"`
	Provider          string     `json:"provider" gorm:"not null;uniqueIndex:idx_webhook_provider_event"`
	Kind              EventKind  `json:"kind" gorm:"not null"`
	ProviderReference string     `json:"provider_reference" gorm:"index"`
	AmountMinor       int64      `json:"amount_minor"`
	TransactionID     string     `json:"transaction_id"`
	OccurredAt        time.Time  `json:"occurred_at"`
	PayloadHash       string     `json:"payload_hash" gorm:"size:64"`
	ReceivedAt        time.Time  `json:"received_at"`
	ProcessedAt       *time.Time `json:"processed_at"`
	Matched           bool       `json:"matched" gorm:"not null;default:false;index"`
	Review            bool       `json:"review" gorm:"not null;default:false"`
}

// TableName specifies the table name
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
