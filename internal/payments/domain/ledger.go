package domain

import "time"

// Ledger payment statuses
const (
	PaymentCompleted = "completed"
	PaymentRefunded  = "refunded"
	PaymentDisputed  = "disputed"
)

// Payment is the ledger record of settled money movement, derived from a
// captured intent. Exactly one row exists per successfully captured intent;
// AmountMinor reflects the captured amount net of refunds.
type Payment struct {
	ID                    string    `json:"id" gorm:"primaryKey;size:64"`
	IntentID              string    `json:"intent_id" gorm:"uniqueIndex;not null"`
	OrderID               string    `json:"order_id" gorm:"not null;index"`
	AmountMinor           int64     `json:"amount_minor" gorm:"not null"`
	Currency              string    `json:"currency" gorm:"size:3"`
	Status                string    `json:"status" gorm:"not null;default:'completed'"`
	ProviderTransactionID string    `json:"provider_transaction_id"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Payment) TableName() string {
	return "payments"
}

// Active reports whether the payment still counts toward the order's paid sum
func (p *Payment) Active() bool {
	return p.Status != PaymentRefunded
}

// OrderPaymentStatus is the read model consumed by order management
type OrderPaymentStatus struct {
	OrderID       string `json:"order_id"`
	Paid          bool   `json:"paid"`
	PaidMinor     int64  `json:"paid_minor"`
	RefundedMinor int64  `json:"refunded_minor"`
	Disputed      bool   `json:"disputed"`
	Currency      string `json:"currency,omitempty"`
}
