package domain

import (
	"time"
)

// Provider names known to the engine
const (
	ProviderCard     = "card"
	ProviderPayPal   = "paypal"
	ProviderKlarna   = "klarna"
	ProviderAffirm   = "affirm"
	ProviderAfterpay = "afterpay"
)

// Status is the lifecycle state of a payment intent
type Status string

const (
	StatusCreated           Status = "created"
	StatusPending           Status = "pending"
	StatusAuthorized        Status = "authorized"
	StatusCapturing         Status = "capturing"
	StatusCompleted         Status = "completed"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusRefunded          Status = "refunded"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusExpired           Status = "expired"
	StatusDisputed          Status = "disputed"
)

// IsTerminal reports whether no further transition can leave the status.
// completed and partially_refunded are settled but can still move through
// refund and dispute branches, so they are not terminal here.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRefunded, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsTransient reports whether the status still awaits provider settlement
func (s Status) IsTransient() bool {
	switch s {
	case StatusCreated, StatusPending, StatusAuthorized, StatusCapturing:
		return true
	}
	return false
}

// PaymentIntent tracks one attempt to collect money for one order
type PaymentIntent struct {
	ID                    string    `json:"id" gorm:"primaryKey;size:64"`
	Provider              string    `json:"provider" gorm:"not null;index:idx_intents_provider_ref"`
	ProviderReference     string    `json:"provider_reference" gorm:"index:idx_intents_provider_ref"`
	OrderID               string    `json:"order_id" gorm:"not null;index"`
	AmountMinor           int64     `json:"amount_minor" gorm:"not null"`
	Currency              string    `json:"currency" gorm:"size:3;default:'USD'"`
	Status                Status    `json:"status" gorm:"not null;default:'created';index"`
	CapturedMinor         *int64    `json:"captured_minor"`
	RefundedMinor         int64     `json:"refunded_minor" gorm:"not null;default:0"`
	ProviderTransactionID string    `json:"provider_transaction_id"`
	IdempotencyKey        string    `json:"idempotency_key" gorm:"uniqueIndex;not null"`
	LastError             string    `json:"last_error,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// ActiveMinor is the captured amount net of refunds
func (p *PaymentIntent) ActiveMinor() int64 {
	if p.CapturedMinor == nil {
		return 0
	}
	return *p.CapturedMinor - p.RefundedMinor
}
