package domain

import (
	"context"
	"net/http"
	"time"
)

// EventKind is the provider-agnostic classification of a webhook notification
type EventKind string

const (
	EventPending    EventKind = "intent.pending"
	EventAuthorized EventKind = "intent.authorized"
	EventCaptured   EventKind = "intent.captured"
	EventFailed     EventKind = "intent.failed"
	EventCancelled  EventKind = "intent.cancelled"
	EventExpired    EventKind = "intent.expired"
	EventRefunded   EventKind = "intent.refunded"
	EventDisputed   EventKind = "intent.disputed"
)

// Valid reports whether the kind is one of the enumerated event kinds.
// Adapters reject anything else at verification time so the state machine
// only ever sees known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventPending, EventAuthorized, EventCaptured, EventFailed,
		EventCancelled, EventExpired, EventRefunded, EventDisputed:
		return true
	}
	return false
}

// CanonicalEvent normalizes a provider webhook into the engine's shape
type CanonicalEvent struct {
	ID                string    `json:"id"`
	Kind              EventKind `json:"kind"`
	Provider          string    `json:"provider"`
	ProviderReference string    `json:"provider_reference"`
	AmountMinor       int64     `json:"amount_minor"`
	TransactionID     string    `json:"transaction_id,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// ProviderResult is the normalized outcome of a provider call
type ProviderResult struct {
	Reference     string
	TransactionID string
	CapturedMinor int64
	RawStatus     string
	// Authorized reports that the provider placed a hold on the funds.
	// Providers whose approval happens out of band leave it false; their
	// authorized state arrives by webhook instead.
	Authorized bool
}

// ProviderStatus is the normalized answer to a live status query
type ProviderStatus struct {
	Kind          EventKind
	CapturedMinor int64
	TransactionID string
}

// CreateRequest carries everything an adapter needs to open an intent
// with its provider.
type CreateRequest struct {
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
	Metadata       map[string]string
}

// ProviderAdapter translates generic payment operations into provider-specific
// calls. Implementations are stateless and safe to retry: every mutating call
// carries the intent's idempotency key so a replay cannot double-charge.
type ProviderAdapter interface {
	Name() string
	Create(ctx context.Context, req CreateRequest) (*ProviderResult, error)
	// Authorize places a hold on the funds for two-step providers. Providers
	// that approve out of band return an unauthorized result without error.
	Authorize(ctx context.Context, reference string) (*ProviderResult, error)
	Capture(ctx context.Context, reference string, amountMinor int64, idempotencyKey string) (*ProviderResult, error)
	Refund(ctx context.Context, transactionID string, amountMinor int64) (*ProviderResult, error)
	// Status backs the reconciliation sweep's live provider query.
	Status(ctx context.Context, reference string) (*ProviderStatus, error)
	// VerifyWebhook fails with ErrInvalidSignature for any tampered payload or
	// wrong secret; it never silently succeeds.
	VerifyWebhook(rawBody []byte, headers http.Header) (*CanonicalEvent, error)
}
