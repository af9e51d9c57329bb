package domain

import (
	"context"
	"time"
)

// IntentMutator runs inside the per-intent lock. It mutates the intent and
// returns the audit rows to persist atomically with it.
type IntentMutator func(intent *PaymentIntent) ([]*IntentTransition, error)

// IntentRepository defines the contract for payment intent data access.
// Mutate serializes concurrent writers on the same intent: implementations
// take a row lock (or equivalent) for the duration of the mutator so the
// state machine never evaluates two transitions concurrently for one intent.
type IntentRepository interface {
	Create(ctx context.Context, intent *PaymentIntent) error
	FindByID(ctx context.Context, id string) (*PaymentIntent, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*PaymentIntent, error)
	FindByProviderReference(ctx context.Context, provider, reference string) (*PaymentIntent, error)
	FindStale(ctx context.Context, statuses []Status, olderThan time.Time, limit int) ([]PaymentIntent, error)
	FindAll(ctx context.Context, limit, offset int) ([]PaymentIntent, error)
	Mutate(ctx context.Context, id string, fn IntentMutator) (*PaymentIntent, error)
	Transitions(ctx context.Context, intentID string) ([]IntentTransition, error)
}

// LedgerRepository defines the contract for the payments ledger
type LedgerRepository interface {
	UpsertByIntent(ctx context.Context, payment *Payment) error
	FindByIntentID(ctx context.Context, intentID string) (*Payment, error)
	FindByOrderID(ctx context.Context, orderID string) ([]Payment, error)
}

// WebhookEventRepository defines the contract for the processed-event ledger.
// Insert fails with ErrDuplicateOperation when the (provider, event_id) pair
// already exists.
type WebhookEventRepository interface {
	Insert(ctx context.Context, event *WebhookEvent) error
	Update(ctx context.Context, event *WebhookEvent) error
	FindUnmatched(ctx context.Context, limit int) ([]WebhookEvent, error)
}
