package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
)

// MemoryIntentRepository is an in-memory IntentRepository for tests and
// local development. Mutate serializes writers per intent with a keyed
// mutex, mirroring the row lock of the gorm implementation.
type MemoryIntentRepository struct {
	mu          sync.RWMutex
	intents     map[string]domain.PaymentIntent
	transitions map[string][]domain.IntentTransition
	locks       map[string]*sync.Mutex
}

func NewMemoryIntentRepository() *MemoryIntentRepository {
	return &MemoryIntentRepository{
		intents:     make(map[string]domain.PaymentIntent),
		transitions: make(map[string][]domain.IntentTransition),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (r *MemoryIntentRepository) intentLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.locks[id]; !ok {
		r.locks[id] = &sync.Mutex{}
	}
	return r.locks[id]
}

func (r *MemoryIntentRepository) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.intents {
		if existing.IdempotencyKey == intent.IdempotencyKey {
			return domain.ErrDuplicateOperation
		}
	}

	now := time.Now()
	intent.CreatedAt = now
	intent.UpdatedAt = now
	r.intents[intent.ID] = *intent
	return nil
}

func (r *MemoryIntentRepository) FindByID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	intent, ok := r.intents[id]
	if !ok {
		return nil, domain.ErrIntentNotFound
	}
	return &intent, nil
}

func (r *MemoryIntentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, intent := range r.intents {
		if intent.IdempotencyKey == key {
			found := intent
			return &found, nil
		}
	}
	return nil, domain.ErrIntentNotFound
}

func (r *MemoryIntentRepository) FindByProviderReference(ctx context.Context, provider, reference string) (*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, intent := range r.intents {
		if intent.Provider == provider && intent.ProviderReference == reference && reference != "" {
			found := intent
			return &found, nil
		}
	}
	return nil, domain.ErrIntentNotFound
}

func (r *MemoryIntentRepository) FindStale(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []domain.PaymentIntent
	for _, intent := range r.intents {
		for _, status := range statuses {
			if intent.Status == status && intent.UpdatedAt.Before(olderThan) {
				stale = append(stale, intent)
				break
			}
		}
	}

	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (r *MemoryIntentRepository) FindAll(ctx context.Context, limit, offset int) ([]domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]domain.PaymentIntent, 0, len(r.intents))
	for _, intent := range r.intents {
		all = append(all, intent)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryIntentRepository) Mutate(ctx context.Context, id string, fn domain.IntentMutator) (*domain.PaymentIntent, error) {
	lock := r.intentLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	intent, ok := r.intents[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrIntentNotFound
	}

	transitions, err := fn(&intent)
	if err != nil {
		return nil, err
	}

	intent.UpdatedAt = time.Now()

	r.mu.Lock()
	r.intents[id] = intent
	for _, transition := range transitions {
		r.transitions[id] = append(r.transitions[id], *transition)
	}
	r.mu.Unlock()

	return &intent, nil
}

func (r *MemoryIntentRepository) Transitions(ctx context.Context, intentID string) ([]domain.IntentTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.IntentTransition(nil), r.transitions[intentID]...), nil
}

// MemoryLedgerRepository is an in-memory LedgerRepository
type MemoryLedgerRepository struct {
	mu       sync.RWMutex
	payments map[string]domain.Payment // keyed by intent ID
}

func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{payments: make(map[string]domain.Payment)}
}

func (r *MemoryLedgerRepository) UpsertByIntent(ctx context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.payments[payment.IntentID]; ok {
		payment.ID = existing.ID
		payment.CreatedAt = existing.CreatedAt
	} else {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	r.payments[payment.IntentID] = *payment
	return nil
}

func (r *MemoryLedgerRepository) FindByIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.payments[intentID]
	if !ok {
		return nil, nil
	}
	return &payment, nil
}

func (r *MemoryLedgerRepository) FindByOrderID(ctx context.Context, orderID string) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var payments []domain.Payment
	for _, payment := range r.payments {
		if payment.OrderID == orderID {
			payments = append(payments, payment)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].CreatedAt.Before(payments[j].CreatedAt) })
	return payments, nil
}

// MemoryWebhookEventRepository is an in-memory WebhookEventRepository
type MemoryWebhookEventRepository struct {
	mu     sync.Mutex
	events map[string]*domain.WebhookEvent // keyed by provider + event ID
	nextID uint
}

func NewMemoryWebhookEventRepository() *MemoryWebhookEventRepository {
	return &MemoryWebhookEventRepository{events: make(map[string]*domain.WebhookEvent)}
}

func eventKey(provider, eventID string) string {
	return provider + ":" + eventID
}

func (r *MemoryWebhookEventRepository) Insert(ctx context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := eventKey(event.Provider, event.EventID)
	if _, ok := r.events[key]; ok {
		return domain.ErrDuplicateOperation
	}

	r.nextID++
	event.ID = r.nextID
	stored := *event
	r.events[key] = &stored
	return nil
}

func (r *MemoryWebhookEventRepository) Update(ctx context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *event
	r.events[eventKey(event.Provider, event.EventID)] = &stored
	return nil
}

func (r *MemoryWebhookEventRepository) FindUnmatched(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var unmatched []domain.WebhookEvent
	for _, event := range r.events {
		if !event.Matched && !event.Review {
			unmatched = append(unmatched, *event)
		}
	}
	sort.Slice(unmatched, func(i, j int) bool { return unmatched[i].ReceivedAt.Before(unmatched[j].ReceivedAt) })
	if limit > 0 && len(unmatched) > limit {
		unmatched = unmatched[:limit]
	}
	return unmatched, nil
}
