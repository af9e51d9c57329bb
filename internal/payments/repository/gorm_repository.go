package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
)

// AutoMigrate creates or updates the engine's tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.PaymentIntent{},
		&domain.IntentTransition{},
		&domain.Payment{},
		&domain.WebhookEvent{},
	)
}

// GormIntentRepository persists payment intents in PostgreSQL
type GormIntentRepository struct {
	db *gorm.DB
}

func NewGormIntentRepository(db *gorm.DB) *GormIntentRepository {
	return &GormIntentRepository{db: db}
}

func (r *GormIntentRepository) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	err := r.db.WithContext(ctx).Create(intent).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicateOperation
	}
	return err
}

func (r *GormIntentRepository) FindByID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := r.db.WithContext(ctx).First(&intent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *GormIntentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := r.db.WithContext(ctx).First(&intent, "idempotency_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *GormIntentRepository) FindByProviderReference(ctx context.Context, provider, reference string) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_reference = ?", provider, reference).
		First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *GormIntentRepository) FindStale(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.PaymentIntent, error) {
	var intents []domain.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

func (r *GormIntentRepository) FindAll(ctx context.Context, limit, offset int) ([]domain.PaymentIntent, error) {
	var intents []domain.PaymentIntent
	err := r.db.WithContext(ctx).
		Limit(limit).Offset(offset).
		Order("created_at DESC").
		Find(&intents).Error
	return intents, err
}

// Mutate runs fn under a SELECT ... FOR UPDATE row lock so concurrent
// transitions on the same intent are serialized; the intent update and its
// audit rows commit atomically.
func (r *GormIntentRepository) Mutate(ctx context.Context, id string, fn domain.IntentMutator) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&intent, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrIntentNotFound
		}
		if err != nil {
			return err
		}

		transitions, err := fn(&intent)
		if err != nil {
			return err
		}

		if err := tx.Save(&intent).Error; err != nil {
			return err
		}
		for _, transition := range transitions {
			if err := tx.Create(transition).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *GormIntentRepository) Transitions(ctx context.Context, intentID string) ([]domain.IntentTransition, error) {
	var transitions []domain.IntentTransition
	err := r.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		Order("created_at ASC").
		Find(&transitions).Error
	return transitions, err
}

// GormLedgerRepository persists payment ledger rows
type GormLedgerRepository struct {
	db *gorm.DB
}

func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

func (r *GormLedgerRepository) UpsertByIntent(ctx context.Context, payment *domain.Payment) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "intent_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"amount_minor", "status", "provider_transaction_id", "updated_at",
		}),
	}).Create(payment).Error
}

// FindByIntentID returns (nil, nil) when no ledger row exists for the intent
func (r *GormLedgerRepository) FindByIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	var payment domain.Payment
	err := r.db.WithContext(ctx).First(&payment, "intent_id = ?", intentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *GormLedgerRepository) FindByOrderID(ctx context.Context, orderID string) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

// GormWebhookEventRepository persists the processed-event ledger
type GormWebhookEventRepository struct {
	db *gorm.DB
}

func NewGormWebhookEventRepository(db *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

func (r *GormWebhookEventRepository) Insert(ctx context.Context, event *domain.WebhookEvent) error {
	err := r.db.WithContext(ctx).Create(event).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicateOperation
	}
	return err
}

func (r *GormWebhookEventRepository) Update(ctx context.Context, event *domain.WebhookEvent) error {
	return r.db.WithContext(ctx).Save(event).Error
}

func (r *GormWebhookEventRepository) FindUnmatched(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("matched = ? AND review = ?", false, false).
		Order("received_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
