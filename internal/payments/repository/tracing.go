package repository

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
)

var tracer = otel.Tracer("payments-repository")

// TracedIntentRepository wraps GormIntentRepository with tracing
type TracedIntentRepository struct {
	*GormIntentRepository
}

// NewTracedIntentRepository creates a new intent repository with tracing
func NewTracedIntentRepository(db *gorm.DB) *TracedIntentRepository {
	return &TracedIntentRepository{
		GormIntentRepository: NewGormIntentRepository(db),
	}
}

func (r *TracedIntentRepository) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	ctx, span := tracer.Start(ctx, "repository.CreateIntent",
		trace.WithAttributes(
			attribute.String("intent.id", intent.ID),
			attribute.String("intent.provider", intent.Provider),
			attribute.String("intent.order_id", intent.OrderID),
		),
	)
	defer span.End()

	err := r.GormIntentRepository.Create(ctx, intent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *TracedIntentRepository) FindByID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	ctx, span := tracer.Start(ctx, "repository.FindIntentByID",
		trace.WithAttributes(attribute.String("intent.id", id)),
	)
	defer span.End()

	intent, err := r.GormIntentRepository.FindByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("intent.status", string(intent.Status)))
	return intent, nil
}

func (r *TracedIntentRepository) FindByProviderReference(ctx context.Context, provider, reference string) (*domain.PaymentIntent, error) {
	ctx, span := tracer.Start(ctx, "repository.FindIntentByProviderReference",
		trace.WithAttributes(
			attribute.String("intent.provider", provider),
			attribute.String("intent.provider_reference", reference),
		),
	)
	defer span.End()

	intent, err := r.GormIntentRepository.FindByProviderReference(ctx, provider, reference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return intent, nil
}

func (r *TracedIntentRepository) Mutate(ctx context.Context, id string, fn domain.IntentMutator) (*domain.PaymentIntent, error) {
	ctx, span := tracer.Start(ctx, "repository.MutateIntent",
		trace.WithAttributes(attribute.String("intent.id", id)),
	)
	defer span.End()

	start := time.Now()
	intent, err := r.GormIntentRepository.Mutate(ctx, id, fn)
	span.SetAttributes(attribute.Int64("lock.held_ms", time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("intent.status", string(intent.Status)))
	return intent, nil
}

func (r *TracedIntentRepository) FindStale(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.PaymentIntent, error) {
	ctx, span := tracer.Start(ctx, "repository.FindStaleIntents")
	defer span.End()

	intents, err := r.GormIntentRepository.FindStale(ctx, statuses, olderThan, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("result.count", len(intents)))
	return intents, nil
}
