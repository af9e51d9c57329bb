//go:build wireinject
// +build wireinject

package payments

import (
	"github.com/google/wire"
	"gorm.io/gorm"

	"github.com/craftmarket/payment-engine/internal/payments/config"
	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/handler"
	"github.com/craftmarket/payment-engine/internal/payments/idempotency"
	"github.com/craftmarket/payment-engine/internal/payments/ledger"
	"github.com/craftmarket/payment-engine/internal/payments/provider"
	"github.com/craftmarket/payment-engine/internal/payments/repository"
	"github.com/craftmarket/payment-engine/internal/payments/usecase/command"
	"github.com/craftmarket/payment-engine/internal/payments/usecase/query"
)

// Repository providers
func ProvideIntentRepository(db *gorm.DB) domain.IntentRepository {
	return repository.NewTracedIntentRepository(db)
}

func ProvideLedgerRepository(db *gorm.DB) domain.LedgerRepository {
	return repository.NewGormLedgerRepository(db)
}

func ProvideWebhookEventRepository(db *gorm.DB) domain.WebhookEventRepository {
	return repository.NewGormWebhookEventRepository(db)
}

// Wire sets
var RepositorySet = wire.NewSet(
	ProvideIntentRepository,
	ProvideLedgerRepository,
	ProvideWebhookEventRepository,
)

var CommandHandlerSet = wire.NewSet(
	command.NewCreateIntentHandler,
	command.NewCaptureHandler,
	command.NewRefundHandler,
	command.NewCancelHandler,
	command.NewHandleWebhookHandler,
	command.NewReconcileStaleHandler,
)

var QueryHandlerSet = wire.NewSet(
	query.NewGetIntentHandler,
	query.NewListIntentsHandler,
	query.NewOrderPaymentStatusHandler,
)

// InitializeHandler initializes the payment handler with all dependencies
func InitializeHandler(db *gorm.DB, cfg config.Config, registry *provider.Registry, guard idempotency.Guard, publisher ledger.EventPublisher) (*handler.PaymentHandler, error) {
	wire.Build(
		RepositorySet,
		ledger.NewReconciler,
		CommandHandlerSet,
		QueryHandlerSet,
		handler.NewPaymentHandler,
	)
	return nil, nil
}

// InitializeSweeper initializes the reconciliation sweep handler for the
// background worker
func InitializeSweeper(db *gorm.DB, cfg config.Config, registry *provider.Registry, publisher ledger.EventPublisher) (*command.ReconcileStaleHandler, error) {
	wire.Build(
		RepositorySet,
		ledger.NewReconciler,
		command.NewReconcileStaleHandler,
	)
	return nil, nil
}
