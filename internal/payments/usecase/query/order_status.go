package query

import (
	"context"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/ledger"
)

// OrderPaymentStatusHandler answers "is this order paid" for order management
type OrderPaymentStatusHandler struct {
	reconciler *ledger.Reconciler
}

// NewOrderPaymentStatusHandler creates a new OrderPaymentStatusHandler
func NewOrderPaymentStatusHandler(reconciler *ledger.Reconciler) *OrderPaymentStatusHandler {
	return &OrderPaymentStatusHandler{reconciler: reconciler}
}

// Handle aggregates the order's ledger rows into a payment status
func (h *OrderPaymentStatusHandler) Handle(ctx context.Context, orderID string) (*domain.OrderPaymentStatus, error) {
	return h.reconciler.OrderPaymentStatus(ctx, orderID)
}
