package query

import (
	"context"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
)

const defaultPageSize = 50

// ListIntentsHandler handles paginated intent listing
type ListIntentsHandler struct {
	intents domain.IntentRepository
}

// NewListIntentsHandler creates a new ListIntentsHandler
func NewListIntentsHandler(intents domain.IntentRepository) *ListIntentsHandler {
	return &ListIntentsHandler{intents: intents}
}

// Handle lists intents newest-first
func (h *ListIntentsHandler) Handle(ctx context.Context, limit, offset int) ([]domain.PaymentIntent, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return h.intents.FindAll(ctx, limit, offset)
}
