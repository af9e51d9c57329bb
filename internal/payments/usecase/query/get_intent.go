package query

import (
	"context"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
)

// IntentDetails is an intent with its full audit trail
type IntentDetails struct {
	Intent      *domain.PaymentIntent     `json:"intent"`
	Transitions []domain.IntentTransition `json:"transitions"`
}

// GetIntentHandler handles single-intent reads
type GetIntentHandler struct {
	intents domain.IntentRepository
}

// NewGetIntentHandler creates a new GetIntentHandler
func NewGetIntentHandler(intents domain.IntentRepository) *GetIntentHandler {
	return &GetIntentHandler{intents: intents}
}

// Handle returns the intent and its transition history
func (h *GetIntentHandler) Handle(ctx context.Context, intentID string) (*IntentDetails, error) {
	intent, err := h.intents.FindByID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	transitions, err := h.intents.Transitions(ctx, intentID)
	if err != nil {
		return nil, err
	}

	return &IntentDetails{Intent: intent, Transitions: transitions}, nil
}
