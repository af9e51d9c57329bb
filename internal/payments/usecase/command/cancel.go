package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/pkg/logger"
)

// CancelCommand voids an intent before capture
type CancelCommand struct {
	IntentID string `json:"-"`
	Reason   string `json:"reason,omitempty"`
}

// CancelHandler handles pre-capture cancellation
type CancelHandler struct {
	intents domain.IntentRepository
}

// NewCancelHandler creates a new CancelHandler
func NewCancelHandler(intents domain.IntentRepository) *CancelHandler {
	return &CancelHandler{intents: intents}
}

// Handle cancels the intent locally. Money has not moved before capture, so
// no provider call is needed; a provider-side cancellation webhook for the
// same intent later dedupes against the terminal state.
func (h *CancelHandler) Handle(ctx context.Context, cmd CancelCommand) (*domain.PaymentIntent, error) {
	intent, err := h.intents.Mutate(ctx, cmd.IntentID, func(intent *domain.PaymentIntent) ([]*domain.IntentTransition, error) {
		if intent.Status == domain.StatusCancelled {
			return nil, nil
		}
		row, terr := intent.Transition(domain.StatusCancelled, domain.CauseAPIRequest)
		if terr != nil {
			return nil, terr
		}
		if cmd.Reason != "" {
			intent.LastError = cmd.Reason
		}
		return []*domain.IntentTransition{row}, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleEvent) {
			return nil, fmt.Errorf("%w: intent can no longer be cancelled", domain.ErrStaleEvent)
		}
		return nil, err
	}

	logger.Info(ctx).Str("intent_id", intent.ID).Msg("Payment intent cancelled")
	return intent, nil
}
