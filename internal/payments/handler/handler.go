package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/idempotency"
	"github.com/craftmarket/payment-engine/internal/payments/usecase/command"
	"github.com/craftmarket/payment-engine/internal/payments/usecase/query"
	"github.com/craftmarket/payment-engine/pkg/logger"
)

// maxWebhookBody bounds provider webhook payloads
const maxWebhookBody = 1 << 20

// PaymentHandler handles HTTP requests for the payment engine using CQRS pattern
type PaymentHandler struct {
	// Command handlers
	createHandler  *command.CreateIntentHandler
	captureHandler *command.CaptureHandler
	refundHandler  *command.RefundHandler
	cancelHandler  *command.CancelHandler
	webhookHandler *command.HandleWebhookHandler
	sweepHandler   *command.ReconcileStaleHandler

	// Query handlers
	getHandler         *query.GetIntentHandler
	listHandler        *query.ListIntentsHandler
	orderStatusHandler *query.OrderPaymentStatusHandler
}

// NewPaymentHandler creates a new payment handler using dependency injection
func NewPaymentHandler(
	createHandler *command.CreateIntentHandler,
	captureHandler *command.CaptureHandler,
	refundHandler *command.RefundHandler,
	cancelHandler *command.CancelHandler,
	webhookHandler *command.HandleWebhookHandler,
	sweepHandler *command.ReconcileStaleHandler,
	getHandler *query.GetIntentHandler,
	listHandler *query.ListIntentsHandler,
	orderStatusHandler *query.OrderPaymentStatusHandler,
) *PaymentHandler {
	return &PaymentHandler{
		createHandler:      createHandler,
		captureHandler:     captureHandler,
		refundHandler:      refundHandler,
		cancelHandler:      cancelHandler,
		webhookHandler:     webhookHandler,
		sweepHandler:       sweepHandler,
		getHandler:         getHandler,
		listHandler:        listHandler,
		orderStatusHandler: orderStatusHandler,
	}
}

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CreateIntent handles POST /api/payments/intents
func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateIntentCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	intent, err := h.createHandler.Handle(r.Context(), cmd)
	if err != nil {
		respondCommandError(w, r, intent, err, "Failed to create payment intent")
		return
	}

	respondJSON(w, http.StatusCreated, Response{
		Success: true,
		Message: "Payment intent created",
		Data:    intent,
	})
}

// CaptureIntent handles POST /api/payments/intents/{id}/capture
func (h *PaymentHandler) CaptureIntent(w http.ResponseWriter, r *http.Request) {
	var cmd command.CaptureCommand
	if err := decodeOptionalBody(r, &cmd); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}
	cmd.IntentID = mux.Vars(r)["id"]
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	intent, err := h.captureHandler.Handle(r.Context(), cmd)
	if err != nil {
		respondCommandError(w, r, intent, err, "Failed to capture payment")
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Payment captured",
		Data:    intent,
	})
}

// RefundIntent handles POST /api/payments/intents/{id}/refund
func (h *PaymentHandler) RefundIntent(w http.ResponseWriter, r *http.Request) {
	var cmd command.RefundCommand
	if err := decodeOptionalBody(r, &cmd); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}
	cmd.IntentID = mux.Vars(r)["id"]
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	intent, err := h.refundHandler.Handle(r.Context(), cmd)
	if err != nil {
		respondCommandError(w, r, intent, err, "Failed to refund payment")
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Refund applied",
		Data:    intent,
	})
}

// CancelIntent handles POST /api/payments/intents/{id}/cancel
func (h *PaymentHandler) CancelIntent(w http.ResponseWriter, r *http.Request) {
	var cmd command.CancelCommand
	if err := decodeOptionalBody(r, &cmd); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}
	cmd.IntentID = mux.Vars(r)["id"]

	intent, err := h.cancelHandler.Handle(r.Context(), cmd)
	if err != nil {
		respondCommandError(w, r, intent, err, "Failed to cancel payment intent")
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Payment intent cancelled",
		Data:    intent,
	})
}

// GetIntent handles GET /api/payments/intents/{id}
func (h *PaymentHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	details, err := h.getHandler.Handle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondJSON(w, http.StatusNotFound, Response{
			Success: false,
			Error:   "Payment intent not found",
		})
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    details,
	})
}

// ListIntents handles GET /api/payments/intents
func (h *PaymentHandler) ListIntents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	intents, err := h.listHandler.Handle(r.Context(), limit, offset)
	if err != nil {
		logger.Error(r.Context()).Err(err).Msg("Failed to list payment intents")
		respondJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Error:   "Failed to list payment intents",
		})
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"intents": intents,
			"total":   len(intents),
		},
	})
}

// GetOrderStatus handles GET /api/payments/orders/{orderId}/status
func (h *PaymentHandler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.orderStatusHandler.Handle(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		logger.Error(r.Context()).Err(err).Msg("Failed to resolve order payment status")
		respondJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Error:   "Failed to resolve order payment status",
		})
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

// HandleWebhook handles POST /webhooks/{provider}. The raw body is read
// before any parsing because signature verification covers the exact bytes.
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Failed to read request body",
		})
		return
	}

	result, err := h.webhookHandler.Handle(r.Context(), command.WebhookCommand{
		Provider: mux.Vars(r)["provider"],
		Body:     body,
		Headers:  r.Header,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			respondJSON(w, http.StatusUnauthorized, Response{
				Success: false,
				Error:   "Invalid webhook signature",
			})
		case errors.Is(err, domain.ErrUnknownProvider):
			respondJSON(w, http.StatusNotFound, Response{
				Success: false,
				Error:   "Unknown provider",
			})
		default:
			// Includes invariant violations held for manual review: a 503
			// tells the provider to redeliver later.
			respondJSON(w, http.StatusServiceUnavailable, Response{
				Success: false,
				Error:   "Failed to process webhook",
			})
		}
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: string(result),
	})
}

// TriggerReconcile handles POST /internal/reconcile: one on-demand sweep pass
// for operators, same code path as the background worker.
func (h *PaymentHandler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweepHandler.Handle(r.Context())
	if err != nil {
		logger.Error(r.Context()).Err(err).Msg("Manual reconciliation sweep failed")
		respondJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Error:   "Reconciliation sweep failed",
		})
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Reconciliation sweep completed",
		Data:    result,
	})
}

// RegisterRoutes registers all payment engine routes
func (h *PaymentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/payments/intents", h.CreateIntent).Methods("POST")
	router.HandleFunc("/api/payments/intents", h.ListIntents).Methods("GET")
	router.HandleFunc("/api/payments/intents/{id}", h.GetIntent).Methods("GET")
	router.HandleFunc("/api/payments/intents/{id}/capture", h.CaptureIntent).Methods("POST")
	router.HandleFunc("/api/payments/intents/{id}/refund", h.RefundIntent).Methods("POST")
	router.HandleFunc("/api/payments/intents/{id}/cancel", h.CancelIntent).Methods("POST")
	router.HandleFunc("/api/payments/orders/{orderId}/status", h.GetOrderStatus).Methods("GET")

	router.HandleFunc("/webhooks/{provider}", h.HandleWebhook).Methods("POST")

	router.HandleFunc("/internal/reconcile", h.TriggerReconcile).Methods("POST")
}

// RegisterHealthCheck registers health check endpoint
func (h *PaymentHandler) RegisterHealthCheck(router *mux.Router, db *sql.DB) {
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, Response{
					Success: false,
					Error:   "Database unavailable",
				})
				return
			}
		}

		respondJSON(w, http.StatusOK, Response{
			Success: true,
			Message: "Payment engine is healthy",
		})
	}).Methods("GET")
}

// respondCommandError maps the error taxonomy onto HTTP statuses. The intent,
// when present, is included so callers see the state the failure left behind.
func respondCommandError(w http.ResponseWriter, r *http.Request, intent *domain.PaymentIntent, err error, message string) {
	logger.Error(r.Context()).Err(err).Msg(message)

	status := http.StatusBadRequest
	switch {
	case errors.Is(err, domain.ErrIntentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownProvider):
		status = http.StatusNotFound
	case errors.Is(err, idempotency.ErrInFlight):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStaleEvent):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvariantViolation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProviderRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProviderUnavailable), errors.Is(err, domain.ErrProviderTimeout):
		status = http.StatusBadGateway
	}

	resp := Response{Success: false, Error: err.Error()}
	if intent != nil {
		resp.Data = intent
	}
	respondJSON(w, status, resp)
}

// decodeOptionalBody decodes a JSON body when one is present
func decodeOptionalBody(r *http.Request, out interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(out)
	if err == io.EOF {
		return nil
	}
	return err
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
