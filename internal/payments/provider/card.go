package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
)

// CardAdapter talks to the card processor's intents API. The processor is a
// two-step provider: funds are authorized first and captured separately.
type CardAdapter struct {
	client        *apiClient
	webhookSecret string
}

// NewCardAdapter creates a card processor adapter
func NewCardAdapter(baseURL, apiKey, webhookSecret string, timeout time.Duration) *CardAdapter {
	return &CardAdapter{
		client:        newAPIClient(domain.ProviderCard, baseURL, apiKey, timeout),
		webhookSecret: webhookSecret,
	}
}

func (a *CardAdapter) Name() string { return domain.ProviderCard }

type cardIntentResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Captured      int64  `json:"amount_captured"`
	TransactionID string `json:"transaction_id"`
}

func (a *CardAdapter) Create(ctx context.Context, req domain.CreateRequest) (*domain.ProviderResult, error) {
	payload := map[string]any{
		"amount":         req.AmountMinor,
		"currency":       req.Currency,
		"capture_method": "manual",
		"metadata":       req.Metadata,
	}

	var resp cardIntentResponse
	err := a.client.do(ctx, "create", http.MethodPost, "/v1/intents",
		map[string]string{"Idempotency-Key": req.IdempotencyKey}, payload, &resp)
	if err != nil {
		return nil, err
	}

	return &domain.ProviderResult{Reference: resp.ID, RawStatus: resp.Status}, nil
}

func (a *CardAdapter) Authorize(ctx context.Context, reference string) (*domain.ProviderResult, error) {
	var resp cardIntentResponse
	err := a.client.do(ctx, "authorize", http.MethodPost, "/v1/intents/"+reference+"/authorize", nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &domain.ProviderResult{Reference: resp.ID, RawStatus: resp.Status, Authorized: true}, nil
}

func (a *CardAdapter) Capture(ctx context.Context, reference string, amountMinor int64, idempotencyKey string) (*domain.ProviderResult, error) {
	payload := map[string]any{"amount": amountMinor}

	var resp cardIntentResponse
	err := a.client.do(ctx, "capture", http.MethodPost, "/v1/intents/"+reference+"/capture",
		map[string]string{"Idempotency-Key": idempotencyKey}, payload, &resp)
	if err != nil {
		return nil, err
	}

	return &domain.ProviderResult{
		Reference:     resp.ID,
		TransactionID: resp.TransactionID,
		CapturedMinor: resp.Captured,
		RawStatus:     resp.Status,
	}, nil
}

func (a *CardAdapter) Refund(ctx context.Context, transactionID string, amountMinor int64) (*domain.ProviderResult, error) {
	payload := map[string]any{
		"transaction_id": transactionID,
		"amount":         amountMinor,
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := a.client.do(ctx, "refund", http.MethodPost, "/v1/refunds", nil, payload, &resp); err != nil {
		return nil, err
	}
	return &domain.ProviderResult{TransactionID: transactionID, RawStatus: resp.Status}, nil
}

func (a *CardAdapter) Status(ctx context.Context, reference string) (*domain.ProviderStatus, error) {
	var resp cardIntentResponse
	if err := a.client.do(ctx, "status", http.MethodGet, "/v1/intents/"+reference, nil, nil, &resp); err != nil {
		return nil, err
	}

	kind, ok := cardStatusKinds[resp.Status]
	if !ok {
		return nil, fmt.Errorf("%w: card: unknown status %q", domain.ErrProviderUnavailable, resp.Status)
	}

	return &domain.ProviderStatus{
		Kind:          kind,
		CapturedMinor: resp.Captured,
		TransactionID: resp.TransactionID,
	}, nil
}

var cardStatusKinds = map[string]domain.EventKind{
	"requires_capture": domain.EventAuthorized,
	"processing":       domain.EventPending,
	"captured":         domain.EventCaptured,
	"succeeded":        domain.EventCaptured,
	"failed":           domain.EventFailed,
	"canceled":         domain.EventCancelled,
	"expired":          domain.EventExpired,
	"refunded":         domain.EventRefunded,
	"disputed":         domain.EventDisputed,
}

var cardEventKinds = map[string]domain.EventKind{
	"payment_intent.processing": domain.EventPending,
	"payment_intent.authorized": domain.EventAuthorized,
	"payment_intent.captured":   domain.EventCaptured,
	"payment_intent.failed":     domain.EventFailed,
	"payment_intent.canceled":   domain.EventCancelled,
	"payment_intent.expired":    domain.EventExpired,
	"charge.refunded":           domain.EventRefunded,
	"charge.dispute.created":    domain.EventDisputed,
}

type cardWebhookPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		IntentID      string `json:"intent_id"`
		Amount        int64  `json:"amount"`
		TransactionID string `json:"transaction_id"`
	} `json:"data"`
}

// VerifyWebhook checks the processor's signature scheme: hex-encoded
// HMAC-SHA256 of "<timestamp>.<body>" under the endpoint secret, delivered in
// X-Card-Signature with the timestamp in X-Card-Timestamp.
func (a *CardAdapter) VerifyWebhook(rawBody []byte, headers http.Header) (*domain.CanonicalEvent, error) {
	signature := headers.Get("X-Card-Signature")
	timestamp := headers.Get("X-Card-Timestamp")
	if signature == "" || timestamp == "" {
		return nil, fmt.Errorf("%w: card: missing signature headers", domain.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, fmt.Errorf("%w: card: signature mismatch", domain.ErrInvalidSignature)
	}

	var payload cardWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: card: malformed payload", domain.ErrInvalidSignature)
	}

	kind, ok := cardEventKinds[payload.Type]
	if !ok {
		return nil, fmt.Errorf("%w: card: unhandled event type %q", domain.ErrInvalidSignature, payload.Type)
	}

	return &domain.CanonicalEvent{
		ID:                payload.ID,
		Kind:              kind,
		Provider:          domain.ProviderCard,
		ProviderReference: payload.Data.IntentID,
		AmountMinor:       payload.Data.Amount,
		TransactionID:     payload.Data.TransactionID,
		OccurredAt:        time.Unix(payload.Created, 0).UTC(),
	}, nil
}
