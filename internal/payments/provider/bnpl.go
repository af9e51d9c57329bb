package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
)

// BNPLAdapter covers the buy-now-pay-later family (klarna, affirm, afterpay).
// These are redirect flows: the order is created here, the shopper approves
// on the provider's side, and authorization/settlement arrive asynchronously
// by webhook. Authorize is therefore a local no-op.
type BNPLAdapter struct {
	name          string
	client        *apiClient
	webhookSecret string
}

// NewBNPLAdapter creates an adapter for one BNPL provider
func NewBNPLAdapter(name, baseURL, apiKey, webhookSecret string, timeout time.Duration) *BNPLAdapter {
	return &BNPLAdapter{
		name:          name,
		client:        newAPIClient(name, baseURL, apiKey, timeout),
		webhookSecret: webhookSecret,
	}
}

func (a *BNPLAdapter) Name() string { return a.name }

type bnplOrderResponse struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	CapturedMinor int64  `json:"captured_minor"`
	PaymentID     string `json:"payment_id"`
}

func (a *BNPLAdapter) Create(ctx context.Context, req domain.CreateRequest) (*domain.ProviderResult, error) {
	payload := map[string]any{
		"amount_minor": req.AmountMinor,
		"currency":     req.Currency,
		"reference":    req.Metadata["order_id"],
	}

	var resp bnplOrderResponse
	err := a.client.do(ctx, "create", http.MethodPost, "/v1/orders",
		map[string]string{"Idempotency-Key": req.IdempotencyKey}, payload, &resp)
	if err != nil {
		return nil, err
	}
	return &domain.ProviderResult{Reference: resp.OrderID, RawStatus: resp.Status}, nil
}

// Authorize is a no-op for the BNPL family: approval happens on the
// provider's redirect flow and lands as an authorized webhook.
func (a *BNPLAdapter) Authorize(ctx context.Context, reference string) (*domain.ProviderResult, error) {
	return &domain.ProviderResult{Reference: reference, RawStatus: "pending_approval"}, nil
}

func (a *BNPLAdapter) Capture(ctx context.Context, reference string, amountMinor int64, idempotencyKey string) (*domain.ProviderResult, error) {
	payload := map[string]any{"amount_minor": amountMinor}

	var resp bnplOrderResponse
	err := a.client.do(ctx, "capture", http.MethodPost, "/v1/orders/"+reference+"/captures",
		map[string]string{"Idempotency-Key": idempotencyKey}, payload, &resp)
	if err != nil {
		return nil, err
	}

	return &domain.ProviderResult{
		Reference:     resp.OrderID,
		TransactionID: resp.PaymentID,
		CapturedMinor: resp.CapturedMinor,
		RawStatus:     resp.Status,
	}, nil
}

func (a *BNPLAdapter) Refund(ctx context.Context, transactionID string, amountMinor int64) (*domain.ProviderResult, error) {
	payload := map[string]any{
		"payment_id":   transactionID,
		"amount_minor": amountMinor,
	}

	var resp struct {
		RefundID string `json:"refund_id"`
		Status   string `json:"status"`
	}
	if err := a.client.do(ctx, "refund", http.MethodPost, "/v1/refunds", nil, payload, &resp); err != nil {
		return nil, err
	}
	return &domain.ProviderResult{TransactionID: transactionID, RawStatus: resp.Status}, nil
}

func (a *BNPLAdapter) Status(ctx context.Context, reference string) (*domain.ProviderStatus, error) {
	var resp bnplOrderResponse
	if err := a.client.do(ctx, "status", http.MethodGet, "/v1/orders/"+reference, nil, nil, &resp); err != nil {
		return nil, err
	}

	kind, ok := bnplStatusKinds[resp.Status]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unknown status %q", domain.ErrProviderUnavailable, a.name, resp.Status)
	}

	return &domain.ProviderStatus{
		Kind:          kind,
		CapturedMinor: resp.CapturedMinor,
		TransactionID: resp.PaymentID,
	}, nil
}

var bnplStatusKinds = map[string]domain.EventKind{
	"pending_approval": domain.EventPending,
	"authorized":       domain.EventAuthorized,
	"captured":         domain.EventCaptured,
	"declined":         domain.EventFailed,
	"cancelled":        domain.EventCancelled,
	"expired":          domain.EventExpired,
	"refunded":         domain.EventRefunded,
	"disputed":         domain.EventDisputed,
}

var bnplEventKinds = map[string]domain.EventKind{
	"order.pending":    domain.EventPending,
	"order.authorized": domain.EventAuthorized,
	"order.captured":   domain.EventCaptured,
	"order.declined":   domain.EventFailed,
	"order.cancelled":  domain.EventCancelled,
	"order.expired":    domain.EventExpired,
	"order.refunded":   domain.EventRefunded,
	"order.disputed":   domain.EventDisputed,
}

type bnplWebhookPayload struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	OccurredAt  time.Time `json:"occurred_at"`
	OrderID     string    `json:"order_id"`
	AmountMinor int64     `json:"amount_minor"`
	PaymentID   string    `json:"payment_id"`
}

// VerifyWebhook checks the family's shared scheme: base64 HMAC-SHA256 of the
// raw body under the per-merchant secret, delivered in X-Bnpl-Signature.
func (a *BNPLAdapter) VerifyWebhook(rawBody []byte, headers http.Header) (*domain.CanonicalEvent, error) {
	signature := headers.Get("X-Bnpl-Signature")
	if signature == "" {
		return nil, fmt.Errorf("%w: %s: missing signature header", domain.ErrInvalidSignature, a.name)
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, fmt.Errorf("%w: %s: signature mismatch", domain.ErrInvalidSignature, a.name)
	}

	var payload bnplWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s: malformed payload", domain.ErrInvalidSignature, a.name)
	}

	kind, ok := bnplEventKinds[payload.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unhandled event type %q", domain.ErrInvalidSignature, a.name, payload.EventType)
	}

	return &domain.CanonicalEvent{
		ID:                payload.EventID,
		Kind:              kind,
		Provider:          a.name,
		ProviderReference: payload.OrderID,
		AmountMinor:       payload.AmountMinor,
		TransactionID:     payload.PaymentID,
		OccurredAt:        payload.OccurredAt.UTC(),
	}, nil
}
