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

// PayPalAdapter talks to the PayPal orders API through the Braintree-style
// integration. Two-step: an order is created and approved, then captured.
type PayPalAdapter struct {
	client        *apiClient
	webhookID     string
	webhookSecret string
}

// NewPayPalAdapter creates a PayPal adapter
func NewPayPalAdapter(baseURL, apiKey, webhookID, webhookSecret string, timeout time.Duration) *PayPalAdapter {
	return &PayPalAdapter{
		client:        newAPIClient(domain.ProviderPayPal, baseURL, apiKey, timeout),
		webhookID:     webhookID,
		webhookSecret: webhookSecret,
	}
}

func (a *PayPalAdapter) Name() string { return domain.ProviderPayPal }

type paypalOrderResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CaptureID string `json:"capture_id"`
	Amount    struct {
		Value int64 `json:"value_minor"`
	} `json:"amount"`
}

func (a *PayPalAdapter) Create(ctx context.Context, req domain.CreateRequest) (*domain.ProviderResult, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"amount": map[string]any{
			"value_minor":   req.AmountMinor,
			"currency_code": req.Currency,
		},
		"custom_id": req.Metadata["order_id"],
	}

	var resp paypalOrderResponse
	err := a.client.do(ctx, "create", http.MethodPost, "/v2/checkout/orders",
		map[string]string{"PayPal-Request-Id": req.IdempotencyKey}, payload, &resp)
	if err != nil {
		return nil, err
	}
	return &domain.ProviderResult{Reference: resp.ID, RawStatus: resp.Status}, nil
}

func (a *PayPalAdapter) Authorize(ctx context.Context, reference string) (*domain.ProviderResult, error) {
	var resp paypalOrderResponse
	err := a.client.do(ctx, "authorize", http.MethodPost, "/v2/checkout/orders/"+reference+"/authorize", nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &domain.ProviderResult{Reference: resp.ID, RawStatus: resp.Status, Authorized: true}, nil
}

func (a *PayPalAdapter) Capture(ctx context.Context, reference string, amountMinor int64, idempotencyKey string) (*domain.ProviderResult, error) {
	payload := map[string]any{
		"amount": map[string]any{"value_minor": amountMinor},
	}

	var resp paypalOrderResponse
	err := a.client.do(ctx, "capture", http.MethodPost, "/v2/checkout/orders/"+reference+"/capture",
		map[string]string{"PayPal-Request-Id": idempotencyKey}, payload, &resp)
	if err != nil {
		return nil, err
	}

	return &domain.ProviderResult{
		Reference:     resp.ID,
		TransactionID: resp.CaptureID,
		CapturedMinor: resp.Amount.Value,
		RawStatus:     resp.Status,
	}, nil
}

func (a *PayPalAdapter) Refund(ctx context.Context, transactionID string, amountMinor int64) (*domain.ProviderResult, error) {
	payload := map[string]any{
		"amount": map[string]any{"value_minor": amountMinor},
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	err := a.client.do(ctx, "refund", http.MethodPost, "/v2/payments/captures/"+transactionID+"/refund", nil, payload, &resp)
	if err != nil {
		return nil, err
	}
	return &domain.ProviderResult{TransactionID: transactionID, RawStatus: resp.Status}, nil
}

func (a *PayPalAdapter) Status(ctx context.Context, reference string) (*domain.ProviderStatus, error) {
	var resp paypalOrderResponse
	if err := a.client.do(ctx, "status", http.MethodGet, "/v2/checkout/orders/"+reference, nil, nil, &resp); err != nil {
		return nil, err
	}

	kind, ok := paypalStatusKinds[resp.Status]
	if !ok {
		return nil, fmt.Errorf("%w: paypal: unknown status %q", domain.ErrProviderUnavailable, resp.Status)
	}

	return &domain.ProviderStatus{
		Kind:          kind,
		CapturedMinor: resp.Amount.Value,
		TransactionID: resp.CaptureID,
	}, nil
}

var paypalStatusKinds = map[string]domain.EventKind{
	"CREATED":   domain.EventPending,
	"APPROVED":  domain.EventAuthorized,
	"COMPLETED": domain.EventCaptured,
	"DECLINED":  domain.EventFailed,
	"VOIDED":    domain.EventCancelled,
	"EXPIRED":   domain.EventExpired,
	"REFUNDED":  domain.EventRefunded,
	"DISPUTED":  domain.EventDisputed,
}

var paypalEventKinds = map[string]domain.EventKind{
	"CHECKOUT.ORDER.APPROVED":      domain.EventAuthorized,
	"PAYMENT.CAPTURE.PENDING":      domain.EventPending,
	"PAYMENT.CAPTURE.COMPLETED":    domain.EventCaptured,
	"PAYMENT.CAPTURE.DENIED":       domain.EventFailed,
	"CHECKOUT.ORDER.VOIDED":        domain.EventCancelled,
	"CHECKOUT.ORDER.EXPIRED":       domain.EventExpired,
	"PAYMENT.CAPTURE.REFUNDED":     domain.EventRefunded,
	"CUSTOMER.DISPUTE.CREATED":     domain.EventDisputed,
}

type paypalWebhookPayload struct {
	ID           string    `json:"id"`
	EventType    string    `json:"event_type"`
	CreateTime   time.Time `json:"create_time"`
	Resource     struct {
		OrderID   string `json:"order_id"`
		CaptureID string `json:"capture_id"`
		Amount    struct {
			Value int64 `json:"value_minor"`
		} `json:"amount"`
	} `json:"resource"`
}

// VerifyWebhook checks the transmission signature: base64 HMAC-SHA256 over
// "<transmission-id>|<transmission-time>|<webhook-id>|<body>" under the
// webhook secret.
func (a *PayPalAdapter) VerifyWebhook(rawBody []byte, headers http.Header) (*domain.CanonicalEvent, error) {
	transmissionID := headers.Get("Paypal-Transmission-Id")
	transmissionTime := headers.Get("Paypal-Transmission-Time")
	signature := headers.Get("Paypal-Transmission-Sig")
	if transmissionID == "" || transmissionTime == "" || signature == "" {
		return nil, fmt.Errorf("%w: paypal: missing transmission headers", domain.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	fmt.Fprintf(mac, "%s|%s|%s|", transmissionID, transmissionTime, a.webhookID)
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, fmt.Errorf("%w: paypal: signature mismatch", domain.ErrInvalidSignature)
	}

	var payload paypalWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: paypal: malformed payload", domain.ErrInvalidSignature)
	}

	kind, ok := paypalEventKinds[payload.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: paypal: unhandled event type %q", domain.ErrInvalidSignature, payload.EventType)
	}

	return &domain.CanonicalEvent{
		ID:                payload.ID,
		Kind:              kind,
		Provider:          domain.ProviderPayPal,
		ProviderReference: payload.Resource.OrderID,
		AmountMinor:       payload.Resource.Amount.Value,
		TransactionID:     payload.Resource.CaptureID,
		OccurredAt:        payload.CreateTime.UTC(),
	}, nil
}
