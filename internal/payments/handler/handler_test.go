package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/craftmarket/payment-engine/internal/payments/config"
	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/idempotency"
	"github.com/craftmarket/payment-engine/internal/payments/ledger"
	"github.com/craftmarket/payment-engine/internal/payments/provider"
	"github.com/craftmarket/payment-engine/internal/payments/repository"
	"github.com/craftmarket/payment-engine/internal/payments/usecase/command"
	"github.com/craftmarket/payment-engine/internal/payments/usecase/query"
)

// stubAdapter is a happy-path provider for HTTP-level tests
type stubAdapter struct{}

func (stubAdapter) Name() string { return domain.ProviderCard }

func (stubAdapter) Create(_ context.Context, req domain.CreateRequest) (*domain.ProviderResult, error) {
	return &domain.ProviderResult{Reference: "ref_" + req.IdempotencyKey, RawStatus: "pending"}, nil
}

func (stubAdapter) Authorize(_ context.Context, reference string) (*domain.ProviderResult, error) {
	return &domain.ProviderResult{Reference: reference, RawStatus: "authorized", Authorized: true}, nil
}

func (stubAdapter) Capture(_ context.Context, reference string, amountMinor int64, _ string) (*domain.ProviderResult, error) {
	return &domain.ProviderResult{Reference: reference, TransactionID: "txn_1", CapturedMinor: amountMinor}, nil
}

func (stubAdapter) Refund(_ context.Context, transactionID string, _ int64) (*domain.ProviderResult, error) {
	return &domain.ProviderResult{TransactionID: transactionID, RawStatus: "refunded"}, nil
}

func (stubAdapter) Status(_ context.Context, _ string) (*domain.ProviderStatus, error) {
	return &domain.ProviderStatus{Kind: domain.EventPending}, nil
}

func (stubAdapter) VerifyWebhook(rawBody []byte, headers http.Header) (*domain.CanonicalEvent, error) {
	if headers.Get("X-Test-Signature") != "valid" {
		return nil, domain.ErrInvalidSignature
	}
	var event domain.CanonicalEvent
	if err := json.Unmarshal(rawBody, &event); err != nil || !event.Kind.Valid() {
		return nil, domain.ErrInvalidSignature
	}
	return &event, nil
}

func newTestRouter() *mux.Router {
	cfg := config.Config{
		ProviderTimeout:   time.Second,
		RetryAttempts:     1,
		RetryBaseDelay:    time.Millisecond,
		RetryMaxDelay:     time.Millisecond,
		InFlightTTL:       time.Minute,
		ResultTTL:         time.Hour,
		LookupRetries:     1,
		LookupRetryDelay:  time.Millisecond,
		UnmatchedDeadline: 15 * time.Minute,
		SweepBatchSize:    50,
	}

	intents := repository.NewMemoryIntentRepository()
	payments := repository.NewMemoryLedgerRepository()
	webhooks := repository.NewMemoryWebhookEventRepository()
	guard := idempotency.NewMemoryGuard(cfg.InFlightTTL, cfg.ResultTTL)
	registry := provider.NewRegistry(stubAdapter{})
	reconciler := ledger.NewReconciler(payments, nil)

	paymentHandler := NewPaymentHandler(
		command.NewCreateIntentHandler(intents, registry, guard, cfg),
		command.NewCaptureHandler(intents, registry, guard, reconciler, cfg),
		command.NewRefundHandler(intents, registry, guard, reconciler, cfg),
		command.NewCancelHandler(intents),
		command.NewHandleWebhookHandler(intents, webhooks, registry, guard, reconciler, cfg),
		command.NewReconcileStaleHandler(intents, webhooks, registry, reconciler, nil, cfg),
		query.NewGetIntentHandler(intents),
		query.NewListIntentsHandler(intents),
		query.NewOrderPaymentStatusHandler(reconciler),
	)

	router := mux.NewRouter()
	paymentHandler.RegisterRoutes(router)
	paymentHandler.RegisterHealthCheck(router, nil)
	return router
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec, resp
}

func TestIntentLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter()

	rec, resp := doJSON(t, router, "POST", "/api/payments/intents", map[string]interface{}{
		"order_id":     "ord_1",
		"provider":     "card",
		"amount_minor": 10000,
		"currency":     "USD",
	}, map[string]string{"Idempotency-Key": "key_1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, resp.Success)

	intentData, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var intent domain.PaymentIntent
	require.NoError(t, json.Unmarshal(intentData, &intent))
	require.Equal(t, domain.StatusPending, intent.Status)

	rec, resp = doJSON(t, router, "POST", "/api/payments/intents/"+intent.ID+"/capture", nil,
		map[string]string{"Idempotency-Key": "cap_1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	rec, resp = doJSON(t, router, "GET", "/api/payments/intents/"+intent.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = doJSON(t, router, "GET", "/api/payments/orders/ord_1/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	statusData, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var status domain.OrderPaymentStatus
	require.NoError(t, json.Unmarshal(statusData, &status))
	require.True(t, status.Paid)
	require.Equal(t, int64(10000), status.PaidMinor)
}

func TestCreateIntentHTTPValidation(t *testing.T) {
	router := newTestRouter()

	rec, resp := doJSON(t, router, "POST", "/api/payments/intents", map[string]interface{}{
		"order_id": "ord_1",
		"provider": "card",
		"currency": "USD",
	}, map[string]string{"Idempotency-Key": "key_1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, resp.Success)
	require.NotEmpty(t, resp.Error)
}

func TestUnknownProviderHTTP(t *testing.T) {
	router := newTestRouter()

	rec, _ := doJSON(t, router, "POST", "/api/payments/intents", map[string]interface{}{
		"order_id":     "ord_1",
		"provider":     "abacus",
		"amount_minor": 100,
		"currency":     "USD",
	}, map[string]string{"Idempotency-Key": "key_1"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookEndpointRejectsBadSignature(t *testing.T) {
	router := newTestRouter()

	rec, resp := doJSON(t, router, "POST", "/webhooks/card", map[string]interface{}{
		"id":   "evt_1",
		"kind": "intent.captured",
	}, map[string]string{"X-Test-Signature": "forged"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, resp.Success)
}

func TestWebhookEndpointAcceptsVerifiedEvent(t *testing.T) {
	router := newTestRouter()

	rec, _ := doJSON(t, router, "POST", "/api/payments/intents", map[string]interface{}{
		"order_id":     "ord_1",
		"provider":     "card",
		"amount_minor": 10000,
		"currency":     "USD",
	}, map[string]string{"Idempotency-Key": "key_1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, resp := doJSON(t, router, "POST", "/webhooks/card", map[string]interface{}{
		"id":                 "evt_1",
		"kind":               "intent.captured",
		"provider_reference": "ref_key_1",
		"amount_minor":       10000,
	}, map[string]string{"X-Test-Signature": "valid"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)
	require.Equal(t, string(command.WebhookResultProcessed), resp.Message)
}

func TestManualReconcileEndpoint(t *testing.T) {
	router := newTestRouter()

	rec, resp := doJSON(t, router, "POST", "/internal/reconcile", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter()

	rec, resp := doJSON(t, router, "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)
}
