package provider_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/provider"
)

func TestCardAdapter_CreateAndCapture(t *testing.T) {
	var createIdemKey, captureIdemKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/intents":
			createIdemKey = r.Header.Get("Idempotency-Key")
			fmt.Fprint(w, `{"id":"pi_123","status":"processing"}`)
		case "/v1/intents/pi_123/capture":
			captureIdemKey = r.Header.Get("Idempotency-Key")
			fmt.Fprint(w, `{"id":"pi_123","status":"captured","amount_captured":10000,"transaction_id":"txn_9"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	adapter := provider.NewCardAdapter(server.URL, "sk_test", "whsec", 2*time.Second)

	created, err := adapter.Create(context.Background(), domain.CreateRequest{
		IdempotencyKey: "ord-1:1",
		AmountMinor:    10000,
		Currency:       "USD",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Reference != "pi_123" {
		t.Errorf("expected reference pi_123, got %q", created.Reference)
	}
	if createIdemKey != "ord-1:1" {
		t.Errorf("idempotency key not forwarded on create, got %q", createIdemKey)
	}

	captured, err := adapter.Capture(context.Background(), "pi_123", 10000, "ord-1:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.CapturedMinor != 10000 || captured.TransactionID != "txn_9" {
		t.Errorf("unexpected capture result %+v", captured)
	}
	if captureIdemKey != "ord-1:1" {
		t.Errorf("idempotency key not forwarded on capture, got %q", captureIdemKey)
	}
}

func TestCardAdapter_ErrorClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		expected error
	}{
		{"server error", http.StatusInternalServerError, `{}`, domain.ErrProviderUnavailable},
		{"bad gateway", http.StatusBadGateway, `{}`, domain.ErrProviderUnavailable},
		{"validation error", http.StatusUnprocessableEntity, `{"message":"invalid card"}`, domain.ErrProviderRejected},
		{"not found", http.StatusNotFound, `{}`, domain.ErrProviderRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			adapter := provider.NewCardAdapter(server.URL, "sk_test", "whsec", 2*time.Second)
			_, err := adapter.Create(context.Background(), domain.CreateRequest{
				IdempotencyKey: "k", AmountMinor: 100, Currency: "USD",
			})
			if !errors.Is(err, tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, err)
			}
		})
	}
}

func TestCardAdapter_TimeoutClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	adapter := provider.NewCardAdapter(server.URL, "sk_test", "whsec", 20*time.Millisecond)
	_, err := adapter.Create(context.Background(), domain.CreateRequest{
		IdempotencyKey: "k", AmountMinor: 100, Currency: "USD",
	})
	if !errors.Is(err, domain.ErrProviderTimeout) {
		t.Fatalf("expected ErrProviderTimeout, got %v", err)
	}
}

func signCardPayload(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCardAdapter_VerifyWebhook(t *testing.T) {
	adapter := provider.NewCardAdapter("http://unused", "sk_test", "whsec_1", time.Second)

	body := []byte(`{"id":"evt_1","type":"payment_intent.captured","created":1756700000,"data":{"intent_id":"pi_123","amount":10000,"transaction_id":"txn_9"}}`)
	timestamp := "1756700000"

	headers := http.Header{}
	headers.Set("X-Card-Timestamp", timestamp)
	headers.Set("X-Card-Signature", signCardPayload("whsec_1", timestamp, body))

	event, err := adapter.VerifyWebhook(body, headers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Kind != domain.EventCaptured {
		t.Errorf("expected %s, got %s", domain.EventCaptured, event.Kind)
	}
	if event.ProviderReference != "pi_123" || event.AmountMinor != 10000 {
		t.Errorf("unexpected canonical event %+v", event)
	}
	if event.ID != "evt_1" {
		t.Errorf("expected event id evt_1, got %q", event.ID)
	}
}

func TestCardAdapter_VerifyWebhook_Rejects(t *testing.T) {
	adapter := provider.NewCardAdapter("http://unused", "sk_test", "whsec_1", time.Second)
	body := []byte(`{"id":"evt_1","type":"payment_intent.captured","created":1756700000,"data":{"intent_id":"pi_123"}}`)

	t.Run("tampered payload", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-Card-Timestamp", "1756700000")
		headers.Set("X-Card-Signature", signCardPayload("whsec_1", "1756700000", body))

		tampered := append([]byte(nil), body...)
		tampered[len(tampered)-2] = 'X'
		if _, err := adapter.VerifyWebhook(tampered, headers); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-Card-Timestamp", "1756700000")
		headers.Set("X-Card-Signature", signCardPayload("other_secret", "1756700000", body))
		if _, err := adapter.VerifyWebhook(body, headers); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("missing headers", func(t *testing.T) {
		if _, err := adapter.VerifyWebhook(body, http.Header{}); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("unknown event type", func(t *testing.T) {
		unknown := []byte(`{"id":"evt_2","type":"payment_intent.teleported","created":1756700000,"data":{}}`)
		headers := http.Header{}
		headers.Set("X-Card-Timestamp", "1756700000")
		headers.Set("X-Card-Signature", signCardPayload("whsec_1", "1756700000", unknown))
		if _, err := adapter.VerifyWebhook(unknown, headers); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})
}

func TestRegistry(t *testing.T) {
	card := provider.NewCardAdapter("http://card", "k", "s", time.Second)
	klarna := provider.NewBNPLAdapter(domain.ProviderKlarna, "http://klarna", "k", "s", time.Second)
	registry := provider.NewRegistry(card, klarna)

	got, err := registry.Get(domain.ProviderCard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name() != domain.ProviderCard {
		t.Errorf("wrong adapter returned: %s", got.Name())
	}

	if _, err := registry.Get("venmo"); !errors.Is(err, domain.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}

	names := registry.Names()
	if len(names) != 2 || names[0] != domain.ProviderCard || names[1] != domain.ProviderKlarna {
		t.Errorf("unexpected names %v", names)
	}
}

func TestRetryPolicy_RetriesTransientErrors(t *testing.T) {
	policy := provider.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0
	result, err := policy.Do(context.Background(), func(ctx context.Context) (*domain.ProviderResult, error) {
		calls++
		if calls < 3 {
			return nil, domain.ErrProviderUnavailable
		}
		return &domain.ProviderResult{Reference: "pi_1"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if result.Reference != "pi_1" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestRetryPolicy_NoRetryOnRejection(t *testing.T) {
	policy := provider.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0
	_, err := policy.Do(context.Background(), func(ctx context.Context) (*domain.ProviderResult, error) {
		calls++
		return nil, domain.ErrProviderRejected
	})
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	if calls != 1 {
		t.Errorf("rejection must not be retried, got %d calls", calls)
	}
}

func TestRetryPolicy_BoundedAttempts(t *testing.T) {
	policy := provider.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0
	_, err := policy.Do(context.Background(), func(ctx context.Context) (*domain.ProviderResult, error) {
		calls++
		return nil, domain.ErrProviderTimeout
	})
	if !errors.Is(err, domain.ErrProviderTimeout) {
		t.Fatalf("expected ErrProviderTimeout, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
}
