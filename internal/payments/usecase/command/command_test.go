package command

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/craftmarket/payment-engine/internal/payments/config"
	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/idempotency"
	"github.com/craftmarket/payment-engine/internal/payments/ledger"
	"github.com/craftmarket/payment-engine/internal/payments/provider"
	"github.com/craftmarket/payment-engine/internal/payments/repository"
	"github.com/craftmarket/payment-engine/kafka"
)

// fakeAdapter is a scriptable provider for handler tests. Defaults behave
// like a healthy two-step provider; individual calls are overridden per test.
type fakeAdapter struct {
	name string

	mu             sync.Mutex
	createCalls    int
	authorizeCalls int
	captureCalls   int
	refundCalls    int
	statusCalls    int

	createFn    func(req domain.CreateRequest) (*domain.ProviderResult, error)
	authorizeFn func(reference string) (*domain.ProviderResult, error)
	captureFn   func(reference string, amountMinor int64, key string) (*domain.ProviderResult, error)
	refundFn    func(transactionID string, amountMinor int64) (*domain.ProviderResult, error)
	statusFn    func(reference string) (*domain.ProviderStatus, error)
	verifyFn    func(rawBody []byte, headers http.Header) (*domain.CanonicalEvent, error)
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Create(ctx context.Context, req domain.CreateRequest) (*domain.ProviderResult, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(req)
	}
	return &domain.ProviderResult{Reference: "ref_" + req.IdempotencyKey, RawStatus: "pending"}, nil
}

func (f *fakeAdapter) Authorize(ctx context.Context, reference string) (*domain.ProviderResult, error) {
	f.mu.Lock()
	f.authorizeCalls++
	f.mu.Unlock()
	if f.authorizeFn != nil {
		return f.authorizeFn(reference)
	}
	return &domain.ProviderResult{Reference: reference, RawStatus: "authorized", Authorized: true}, nil
}

func (f *fakeAdapter) Capture(ctx context.Context, reference string, amountMinor int64, key string) (*domain.ProviderResult, error) {
	f.mu.Lock()
	f.captureCalls++
	f.mu.Unlock()
	if f.captureFn != nil {
		return f.captureFn(reference, amountMinor, key)
	}
	return &domain.ProviderResult{
		Reference:     reference,
		TransactionID: "txn_" + reference,
		CapturedMinor: amountMinor,
		RawStatus:     "captured",
	}, nil
}

func (f *fakeAdapter) Refund(ctx context.Context, transactionID string, amountMinor int64) (*domain.ProviderResult, error) {
	f.mu.Lock()
	f.refundCalls++
	f.mu.Unlock()
	if f.refundFn != nil {
		return f.refundFn(transactionID, amountMinor)
	}
	return &domain.ProviderResult{TransactionID: transactionID, RawStatus: "refunded"}, nil
}

func (f *fakeAdapter) Status(ctx context.Context, reference string) (*domain.ProviderStatus, error) {
	f.mu.Lock()
	f.statusCalls++
	f.mu.Unlock()
	if f.statusFn != nil {
		return f.statusFn(reference)
	}
	return &domain.ProviderStatus{Kind: domain.EventPending}, nil
}

func (f *fakeAdapter) VerifyWebhook(rawBody []byte, headers http.Header) (*domain.CanonicalEvent, error) {
	if f.verifyFn != nil {
		return f.verifyFn(rawBody, headers)
	}
	if headers.Get("X-Test-Signature") != "valid" {
		return nil, domain.ErrInvalidSignature
	}
	var event domain.CanonicalEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, domain.ErrInvalidSignature
	}
	if !event.Kind.Valid() {
		return nil, domain.ErrInvalidSignature
	}
	return &event, nil
}

func (f *fakeAdapter) calls() (create, capture, refund, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.captureCalls, f.refundCalls, f.statusCalls
}

func (f *fakeAdapter) authorizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorizeCalls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.PaymentEvent
}

func (p *recordingPublisher) PublishPaymentEvent(_ context.Context, event kafka.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) byType(eventType string) []kafka.PaymentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []kafka.PaymentEvent
	for _, event := range p.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// testEnv wires the full command stack over in-memory infrastructure
type testEnv struct {
	adapter    *fakeAdapter
	intents    *repository.MemoryIntentRepository
	payments   *repository.MemoryLedgerRepository
	webhooks   *repository.MemoryWebhookEventRepository
	guard      *idempotency.MemoryGuard
	publisher  *recordingPublisher
	reconciler *ledger.Reconciler
	cfg        config.Config

	create  *CreateIntentHandler
	capture *CaptureHandler
	refund  *RefundHandler
	cancel  *CancelHandler
	webhook *HandleWebhookHandler
	sweep   *ReconcileStaleHandler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		adapter:   newFakeAdapter(domain.ProviderCard),
		intents:   repository.NewMemoryIntentRepository(),
		payments:  repository.NewMemoryLedgerRepository(),
		webhooks:  repository.NewMemoryWebhookEventRepository(),
		guard:     idempotency.NewMemoryGuard(time.Minute, time.Hour),
		publisher: &recordingPublisher{},
		cfg: config.Config{
			ProviderTimeout:   time.Second,
			RetryAttempts:     3,
			RetryBaseDelay:    time.Millisecond,
			RetryMaxDelay:     5 * time.Millisecond,
			InFlightTTL:       time.Minute,
			ResultTTL:         time.Hour,
			LookupRetries:     2,
			LookupRetryDelay:  5 * time.Millisecond,
			UnmatchedDeadline: 15 * time.Minute,
			StaleThreshold:    0,
			SweepInterval:     time.Minute,
			SweepBatchSize:    50,
		},
	}

	registry := provider.NewRegistry(env.adapter)
	env.reconciler = ledger.NewReconciler(env.payments, env.publisher)
	env.create = NewCreateIntentHandler(env.intents, registry, env.guard, env.cfg)
	env.capture = NewCaptureHandler(env.intents, registry, env.guard, env.reconciler, env.cfg)
	env.refund = NewRefundHandler(env.intents, registry, env.guard, env.reconciler, env.cfg)
	env.cancel = NewCancelHandler(env.intents)
	env.webhook = NewHandleWebhookHandler(env.intents, env.webhooks, registry, env.guard, env.reconciler, env.cfg)
	env.sweep = NewReconcileStaleHandler(env.intents, env.webhooks, registry, env.reconciler, env.publisher, env.cfg)
	return env
}

// createPending opens an intent through the full handler and returns it in
// pending with a provider reference.
func (env *testEnv) createPending(ctx context.Context, orderID, key string, amount int64) (*domain.PaymentIntent, error) {
	return env.create.Handle(ctx, CreateIntentCommand{
		OrderID:        orderID,
		Provider:       env.adapter.name,
		AmountMinor:    amount,
		Currency:       "USD",
		IdempotencyKey: key,
	})
}

// waitForSettlement polls the intent until it leaves transient state or the
// deadline passes.
func waitForSettlement(ctx context.Context, intents domain.IntentRepository, id string, deadline time.Duration) (*domain.PaymentIntent, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		intent, err := intents.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !intent.Status.IsTransient() {
			return intent, nil
		}
		select {
		case <-timer.C:
			return intent, nil
		case <-ctx.Done():
			return intent, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// deliverWebhook pushes a canonical event through the webhook handler using
// the fake adapter's default verification.
func (env *testEnv) deliverWebhook(ctx context.Context, event domain.CanonicalEvent) (WebhookResult, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	headers := http.Header{}
	headers.Set("X-Test-Signature", "valid")
	return env.webhook.Handle(ctx, WebhookCommand{
		Provider: env.adapter.name,
		Body:     body,
		Headers:  headers,
	})
}
