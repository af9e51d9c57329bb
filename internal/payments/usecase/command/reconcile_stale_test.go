package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/kafka"
)

func TestSweepExpiresIntentThatNeverReachedProvider(t *testing.T) {
	env := newTestEnv()
	env.adapter.createFn = func(req domain.CreateRequest) (*domain.ProviderResult, error) {
		return nil, domain.ErrProviderUnavailable
	}
	ctx := context.Background()

	intent, err := env.createPending(ctx, "ord_1", "key_1", 10000)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	require.Equal(t, domain.StatusCreated, intent.Status)

	result, err := env.sweep.Handle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Examined)
	require.Equal(t, 1, result.Corrected)

	expired, err := env.intents.FindByID(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusExpired, expired.Status)
	require.NotEmpty(t, expired.LastError)
}

func TestSweepCompletesDriftedIntent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	// Intent stuck in pending: the capture webhook was lost.
	intent, err := env.createPending(ctx, "ord_1", "key_1", 10000)
	require.NoError(t, err)

	env.adapter.statusFn = func(reference string) (*domain.ProviderStatus, error) {
		require.Equal(t, intent.ProviderReference, reference)
		return &domain.ProviderStatus{Kind: domain.EventCaptured, CapturedMinor: 10000, TransactionID: "txn_drift"}, nil
	}

	result, err := env.sweep.Handle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Corrected)

	updated, err := env.intents.FindByID(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, updated.Status)
	require.Equal(t, int64(10000), *updated.CapturedMinor)

	// Correction is attributed to reconciliation in the audit trail.
	transitions, err := env.intents.Transitions(ctx, intent.ID)
	require.NoError(t, err)
	last := transitions[len(transitions)-1]
	require.Equal(t, domain.CauseReconciliation, last.Cause)

	// Ledger row written, drift event published.
	payment, err := env.payments.FindByIntentID(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10000), payment.AmountMinor)
	require.Len(t, env.publisher.byType(kafka.EventTypeReconciliationDrift), 1)
}

func TestSweepAgreesWithLocalState(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	intent, err := env.createPending(ctx, "ord_1", "key_1", 10000)
	require.NoError(t, err)

	// Provider also says pending; nothing to correct.
	result, err := env.sweep.Handle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Examined)
	require.Zero(t, result.Corrected)

	unchanged, err := env.intents.FindByID(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, unchanged.Status)
	require.Empty(t, env.publisher.byType(kafka.EventTypeReconciliationDrift))
}

func TestSweepSkipsSettledIntents(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.createCompleted(t, "ord_1", "key_1", 10000)

	result, err := env.sweep.Handle(ctx)
	require.NoError(t, err)
	require.Zero(t, result.Examined)

	_, _, _, statusCalls := env.adapter.calls()
	require.Zero(t, statusCalls)
}

func TestSweepProviderUnavailableLeavesIntent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	intent, err := env.createPending(ctx, "ord_1", "key_1", 10000)
	require.NoError(t, err)

	env.adapter.statusFn = func(reference string) (*domain.ProviderStatus, error) {
		return nil, domain.ErrProviderUnavailable
	}
	result, err := env.sweep.Handle(ctx)
	require.NoError(t, err)
	require.Zero(t, result.Corrected)

	// Still pending; the next pass will try again.
	unchanged, err := env.intents.FindByID(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, unchanged.Status)
}

func TestSweepFlagsUnmatchedPastDeadline(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	result, err := env.deliverWebhook(ctx, domain.CanonicalEvent{
		ID:                "evt_orphan",
		Kind:              domain.EventCaptured,
		ProviderReference: "ref_never_created",
		AmountMinor:       10000,
		OccurredAt:        time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, WebhookResultUnmatched, result)

	// Inside the deadline the event just waits.
	sweep, err := env.sweep.Handle(ctx)
	require.NoError(t, err)
	require.Zero(t, sweep.Flagged)

	unmatched, err := env.webhooks.FindUnmatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unmatched, 1)

	// Age the event past the deadline.
	aged := unmatched[0]
	aged.ReceivedAt = time.Now().Add(-env.cfg.UnmatchedDeadline - time.Minute)
	require.NoError(t, env.webhooks.Update(ctx, &aged))

	sweep, err = env.sweep.Handle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sweep.Flagged)

	// Flagged events leave the sweep's queue; they are for humans now.
	unmatched, err = env.webhooks.FindUnmatched(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, unmatched)
}
