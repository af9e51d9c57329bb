package domain_test

import (
	"errors"
	"testing"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
)

func newIntent(status domain.Status) *domain.PaymentIntent {
	return &domain.PaymentIntent{
		ID:          "int-1",
		Provider:    domain.ProviderCard,
		OrderID:     "ord-1",
		AmountMinor: 10000,
		Currency:    "USD",
		Status:      status,
	}
}

func TestTransition_AllowedEdges(t *testing.T) {
	cases := []struct {
		from, to domain.Status
		allowed  bool
	}{
		{domain.StatusCreated, domain.StatusPending, true},
		{domain.StatusCreated, domain.StatusAuthorized, true},
		{domain.StatusPending, domain.StatusCompleted, true},
		{domain.StatusAuthorized, domain.StatusCapturing, true},
		{domain.StatusCapturing, domain.StatusCompleted, true},
		{domain.StatusCompleted, domain.StatusDisputed, true},
		{domain.StatusDisputed, domain.StatusRefunded, true},
		{domain.StatusDisputed, domain.StatusCompleted, true},
		{domain.StatusPartiallyRefunded, domain.StatusPartiallyRefunded, true},

		{domain.StatusCompleted, domain.StatusPending, false},
		{domain.StatusRefunded, domain.StatusCompleted, false},
		{domain.StatusFailed, domain.StatusPending, false},
		{domain.StatusCancelled, domain.StatusCompleted, false},
		{domain.StatusExpired, domain.StatusAuthorized, false},
		{domain.StatusCapturing, domain.StatusCancelled, false},
	}

	for _, tc := range cases {
		if got := domain.CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestTransition_DisallowedEdgeIsStale(t *testing.T) {
	intent := newIntent(domain.StatusRefunded)

	_, err := intent.Transition(domain.StatusCompleted, domain.CauseWebhook("evt-1"))
	if !errors.Is(err, domain.ErrStaleEvent) {
		t.Fatalf("expected ErrStaleEvent, got %v", err)
	}

	if intent.Status != domain.StatusRefunded {
		t.Errorf("terminal status must not change, got %s", intent.Status)
	}
}

func TestTransition_RecordsAuditRow(t *testing.T) {
	intent := newIntent(domain.StatusCreated)

	row, err := intent.Transition(domain.StatusPending, domain.CauseAdapterResponse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if row.FromStatus != domain.StatusCreated || row.ToStatus != domain.StatusPending {
		t.Errorf("audit row %s -> %s, want created -> pending", row.FromStatus, row.ToStatus)
	}
	if row.Cause != domain.CauseAdapterResponse {
		t.Errorf("unexpected cause %q", row.Cause)
	}
	if row.IntentID != intent.ID {
		t.Errorf("audit row bound to %q, want %q", row.IntentID, intent.ID)
	}
}

func TestRecordCapture_SetsAmountOnce(t *testing.T) {
	intent := newIntent(domain.StatusCapturing)

	row, err := intent.RecordCapture(10000, "txn-1", domain.CauseAdapterResponse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.ToStatus != domain.StatusCompleted {
		t.Errorf("expected completed, got %s", row.ToStatus)
	}
	if intent.CapturedMinor == nil || *intent.CapturedMinor != 10000 {
		t.Fatalf("captured amount not recorded")
	}
	if intent.ProviderTransactionID != "txn-1" {
		t.Errorf("transaction id not recorded")
	}
}

func TestRecordCapture_RejectsOverCapture(t *testing.T) {
	intent := newIntent(domain.StatusCapturing)

	_, err := intent.RecordCapture(10001, "txn-1", domain.CauseAdapterResponse)
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if intent.Status != domain.StatusCapturing {
		t.Errorf("status must not change on invariant violation")
	}
}

func TestRecordCapture_SecondCaptureIsStale(t *testing.T) {
	intent := newIntent(domain.StatusCapturing)

	if _, err := intent.RecordCapture(10000, "txn-1", domain.CauseAdapterResponse); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := intent.RecordCapture(10000, "txn-2", domain.CauseWebhook("evt-dup"))
	if !errors.Is(err, domain.ErrStaleEvent) {
		t.Fatalf("expected ErrStaleEvent, got %v", err)
	}
	if intent.ProviderTransactionID != "txn-1" {
		t.Errorf("duplicate capture must not overwrite transaction id")
	}
}

func TestRecordRefund_PartialThenFull(t *testing.T) {
	intent := newIntent(domain.StatusCapturing)
	if _, err := intent.RecordCapture(10000, "txn-1", domain.CauseAdapterResponse); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// $30.00 of $100.00
	row, err := intent.RecordRefund(3000, domain.CauseAdapterResponse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.ToStatus != domain.StatusPartiallyRefunded {
		t.Errorf("expected partially_refunded, got %s", row.ToStatus)
	}
	if intent.ActiveMinor() != 7000 {
		t.Errorf("expected active 7000, got %d", intent.ActiveMinor())
	}

	row, err = intent.RecordRefund(7000, domain.CauseAdapterResponse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.ToStatus != domain.StatusRefunded {
		t.Errorf("expected refunded, got %s", row.ToStatus)
	}
	if intent.ActiveMinor() != 0 {
		t.Errorf("expected active 0, got %d", intent.ActiveMinor())
	}
}

func TestRecordRefund_ExceedingBalanceIsInvariantViolation(t *testing.T) {
	intent := newIntent(domain.StatusCapturing)
	if _, err := intent.RecordCapture(10000, "txn-1", domain.CauseAdapterResponse); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := intent.RecordRefund(6000, domain.CauseAdapterResponse); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := intent.RecordRefund(5000, domain.CauseAdapterResponse)
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if intent.RefundedMinor != 6000 {
		t.Errorf("refunded total must not change, got %d", intent.RefundedMinor)
	}
}

func TestRecordRefund_AfterFullRefundIsStale(t *testing.T) {
	intent := newIntent(domain.StatusCapturing)
	if _, err := intent.RecordCapture(10000, "txn-1", domain.CauseAdapterResponse); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := intent.RecordRefund(10000, domain.CauseAdapterResponse); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A late notification for the same refund must read as stale, not as an
	// invariant breach, so the sender gets an acknowledgement and stops.
	_, err := intent.RecordRefund(10000, domain.CauseWebhook("evt-late"))
	if !errors.Is(err, domain.ErrStaleEvent) {
		t.Fatalf("expected ErrStaleEvent, got %v", err)
	}
	if intent.RefundedMinor != 10000 {
		t.Errorf("refunded total must not change, got %d", intent.RefundedMinor)
	}
}

func TestRecordRefund_BeforeCaptureIsStale(t *testing.T) {
	intent := newIntent(domain.StatusPending)

	_, err := intent.RecordRefund(1000, domain.CauseWebhook("evt-early"))
	if !errors.Is(err, domain.ErrStaleEvent) {
		t.Fatalf("expected ErrStaleEvent, got %v", err)
	}
}

func TestEventKind_Valid(t *testing.T) {
	for _, k := range []domain.EventKind{
		domain.EventPending, domain.EventAuthorized, domain.EventCaptured,
		domain.EventFailed, domain.EventCancelled, domain.EventExpired,
		domain.EventRefunded, domain.EventDisputed,
	} {
		if !k.Valid() {
			t.Errorf("kind %s should be valid", k)
		}
	}

	if domain.EventKind("intent.teleported").Valid() {
		t.Errorf("unknown kind must be invalid")
	}
}

func TestStatus_TerminalAndTransient(t *testing.T) {
	for _, s := range []domain.Status{
		domain.StatusRefunded, domain.StatusFailed, domain.StatusCancelled, domain.StatusExpired,
	} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	for _, s := range []domain.Status{
		domain.StatusCreated, domain.StatusPending, domain.StatusAuthorized, domain.StatusCapturing,
	} {
		if !s.IsTransient() {
			t.Errorf("%s should be transient", s)
		}
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}

	if domain.StatusCompleted.IsTerminal() {
		t.Errorf("completed can still move through refund and dispute branches")
	}
}
