package domain

import "errors"

// Error taxonomy for orchestration outcomes. Callers branch on these with
// errors.Is; adapters wrap them with provider detail.
var (
	// ErrProviderUnavailable covers network failures and provider 5xx responses.
	// Retryable with backoff.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderRejected covers provider 4xx validation failures. Terminal,
	// never retried.
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrProviderTimeout means no response within the bounded deadline. The
	// provider-side effect may still have landed, so this is retryable and the
	// reconciliation sweep is the backstop.
	ErrProviderTimeout = errors.New("provider call timed out")

	// ErrInvalidSignature means webhook verification failed. State is never
	// touched.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrDuplicateOperation is an idempotency hit: the prior result is returned
	// instead of re-executing.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrStaleEvent is an out-of-order or superseded transition. Logged and
	// discarded, never surfaced to callers.
	ErrStaleEvent = errors.New("stale event")

	// ErrInvariantViolation means a ledger sum or captured-amount bound would
	// break. Halts the operation for manual reconciliation.
	ErrInvariantViolation = errors.New("invariant violation")

	ErrIntentNotFound = errors.New("payment intent not found")
	ErrUnknownProvider = errors.New("unknown provider")
)

// IsRetryable reports whether the error is a transient provider failure
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrProviderTimeout)
}
