package domain

import "errors"

// Shared error taxonomy for the payment flow. Callers match with errors.Is;
// provider adapters and the store wrap these with context.
var (
	// ErrValidation marks bad input that never reaches the provider.
	ErrValidation = errors.New("validation failed")

	// ErrProviderTransient marks a retryable provider failure (timeout, 5xx).
	ErrProviderTransient = errors.New("provider temporarily unavailable")

	// ErrProviderRejected marks a definitive provider decline.
	ErrProviderRejected = errors.New("provider rejected the request")

	// ErrConflict means a compare-and-swap on session state lost the race.
	// Handled inside the orchestrator, never surfaced to API callers.
	ErrConflict = errors.New("session state changed concurrently")

	// ErrInvalidTransition marks an illegal state change request,
	// e.g. cancelling a session that already settled.
	ErrInvalidTransition = errors.New("invalid session state transition")

	ErrNotFound = errors.New("session not found")
)
