package repository

import (
	"context"
	"time"

	"payment-service/internal/domain"
)

// Mutation carries the field changes applied together with a state
// transition. Zero value means "state change only".
type Mutation struct {
	IncrementAttempts bool
	ProviderTxnID     *string
	LastError         *string
	ClearLastError    bool
}

// SessionStore is the durable record of every attempted charge. Transition is
// the single serialization point for the whole flow: it compare-and-swaps on
// the session's current state, so concurrent writers cannot apply a change
// against a stale observation.
type SessionStore interface {
	Create(ctx context.Context, session *domain.PaymentSession) error
	GetByID(ctx context.Context, id string) (*domain.PaymentSession, error)
	GetByReferenceID(ctx context.Context, referenceID string) (*domain.PaymentSession, error)

	// Transition moves a session from one state to another, applying the
	// mutation atomically. Returns domain.ErrConflict when the session is no
	// longer in the from state, domain.ErrNotFound when the id is unknown.
	Transition(ctx context.Context, id string, from, to domain.SessionState, mut Mutation) (*domain.PaymentSession, error)

	// FindUnresolved returns sessions sitting in any of the given states
	// whose last update is older than the grace period. Used by the poller
	// and the startup recovery pass.
	FindUnresolved(ctx context.Context, olderThan time.Duration, states ...domain.SessionState) ([]*domain.PaymentSession, error)

	// ListByPayer returns a payer's sessions, newest first, optionally
	// filtered by state.
	ListByPayer(ctx context.Context, payerHandle string, state *domain.SessionState) ([]*domain.PaymentSession, error)
}
