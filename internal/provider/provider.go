package provider

import (
	"context"
	"fmt"

	"payment-service/internal/domain"
)

// Adapter normalizes one mobile-money gateway's quirks (phone format, charge
// API shape, error codes) behind a single contract. Adapters are stateless
// per call; they never cache provider responses.
type Adapter interface {
	Name() domain.PaymentProvider

	// NormalizeHandle validates and normalizes a payer phone number for this
	// provider's network. Returns a wrapped domain.ErrValidation on bad input.
	NormalizeHandle(raw string) (string, error)

	// Initiate asks the provider to charge the payer. The call is
	// asynchronous on the provider side: an accepted response is only an
	// acknowledgement, not a settlement. referenceID is the idempotency key;
	// the provider must treat repeated initiations with the same referenceID
	// as one charge.
	Initiate(ctx context.Context, referenceID string, amount float64, payerHandle string) (*InitiateResult, error)

	// Status reports the settlement outcome for a previously initiated
	// charge. Safe to call any number of times.
	Status(ctx context.Context, referenceID string) (*StatusResult, error)
}

type InitiateResult struct {
	Accepted      bool
	ProviderTxnID string
	Detail        string
}

type SettlementState string

const (
	SettlementPending   SettlementState = "pending"
	SettlementSucceeded SettlementState = "succeeded"
	SettlementFailed    SettlementState = "failed"
)

type StatusResult struct {
	State         SettlementState
	ProviderTxnID string
	Detail        string
}

// Registry resolves the adapter for a provider tag. Adding a provider means
// registering one more adapter; the orchestrator never branches on the tag.
type Registry struct {
	adapters map[domain.PaymentProvider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.PaymentProvider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(p domain.PaymentProvider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported provider: %s", domain.ErrValidation, p)
	}
	return a, nil
}
