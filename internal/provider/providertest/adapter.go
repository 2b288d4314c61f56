// Package providertest provides a scripted in-memory adapter for exercising
// the orchestrator and poller without network calls.
package providertest

import (
	"context"
	"sync"

	"payment-service/internal/domain"
	"payment-service/internal/provider"
)

// StatusStep scripts one Status call outcome.
type StatusStep struct {
	Result *provider.StatusResult
	Err    error
}

// InitiateStep scripts one Initiate call outcome.
type InitiateStep struct {
	Result *provider.InitiateResult
	Err    error
}

// Adapter is a scripted provider. Initiate and Status consume their scripts
// in order; when a script runs out, the last step repeats. Safe for
// concurrent use.
type Adapter struct {
	mu sync.Mutex

	ProviderName  domain.PaymentProvider
	InitiateSteps []InitiateStep
	StatusSteps   []StatusStep

	initiateCalls []string // referenceIDs, in call order
	statusCalls   []string
}

func New(name domain.PaymentProvider) *Adapter {
	return &Adapter{ProviderName: name}
}

func (a *Adapter) Name() domain.PaymentProvider { return a.ProviderName }

func (a *Adapter) NormalizeHandle(raw string) (string, error) {
	return provider.NormalizeMSISDN(a.ProviderName, raw)
}

// ScriptInitiate appends scripted Initiate outcomes.
func (a *Adapter) ScriptInitiate(steps ...InitiateStep) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.InitiateSteps = append(a.InitiateSteps, steps...)
	return a
}

// ScriptStatus appends scripted Status outcomes.
func (a *Adapter) ScriptStatus(steps ...StatusStep) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StatusSteps = append(a.StatusSteps, steps...)
	return a
}

func (a *Adapter) Initiate(ctx context.Context, referenceID string, amount float64, payerHandle string) (*provider.InitiateResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.initiateCalls = append(a.initiateCalls, referenceID)
	if len(a.InitiateSteps) == 0 {
		return &provider.InitiateResult{Accepted: true, Detail: "accepted"}, nil
	}
	step := a.InitiateSteps[0]
	if len(a.InitiateSteps) > 1 {
		a.InitiateSteps = a.InitiateSteps[1:]
	}
	return step.Result, step.Err
}

func (a *Adapter) Status(ctx context.Context, referenceID string) (*provider.StatusResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.statusCalls = append(a.statusCalls, referenceID)
	if len(a.StatusSteps) == 0 {
		return &provider.StatusResult{State: provider.SettlementPending, Detail: "awaiting payer approval"}, nil
	}
	step := a.StatusSteps[0]
	if len(a.StatusSteps) > 1 {
		a.StatusSteps = a.StatusSteps[1:]
	}
	return step.Result, step.Err
}

// InitiateCalls returns the reference IDs passed to Initiate, in order.
func (a *Adapter) InitiateCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.initiateCalls...)
}

// StatusCalls returns the reference IDs passed to Status, in order.
func (a *Adapter) StatusCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.statusCalls...)
}
