// Package orchestrator drives a payment session through its lifecycle:
// created -> initiating -> awaiting_confirmation -> verifying -> terminal.
// All state changes go through the store's compare-and-swap transition, so
// concurrent confirm calls and poller sweeps on the same session serialize
// there; a writer that loses the race re-reads instead of failing the flow.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-service/internal/domain"
	"payment-service/internal/provider"
	"payment-service/internal/repository"

	"go.uber.org/zap"
)

type Config struct {
	// MaxInitiateAttempts bounds retries of the provider initiate call.
	// Every retry reuses the session's reference ID, so the provider can
	// never double-charge.
	MaxInitiateAttempts int
	// MaxVerifyAttempts bounds verification checks before the session is
	// force-failed.
	MaxVerifyAttempts int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	InitiateTimeout   time.Duration
	StatusTimeout     time.Duration
	// PendingExpiry is how long an unresolved session may live before the
	// poller force-fails it. Zero disables expiry.
	PendingExpiry time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxInitiateAttempts: 3,
		MaxVerifyAttempts:   5,
		BackoffBase:         500 * time.Millisecond,
		BackoffCap:          30 * time.Second,
		InitiateTimeout:     15 * time.Second,
		StatusTimeout:       10 * time.Second,
		PendingExpiry:       15 * time.Minute,
	}
}

type Orchestrator struct {
	store     repository.SessionStore
	providers *provider.Registry
	cfg       Config
	logger    *zap.Logger

	// sleep is swapped out in tests to avoid waiting on real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(store repository.SessionStore, providers *provider.Registry, cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		providers: providers,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// StartPayment validates the request, persists a new session and drives it
// through initiation. Invalid input fails fast with domain.ErrValidation and
// never creates a store record or reaches the provider.
func (o *Orchestrator) StartPayment(ctx context.Context, req domain.ChargeRequest) (*domain.PaymentSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	adapter, err := o.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	handle, err := adapter.NormalizeHandle(req.PayerHandle)
	if err != nil {
		return nil, err
	}

	session := domain.NewSession(req.Amount, handle, req.Provider)
	if err := o.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	o.logger.Info("payment session created",
		zap.String("session_id", session.ID),
		zap.String("reference_id", session.ReferenceID),
		zap.String("provider", string(session.Provider)),
		zap.Float64("amount", session.Amount))

	session, err = o.store.Transition(ctx, session.ID, domain.StateCreated, domain.StateInitiating, repository.Mutation{})
	if err != nil {
		return nil, err
	}
	return o.initiate(ctx, session, adapter)
}

// initiate calls the provider with bounded retry and exponential backoff.
// Transient failures retry with the same reference ID; a definitive rejection
// fails the session immediately.
func (o *Orchestrator) initiate(ctx context.Context, session *domain.PaymentSession, adapter provider.Adapter) (*domain.PaymentSession, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxInitiateAttempts; attempt++ {
		initCtx, cancel := context.WithTimeout(ctx, o.cfg.InitiateTimeout)
		result, err := adapter.Initiate(initCtx, session.ReferenceID, session.Amount, session.PayerHandle)
		cancel()

		if err == nil {
			mut := repository.Mutation{ClearLastError: true}
			if result.ProviderTxnID != "" {
				mut.ProviderTxnID = &result.ProviderTxnID
			}
			updated, terr := o.store.Transition(ctx, session.ID, domain.StateInitiating, domain.StateAwaitingConfirmation, mut)
			if terr != nil {
				return o.afterConflict(ctx, session.ID, terr)
			}
			o.logger.Info("charge initiated",
				zap.String("session_id", session.ID),
				zap.String("reference_id", session.ReferenceID),
				zap.Int("attempt", attempt),
				zap.String("detail", result.Detail))
			return updated, nil
		}

		if errors.Is(err, domain.ErrProviderRejected) {
			o.logger.Warn("charge rejected at initiation",
				zap.String("session_id", session.ID),
				zap.String("reference_id", session.ReferenceID),
				zap.Error(err))
			return o.fail(ctx, session, domain.StateInitiating, err.Error(), err)
		}

		lastErr = err
		o.logger.Warn("transient initiation failure, will retry",
			zap.String("session_id", session.ID),
			zap.String("reference_id", session.ReferenceID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.cfg.MaxInitiateAttempts),
			zap.Error(err))

		if attempt < o.cfg.MaxInitiateAttempts {
			if serr := o.sleep(ctx, o.backoff(attempt)); serr != nil {
				lastErr = serr
				break
			}
		}
	}

	return o.fail(ctx, session, domain.StateInitiating, "initiation retries exhausted: "+lastErr.Error(), lastErr)
}

// Confirm performs one verification check. Safe to call any number of times:
// a session that already settled is returned unchanged, and a lost
// compare-and-swap race resolves by re-reading the winner's outcome.
func (o *Orchestrator) Confirm(ctx context.Context, id string) (*domain.PaymentSession, error) {
	session, err := o.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.verify(ctx, session)
}

func (o *Orchestrator) verify(ctx context.Context, session *domain.PaymentSession) (*domain.PaymentSession, error) {
	if session.State.Terminal() {
		return session, nil
	}
	if session.State != domain.StateAwaitingConfirmation {
		// created/initiating: nothing to verify yet; verifying: another
		// writer holds the check.
		return session, nil
	}

	id := session.ID
	session, err := o.store.Transition(ctx, id, domain.StateAwaitingConfirmation, domain.StateVerifying,
		repository.Mutation{IncrementAttempts: true})
	if err != nil {
		return o.afterConflict(ctx, id, err)
	}

	adapter, err := o.providers.Get(session.Provider)
	if err != nil {
		return session, err
	}

	statusCtx, cancel := context.WithTimeout(ctx, o.cfg.StatusTimeout)
	status, err := adapter.Status(statusCtx, session.ReferenceID)
	cancel()

	if err != nil {
		if errors.Is(err, domain.ErrProviderRejected) {
			return o.fail(ctx, session, domain.StateVerifying, err.Error(), nil)
		}
		// Transient: park the session for the poller or the next confirm.
		detail := err.Error()
		o.logger.Warn("transient verification failure",
			zap.String("session_id", session.ID),
			zap.Int("attempts", session.Attempts),
			zap.Error(err))
		parked, perr := o.store.Transition(ctx, session.ID, domain.StateVerifying, domain.StateAwaitingConfirmation,
			repository.Mutation{LastError: &detail})
		if perr != nil {
			return o.afterConflict(ctx, session.ID, perr)
		}
		return parked, nil
	}

	switch status.State {
	case provider.SettlementSucceeded:
		mut := repository.Mutation{ClearLastError: true}
		if status.ProviderTxnID != "" {
			mut.ProviderTxnID = &status.ProviderTxnID
		}
		settled, terr := o.store.Transition(ctx, session.ID, domain.StateVerifying, domain.StateSucceeded, mut)
		if terr != nil {
			return o.afterConflict(ctx, session.ID, terr)
		}
		o.logger.Info("payment settled",
			zap.String("session_id", session.ID),
			zap.String("reference_id", session.ReferenceID),
			zap.Int("attempts", settled.Attempts))
		return settled, nil

	case provider.SettlementFailed:
		return o.fail(ctx, session, domain.StateVerifying, status.Detail, nil)

	default: // still pending
		if session.Attempts >= o.cfg.MaxVerifyAttempts {
			return o.fail(ctx, session, domain.StateVerifying,
				fmt.Sprintf("no confirmation after %d verification attempts", session.Attempts), nil)
		}
		parked, terr := o.store.Transition(ctx, session.ID, domain.StateVerifying, domain.StateAwaitingConfirmation,
			repository.Mutation{})
		if terr != nil {
			return o.afterConflict(ctx, session.ID, terr)
		}
		return parked, nil
	}
}

// Cancel honors an explicit user cancellation while the session is
// non-terminal. A settled or failed session rejects cancellation with
// domain.ErrInvalidTransition; cancelling twice is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*domain.PaymentSession, error) {
	for {
		session, err := o.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if session.State == domain.StateCancelled {
			return session, nil
		}
		if session.State.Terminal() {
			return session, fmt.Errorf("%w: session already %s", domain.ErrInvalidTransition, session.State)
		}

		cancelled, err := o.store.Transition(ctx, id, session.State, domain.StateCancelled, repository.Mutation{})
		if errors.Is(err, domain.ErrConflict) {
			continue // someone moved the session; re-read and re-decide
		}
		if err != nil {
			return nil, err
		}
		o.logger.Info("payment cancelled",
			zap.String("session_id", id),
			zap.String("from_state", string(session.State)))
		return cancelled, nil
	}
}

// Get is the read-only session query for polling UIs.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.PaymentSession, error) {
	return o.store.GetByID(ctx, id)
}

// List returns a payer's sessions, newest first.
func (o *Orchestrator) List(ctx context.Context, payerHandle string, state *domain.SessionState) ([]*domain.PaymentSession, error) {
	return o.store.ListByPayer(ctx, payerHandle, state)
}

func (o *Orchestrator) fail(ctx context.Context, session *domain.PaymentSession, from domain.SessionState, detail string, cause error) (*domain.PaymentSession, error) {
	failed, err := o.store.Transition(ctx, session.ID, from, domain.StateFailed, repository.Mutation{LastError: &detail})
	if err != nil {
		return o.afterConflict(ctx, session.ID, err)
	}
	o.logger.Warn("payment failed",
		zap.String("session_id", session.ID),
		zap.String("reference_id", session.ReferenceID),
		zap.String("detail", detail))
	return failed, cause
}

// afterConflict resolves a lost compare-and-swap race by returning the
// winning writer's view of the session. Conflicts are internal; they never
// propagate past the orchestrator.
func (o *Orchestrator) afterConflict(ctx context.Context, id string, err error) (*domain.PaymentSession, error) {
	if !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}
	o.logger.Debug("lost state race, re-reading session", zap.String("session_id", id))
	return o.store.GetByID(ctx, id)
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.cfg.BackoffBase << (attempt - 1)
	if d > o.cfg.BackoffCap {
		return o.cfg.BackoffCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
