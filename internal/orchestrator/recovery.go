package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-service/internal/domain"
	"payment-service/internal/repository"

	"go.uber.org/zap"
)

// Reconcile drives one unresolved session towards a terminal outcome. It is
// the entry point for the poller sweep and the startup recovery pass, and it
// handles states a user-driven confirm never touches: sessions stuck in
// initiating after a lost acknowledgement, checks abandoned mid-verify, and
// sessions past the pending expiry.
func (o *Orchestrator) Reconcile(ctx context.Context, id string) (*domain.PaymentSession, error) {
	session, err := o.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() {
		return session, nil
	}

	if expired, err := o.expire(ctx, session); expired != nil || err != nil {
		return expired, err
	}

	switch session.State {
	case domain.StateCreated:
		// Never initiated; the reference was never sent to the provider, so
		// there is nothing to reconcile until the expiry pass collects it.
		return session, nil

	case domain.StateInitiating:
		return o.recoverInitiating(ctx, session)

	case domain.StateVerifying:
		// A check crashed mid-flight. The poller only hands us sessions past
		// the grace period, so the original writer is gone; park the session
		// and run a fresh check.
		parked, err := o.store.Transition(ctx, session.ID, domain.StateVerifying, domain.StateAwaitingConfirmation,
			repository.Mutation{})
		if err != nil {
			return o.afterConflict(ctx, session.ID, err)
		}
		return o.verify(ctx, parked)

	default: // awaiting_confirmation
		return o.verify(ctx, session)
	}
}

// recoverInitiating handles the lost-acknowledgement edge: initiate may have
// succeeded on the provider side before the crash, so the reference ID is the
// source of truth. The session is re-verified against the provider before any
// new initiation could be attempted, which rules out a duplicate charge.
func (o *Orchestrator) recoverInitiating(ctx context.Context, session *domain.PaymentSession) (*domain.PaymentSession, error) {
	adapter, err := o.providers.Get(session.Provider)
	if err != nil {
		return session, err
	}

	statusCtx, cancel := context.WithTimeout(ctx, o.cfg.StatusTimeout)
	status, err := adapter.Status(statusCtx, session.ReferenceID)
	cancel()

	if err != nil {
		if errors.Is(err, domain.ErrProviderRejected) {
			// The provider has no record of the reference: the charge never
			// went through. Fail the session so the payer can start over.
			return o.fail(ctx, session, domain.StateInitiating, "initiation was not acknowledged by the provider", nil)
		}
		// Transient; leave the session for the next sweep.
		return session, nil
	}

	o.logger.Info("recovered session with live charge",
		zap.String("session_id", session.ID),
		zap.String("reference_id", session.ReferenceID),
		zap.String("provider_state", string(status.State)))

	acked, err := o.store.Transition(ctx, session.ID, domain.StateInitiating, domain.StateAwaitingConfirmation,
		repository.Mutation{})
	if err != nil {
		return o.afterConflict(ctx, session.ID, err)
	}
	return o.verify(ctx, acked)
}

// expire force-fails a session that outlived the pending expiry window.
// Returns (nil, nil) when the session is still inside the window.
func (o *Orchestrator) expire(ctx context.Context, session *domain.PaymentSession) (*domain.PaymentSession, error) {
	if o.cfg.PendingExpiry <= 0 || time.Since(session.CreatedAt) < o.cfg.PendingExpiry {
		return nil, nil
	}

	if session.State == domain.StateCreated {
		// Abandoned before initiation; no charge exists, cancel rather than fail.
		cancelled, err := o.store.Transition(ctx, session.ID, domain.StateCreated, domain.StateCancelled,
			repository.Mutation{})
		if err != nil {
			return o.afterConflict(ctx, session.ID, err)
		}
		return cancelled, nil
	}

	detail := "expired: no confirmation from provider"
	return o.fail(ctx, session, session.State, detail, nil)
}

// Recover re-drives every non-terminal session once. Called at startup before
// the service accepts traffic, so acknowledged-but-unpersisted charges are
// settled from the provider's record instead of being re-initiated.
func (o *Orchestrator) Recover(ctx context.Context) error {
	sessions, err := o.store.FindUnresolved(ctx, 0,
		domain.StateCreated, domain.StateInitiating,
		domain.StateAwaitingConfirmation, domain.StateVerifying)
	if err != nil {
		return fmt.Errorf("failed to list unresolved sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil
	}

	o.logger.Info("recovering unresolved sessions", zap.Int("count", len(sessions)))
	for _, session := range sessions {
		if _, err := o.Reconcile(ctx, session.ID); err != nil {
			o.logger.Error("failed to reconcile session during recovery",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}
	return nil
}
