// Package poller runs the background verification loop. It re-checks
// sessions stuck in awaiting_confirmation or verifying, which guarantees a
// session resolves even when the payer's client disconnected before
// confirming.
package poller

import (
	"context"
	"time"

	"payment-service/internal/domain"
	"payment-service/internal/locker"
	"payment-service/internal/orchestrator"
	"payment-service/internal/repository"

	"go.uber.org/zap"
)

type Config struct {
	Interval time.Duration
	// Grace is how long a session must sit untouched before a sweep picks it
	// up; it keeps the poller from racing a confirm call that is already in
	// flight.
	Grace   time.Duration
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Grace:    time.Minute,
		LockTTL:  time.Minute,
	}
}

type Poller struct {
	store  repository.SessionStore
	orch   *orchestrator.Orchestrator
	locks  locker.SessionLocker
	cfg    Config
	logger *zap.Logger
}

func New(store repository.SessionStore, orch *orchestrator.Orchestrator, locks locker.SessionLocker, cfg Config, logger *zap.Logger) *Poller {
	return &Poller{
		store:  store,
		orch:   orch,
		locks:  locks,
		cfg:    cfg,
		logger: logger,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("verification poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("grace", p.cfg.Grace))

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("verification poller stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over unresolved sessions. Exported so tests and the
// startup path can trigger a pass directly.
func (p *Poller) Sweep(ctx context.Context) {
	sessions, err := p.store.FindUnresolved(ctx, p.cfg.Grace,
		domain.StateAwaitingConfirmation, domain.StateVerifying)
	if err != nil {
		p.logger.Error("failed to list unresolved sessions", zap.Error(err))
		return
	}
	if len(sessions) == 0 {
		return
	}

	p.logger.Debug("sweeping unresolved sessions", zap.Int("count", len(sessions)))
	for _, session := range sessions {
		if ctx.Err() != nil {
			return
		}
		p.check(ctx, session.ID)
	}
}

func (p *Poller) check(ctx context.Context, id string) {
	release, acquired, err := p.locks.TryLock(ctx, id, p.cfg.LockTTL)
	if err != nil {
		p.logger.Error("failed to acquire session lock",
			zap.String("session_id", id),
			zap.Error(err))
		return
	}
	if !acquired {
		// Another sweep or replica holds this session.
		return
	}
	defer release()

	session, err := p.orch.Reconcile(ctx, id)
	if err != nil {
		p.logger.Error("failed to reconcile session",
			zap.String("session_id", id),
			zap.Error(err))
		return
	}
	if session.State.Terminal() {
		p.logger.Info("poller resolved session",
			zap.String("session_id", id),
			zap.String("state", string(session.State)))
	}
}
