package poller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payment-service/internal/domain"
	"payment-service/internal/locker"
	"payment-service/internal/orchestrator"
	"payment-service/internal/provider"
	"payment-service/internal/provider/providertest"
	"payment-service/internal/repository"
)

func newTestPoller(t *testing.T, adapter *providertest.Adapter, locks locker.SessionLocker) (*Poller, *orchestrator.Orchestrator, repository.SessionStore) {
	t.Helper()

	store := repository.NewMemoryStore()
	orch := orchestrator.New(store, provider.NewRegistry(adapter), orchestrator.DefaultConfig(), zap.NewNop())

	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.Grace = 0

	return New(store, orch, locks, cfg, zap.NewNop()), orch, store
}

func startAwaiting(t *testing.T, orch *orchestrator.Orchestrator) *domain.PaymentSession {
	t.Helper()
	session, err := orch.StartPayment(context.Background(), domain.ChargeRequest{
		Amount:      10,
		PayerHandle: "0244123456",
		Provider:    domain.ProviderMTN,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingConfirmation, session.State)
	return session
}

func TestSweepResolvesStuckSession(t *testing.T) {
	adapter := providertest.New(domain.ProviderMTN).ScriptStatus(
		providertest.StatusStep{Result: &provider.StatusResult{State: provider.SettlementSucceeded}},
	)
	p, orch, store := newTestPoller(t, adapter, locker.NewLocalLocker())

	session := startAwaiting(t, orch)

	p.Sweep(context.Background())

	resolved, err := store.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateSucceeded, resolved.State)
	require.Len(t, adapter.StatusCalls(), 1)
}

func TestSweepSkipsLockedSession(t *testing.T) {
	adapter := providertest.New(domain.ProviderMTN).ScriptStatus(
		providertest.StatusStep{Result: &provider.StatusResult{State: provider.SettlementSucceeded}},
	)
	locks := locker.NewLocalLocker()
	p, orch, store := newTestPoller(t, adapter, locks)

	session := startAwaiting(t, orch)

	release, acquired, err := locks.TryLock(context.Background(), session.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	p.Sweep(context.Background())

	// The session is held elsewhere, so this sweep must not touch it.
	untouched, err := store.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingConfirmation, untouched.State)
	require.Empty(t, adapter.StatusCalls())

	release()
	p.Sweep(context.Background())

	resolved, err := store.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateSucceeded, resolved.State)
}

func TestSweepIgnoresTerminalSessions(t *testing.T) {
	adapter := providertest.New(domain.ProviderMTN)
	p, orch, store := newTestPoller(t, adapter, locker.NewLocalLocker())

	session := startAwaiting(t, orch)
	_, err := orch.Cancel(context.Background(), session.ID)
	require.NoError(t, err)

	p.Sweep(context.Background())

	got, err := store.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCancelled, got.State)
	require.Empty(t, adapter.StatusCalls())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	adapter := providertest.New(domain.ProviderMTN).ScriptStatus(
		providertest.StatusStep{Result: &provider.StatusResult{State: provider.SettlementSucceeded}},
	)
	p, orch, store := newTestPoller(t, adapter, locker.NewLocalLocker())

	session := startAwaiting(t, orch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := store.GetByID(context.Background(), session.ID)
		return err == nil && got.State == domain.StateSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
}
