package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChargeRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChargeRequest
		wantErr string
	}{
		{
			name: "valid request",
			req:  ChargeRequest{Amount: 25.50, PayerHandle: "0244123456", Provider: ProviderMTN},
		},
		{
			name:    "zero amount",
			req:     ChargeRequest{Amount: 0, PayerHandle: "0244123456", Provider: ProviderMTN},
			wantErr: "amount must be greater than zero",
		},
		{
			name:    "negative amount",
			req:     ChargeRequest{Amount: -1, PayerHandle: "0244123456", Provider: ProviderMTN},
			wantErr: "amount must be greater than zero",
		},
		{
			name:    "missing phone",
			req:     ChargeRequest{Amount: 10, Provider: ProviderMTN},
			wantErr: "phone is required",
		},
		{
			name:    "unknown provider",
			req:     ChargeRequest{Amount: 10, PayerHandle: "0244123456", Provider: "mpesa"},
			wantErr: "provider must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSessionStateTransitions(t *testing.T) {
	allowed := []struct{ from, to SessionState }{
		{StateCreated, StateInitiating},
		{StateCreated, StateCancelled},
		{StateInitiating, StateAwaitingConfirmation},
		{StateInitiating, StateFailed},
		{StateInitiating, StateCancelled},
		{StateAwaitingConfirmation, StateVerifying},
		{StateAwaitingConfirmation, StateFailed},
		{StateAwaitingConfirmation, StateCancelled},
		{StateVerifying, StateSucceeded},
		{StateVerifying, StateFailed},
		{StateVerifying, StateAwaitingConfirmation},
		{StateVerifying, StateCancelled},
	}
	for _, tr := range allowed {
		require.True(t, tr.from.CanTransition(tr.to), "%s -> %s should be allowed", tr.from, tr.to)
	}

	denied := []struct{ from, to SessionState }{
		{StateCreated, StateAwaitingConfirmation},
		{StateCreated, StateSucceeded},
		{StateAwaitingConfirmation, StateSucceeded},
		{StateAwaitingConfirmation, StateInitiating},
		{StateSucceeded, StateFailed},
		{StateSucceeded, StateVerifying},
		{StateFailed, StateAwaitingConfirmation},
		{StateCancelled, StateInitiating},
		{StateVerifying, StateCreated},
	}
	for _, tr := range denied {
		require.False(t, tr.from.CanTransition(tr.to), "%s -> %s should be denied", tr.from, tr.to)
	}
}

func TestSessionStateTerminal(t *testing.T) {
	for _, s := range []SessionState{StateSucceeded, StateFailed, StateCancelled} {
		require.True(t, s.Terminal(), "%s", s)
		require.Empty(t, transitions[s], "terminal state %s must have no outgoing transitions", s)
	}
	for _, s := range []SessionState{StateCreated, StateInitiating, StateAwaitingConfirmation, StateVerifying} {
		require.False(t, s.Terminal(), "%s", s)
	}
}

func TestNewSession(t *testing.T) {
	session := NewSession(42.00, "233244123456", ProviderVodafone)

	require.Equal(t, StateCreated, session.State)
	require.Equal(t, 42.00, session.Amount)
	require.Equal(t, "GHS", session.Currency)
	require.Equal(t, ProviderVodafone, session.Provider)
	require.Zero(t, session.Attempts)
	require.Nil(t, session.ProviderTxnID)
	require.Nil(t, session.LastError)
	require.Equal(t, session.CreatedAt, session.UpdatedAt)

	require.True(t, strings.HasPrefix(session.ID, "pay_"))
	require.Len(t, session.ID, 4+26) // pay_ + ULID

	// Reference IDs are uuid4 and unique per session.
	other := NewSession(42.00, "233244123456", ProviderVodafone)
	require.NotEqual(t, session.ReferenceID, other.ReferenceID)
	require.NotEqual(t, session.ID, other.ID)
	require.Len(t, session.ReferenceID, 36)
}

func TestNewTransactionID(t *testing.T) {
	id := NewTransactionID()
	require.True(t, strings.HasPrefix(id, "MOMO_"))
	require.Len(t, id, 5+16)
	require.Equal(t, strings.ToUpper(id), id)
	require.NotEqual(t, id, NewTransactionID())
}
