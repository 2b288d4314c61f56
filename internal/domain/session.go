package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type PaymentProvider string

const (
	ProviderMTN      PaymentProvider = "mtn"
	ProviderVodafone PaymentProvider = "vodafone"
	ProviderAirtel   PaymentProvider = "airtel"
	ProviderTelecel  PaymentProvider = "telecel"
)

// Currency is fixed; the platform settles everything in Ghana cedis.
const Currency = "GHS"

func (p PaymentProvider) Valid() bool {
	switch p {
	case ProviderMTN, ProviderVodafone, ProviderAirtel, ProviderTelecel:
		return true
	}
	return false
}

type SessionState string

const (
	StateCreated              SessionState = "created"
	StateInitiating           SessionState = "initiating"
	StateAwaitingConfirmation SessionState = "awaiting_confirmation"
	StateVerifying            SessionState = "verifying"
	StateSucceeded            SessionState = "succeeded"
	StateFailed               SessionState = "failed"
	StateCancelled            SessionState = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s SessionState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// transitions is the forward-only lifecycle graph. Verifying is the only
// state that may be re-entered (via awaiting_confirmation, on retries).
var transitions = map[SessionState][]SessionState{
	StateCreated:              {StateInitiating, StateCancelled},
	StateInitiating:           {StateAwaitingConfirmation, StateFailed, StateCancelled},
	StateAwaitingConfirmation: {StateVerifying, StateFailed, StateCancelled},
	StateVerifying:            {StateSucceeded, StateFailed, StateAwaitingConfirmation, StateCancelled},
}

// CanTransition reports whether moving from s to next is legal.
func (s SessionState) CanTransition(next SessionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentSession is the durable record of one attempted mobile-money charge,
// from initiation to terminal outcome. Terminal sessions are never deleted.
type PaymentSession struct {
	ID            string          `json:"id" db:"id"`
	ReferenceID   string          `json:"reference_id" db:"reference_id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	Amount        float64         `json:"amount" db:"amount"`
	Currency      string          `json:"currency" db:"currency"`
	PayerHandle   string          `json:"payer_handle" db:"payer_handle"`
	Provider      PaymentProvider `json:"provider" db:"provider"`
	State         SessionState    `json:"state" db:"state"`
	Attempts      int             `json:"attempts" db:"attempts"`
	ProviderTxnID *string         `json:"provider_txn_id,omitempty" db:"provider_txn_id"`
	LastError     *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// ChargeRequest is the facade's input for starting a payment.
type ChargeRequest struct {
	Amount      float64         `json:"amount"`
	PayerHandle string          `json:"phone"`
	Provider    PaymentProvider `json:"provider"`
}

func (r *ChargeRequest) Validate() error {
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	if r.PayerHandle == "" {
		return fmt.Errorf("%w: phone is required", ErrValidation)
	}
	if !r.Provider.Valid() {
		return fmt.Errorf("%w: provider must be one of: mtn, vodafone, airtel, telecel", ErrValidation)
	}
	return nil
}

// NewSession builds a fresh session in the created state. The reference ID is
// the idempotency key sent to the provider and never changes afterwards.
func NewSession(amount float64, payerHandle string, provider PaymentProvider) *PaymentSession {
	now := time.Now().UTC()
	return &PaymentSession{
		ID:            NewSessionID(),
		ReferenceID:   uuid.NewString(),
		TransactionID: NewTransactionID(),
		Amount:        amount,
		Currency:      Currency,
		PayerHandle:   payerHandle,
		Provider:      provider,
		State:         StateCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewSessionID generates a prefixed, lexically sortable session identifier.
func NewSessionID() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	return "pay_" + id.String()
}

// NewTransactionID generates the display reference shown on receipts,
// e.g. MOMO_3F2A9C0D1B4E5F67.
func NewTransactionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return "MOMO_" + strings.ToUpper(hex.EncodeToString(b))
}
