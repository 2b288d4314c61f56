package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS payment_sessions (
    id              TEXT PRIMARY KEY,
    reference_id    TEXT NOT NULL UNIQUE,
    transaction_id  TEXT NOT NULL,
    amount          NUMERIC(10,2) NOT NULL CHECK (amount > 0),
    currency        TEXT NOT NULL,
    payer_handle    TEXT NOT NULL,
    provider        TEXT NOT NULL,
    state           TEXT NOT NULL,
    attempts        INT NOT NULL DEFAULT 0,
    provider_txn_id TEXT,
    last_error      TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_payment_sessions_state ON payment_sessions (state, updated_at);
CREATE INDEX IF NOT EXISTS idx_payment_sessions_payer ON payment_sessions (payer_handle, created_at DESC);
`

const sessionColumns = `
    id, reference_id, transaction_id, amount, currency, payer_handle,
    provider, state, attempts, provider_txn_id, last_error, created_at, updated_at`

type postgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) SessionStore {
	return &postgresStore{db: db}
}

// Migrate creates the sessions table when missing.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}

func (s *postgresStore) Create(ctx context.Context, session *domain.PaymentSession) error {
	query := `
        INSERT INTO payment_sessions (
            id, reference_id, transaction_id, amount, currency,
            payer_handle, provider, state, attempts, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING created_at, updated_at
    `
	return s.db.QueryRow(ctx, query,
		session.ID,
		session.ReferenceID,
		session.TransactionID,
		session.Amount,
		session.Currency,
		session.PayerHandle,
		session.Provider,
		session.State,
		session.Attempts,
		session.CreatedAt,
		session.UpdatedAt,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
}

func (s *postgresStore) GetByID(ctx context.Context, id string) (*domain.PaymentSession, error) {
	query := `SELECT` + sessionColumns + ` FROM payment_sessions WHERE id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

func (s *postgresStore) GetByReferenceID(ctx context.Context, referenceID string) (*domain.PaymentSession, error) {
	query := `SELECT` + sessionColumns + ` FROM payment_sessions WHERE reference_id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, referenceID))
}

func (s *postgresStore) Transition(ctx context.Context, id string, from, to domain.SessionState, mut Mutation) (*domain.PaymentSession, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	query := `
        UPDATE payment_sessions
        SET
            state = $3,
            attempts = attempts + CASE WHEN $4 THEN 1 ELSE 0 END,
            provider_txn_id = COALESCE($5, provider_txn_id),
            last_error = CASE WHEN $7 THEN NULL ELSE COALESCE($6, last_error) END,
            updated_at = NOW()
        WHERE id = $1 AND state = $2
        RETURNING` + sessionColumns

	session, err := s.scanOne(s.db.QueryRow(ctx, query,
		id, from, to,
		mut.IncrementAttempts,
		mut.ProviderTxnID,
		mut.LastError,
		mut.ClearLastError,
	))
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// No row matched: distinguish a lost race from an unknown session.
	if _, getErr := s.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: expected state %s", domain.ErrConflict, from)
}

func (s *postgresStore) FindUnresolved(ctx context.Context, olderThan time.Duration, states ...domain.SessionState) ([]*domain.PaymentSession, error) {
	if len(states) == 0 {
		return nil, nil
	}
	stateArgs := make([]string, len(states))
	for i, st := range states {
		stateArgs[i] = string(st)
	}

	query := `
        SELECT` + sessionColumns + `
        FROM payment_sessions
        WHERE state = ANY($1) AND updated_at <= $2
        ORDER BY updated_at ASC
    `
	rows, err := s.db.Query(ctx, query, stateArgs, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanAll(rows)
}

func (s *postgresStore) ListByPayer(ctx context.Context, payerHandle string, state *domain.SessionState) ([]*domain.PaymentSession, error) {
	query := `
        SELECT` + sessionColumns + `
        FROM payment_sessions
        WHERE payer_handle = $1 AND ($2::text IS NULL OR state = $2)
        ORDER BY created_at DESC
    `
	rows, err := s.db.Query(ctx, query, payerHandle, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanAll(rows)
}

func (s *postgresStore) scanOne(row pgx.Row) (*domain.PaymentSession, error) {
	var session domain.PaymentSession
	err := row.Scan(
		&session.ID,
		&session.ReferenceID,
		&session.TransactionID,
		&session.Amount,
		&session.Currency,
		&session.PayerHandle,
		&session.Provider,
		&session.State,
		&session.Attempts,
		&session.ProviderTxnID,
		&session.LastError,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *postgresStore) scanAll(rows pgx.Rows) ([]*domain.PaymentSession, error) {
	var sessions []*domain.PaymentSession
	for rows.Next() {
		session, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
