package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"payment-service/internal/domain"
)

// memoryStore is a mutex-guarded in-memory SessionStore with the same
// compare-and-swap semantics as the postgres implementation. Used in tests
// and local development without a database.
type memoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*domain.PaymentSession
	byRef    map[string]string // referenceID -> id
	ordering []string          // ids in creation order
}

func NewMemoryStore() SessionStore {
	return &memoryStore{
		byID:  make(map[string]*domain.PaymentSession),
		byRef: make(map[string]string),
	}
}

func (s *memoryStore) Create(ctx context.Context, session *domain.PaymentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[session.ID]; exists {
		return fmt.Errorf("duplicate session id: %s", session.ID)
	}
	if _, exists := s.byRef[session.ReferenceID]; exists {
		return fmt.Errorf("duplicate reference id: %s", session.ReferenceID)
	}

	copied := *session
	s.byID[session.ID] = &copied
	s.byRef[session.ReferenceID] = session.ID
	s.ordering = append(s.ordering, session.ID)
	return nil
}

func (s *memoryStore) GetByID(ctx context.Context, id string) (*domain.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

func (s *memoryStore) GetByReferenceID(ctx context.Context, referenceID string) (*domain.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[referenceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.get(id)
}

func (s *memoryStore) Transition(ctx context.Context, id string, from, to domain.SessionState, mut Mutation) (*domain.PaymentSession, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if session.State != from {
		return nil, fmt.Errorf("%w: expected state %s, found %s", domain.ErrConflict, from, session.State)
	}

	session.State = to
	if mut.IncrementAttempts {
		session.Attempts++
	}
	if mut.ProviderTxnID != nil {
		session.ProviderTxnID = mut.ProviderTxnID
	}
	if mut.ClearLastError {
		session.LastError = nil
	} else if mut.LastError != nil {
		session.LastError = mut.LastError
	}
	session.UpdatedAt = time.Now().UTC()

	copied := *session
	return &copied, nil
}

func (s *memoryStore) FindUnresolved(ctx context.Context, olderThan time.Duration, states ...domain.SessionState) ([]*domain.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var sessions []*domain.PaymentSession
	for _, id := range s.ordering {
		session := s.byID[id]
		if session.UpdatedAt.After(cutoff) {
			continue
		}
		for _, st := range states {
			if session.State == st {
				copied := *session
				sessions = append(sessions, &copied)
				break
			}
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.Before(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (s *memoryStore) ListByPayer(ctx context.Context, payerHandle string, state *domain.SessionState) ([]*domain.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*domain.PaymentSession
	for _, id := range s.ordering {
		session := s.byID[id]
		if session.PayerHandle != payerHandle {
			continue
		}
		if state != nil && session.State != *state {
			continue
		}
		copied := *session
		sessions = append(sessions, &copied)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *memoryStore) get(id string) (*domain.PaymentSession, error) {
	session, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *session
	return &copied, nil
}
