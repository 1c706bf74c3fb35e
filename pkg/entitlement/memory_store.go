package entitlement

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore is an in-memory Store for tests and single-process dev runs.
// Accounts are deep-copied on the way in and out so callers can never
// mutate stored state directly; all mutation goes through CompareAndSet.
type memoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*Account
	emails   map[string]uuid.UUID
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		accounts: make(map[uuid.UUID]*Account),
		emails:   make(map[string]uuid.UUID),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *memoryStore) Get(_ context.Context, id uuid.UUID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (s *memoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[normalizeEmail(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return s.accounts[id].Clone(), nil
}

func (s *memoryStore) Create(_ context.Context, acc *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(acc.Email)
	if _, exists := s.accounts[acc.ID]; exists {
		return ErrAccountExists
	}
	if _, exists := s.emails[email]; exists {
		return ErrAccountExists
	}

	if acc.Version == 0 {
		acc.Version = 1
	}
	s.accounts[acc.ID] = acc.Clone()
	s.emails[email] = acc.ID
	return nil
}

func (s *memoryStore) CompareAndSet(_ context.Context, acc *Account, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[acc.ID]
	if !ok {
		return ErrAccountNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	acc.Version = expectedVersion + 1
	s.accounts[acc.ID] = acc.Clone()
	return nil
}

func (s *memoryStore) PendingDowngrades(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []uuid.UUID
	for id, acc := range s.accounts {
		if acc.IsPendingDowngrade() && !acc.EffectiveSince.After(cutoff) {
			due = append(due, id)
		}
	}
	return due, nil
}
