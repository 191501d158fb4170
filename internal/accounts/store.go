package accounts

import (
	"context"
	"sync"
)

// Store persists account records keyed by identifier.
type Store interface {
	// GetOrCreate returns the record for acct.Identifier, inserting acct
	// first when none exists. created reports whether the insert happened.
	GetOrCreate(ctx context.Context, acct Account) (stored Account, created bool, err error)
	// Save overwrites tier and tokens of an existing record. JoinedAt is kept.
	Save(ctx context.Context, acct Account) error
	Close() error
}

// MemoryStore keeps accounts for the lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, acct Account) (Account, bool, error) {
	s.mu.RLock()
	existing, ok := s.accounts[acct.Identifier]
	s.mu.RUnlock()
	if ok {
		return existing, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[acct.Identifier]; ok {
		return existing, false, nil
	}
	s.accounts[acct.Identifier] = acct
	return acct, true, nil
}

func (s *MemoryStore) Save(_ context.Context, acct Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[acct.Identifier]; ok {
		acct.JoinedAt = existing.JoinedAt
	}
	s.accounts[acct.Identifier] = acct
	return nil
}

func (s *MemoryStore) Close() error { return nil }
