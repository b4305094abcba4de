package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process ownership ledger for tests and local development.
type Memory struct {
	mu     sync.RWMutex
	owners map[uint64]string
}

var _ Ledger = (*Memory)(nil)

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		owners: make(map[uint64]string),
	}
}

func (m *Memory) Mint(_ context.Context, owner string, id uint64) error {
	if owner == "" {
		return fmt.Errorf("mint token %d: owner must not be empty", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.owners[id]; exists {
		return fmt.Errorf("mint token %d: %w", id, ErrAlreadyMinted)
	}
	m.owners[id] = owner
	return nil
}

func (m *Memory) Transfer(_ context.Context, from, to string, id uint64) error {
	if to == "" {
		return fmt.Errorf("transfer token %d: recipient must not be empty", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	owner, exists := m.owners[id]
	if !exists {
		return fmt.Errorf("transfer token %d: %w", id, ErrUnknownToken)
	}
	if owner != from {
		return fmt.Errorf("transfer token %d from %s: %w", id, from, ErrNotOwner)
	}
	m.owners[id] = to
	return nil
}

func (m *Memory) OwnerOf(_ context.Context, id uint64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, exists := m.owners[id]
	if !exists {
		return "", fmt.Errorf("token %d: %w", id, ErrUnknownToken)
	}
	return owner, nil
}

func (m *Memory) BalanceOf(_ context.Context, owner string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, holder := range m.owners {
		if holder == owner {
			count++
		}
	}
	return count, nil
}
