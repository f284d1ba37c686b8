package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"skland-checkin-bot/registry"
)

// MemoryStore is an in-memory registry.Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[registry.Identity]registry.Account
	groups   map[string][]registry.Identity
	seq      uint64
}

var _ registry.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[registry.Identity]registry.Account),
		groups:   make(map[string][]registry.Identity),
	}
}

func (m *MemoryStore) Get(ctx context.Context, id registry.Identity) (registry.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[id]
	return acc, ok, nil
}

func (m *MemoryStore) Put(ctx context.Context, id registry.Identity, token, displayName string, boundAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[id]
	if !ok {
		m.seq++
		acc = registry.Account{Identity: id, Seq: m.seq}
	}
	acc.Token = token
	acc.DisplayName = displayName
	acc.BoundAt = boundAt
	m.accounts[id] = acc
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id registry.Identity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[id]
	delete(m.accounts, id)
	return ok, nil
}

func (m *MemoryStore) DeleteIfToken(ctx context.Context, id registry.Identity, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok || acc.Token != token {
		return false, nil
	}
	delete(m.accounts, id)
	return true, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]registry.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]registry.Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStore) AddMember(ctx context.Context, group string, id registry.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range m.groups[group] {
		if member == id {
			return nil
		}
	}
	m.groups[group] = append(m.groups[group], id)
	return nil
}

func (m *MemoryStore) Members(ctx context.Context, group string) ([]registry.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]registry.Identity(nil), m.groups[group]...), nil
}
