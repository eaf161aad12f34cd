package directory

import (
	"context"
	"sync"
)

// Memory is an in-process Directory used by tests and the "memory" backend.
type Memory struct {
	mu        sync.RWMutex
	blacklist map[string][]string
	testlist  map[string][]string

	// Err, when set, is returned by every read so tests can exercise the
	// fail-open path of the access filter.
	Err error
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		blacklist: make(map[string][]string),
		testlist:  make(map[string][]string),
	}
}

func (m *Memory) Blacklist(_ context.Context, tenantID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]string(nil), m.blacklist[Normalize(tenantID)]...), nil
}

func (m *Memory) TestList(_ context.Context, tenantID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]string(nil), m.testlist[Normalize(tenantID)]...), nil
}

func (m *Memory) AppendBlacklist(_ context.Context, tenantID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	key := Normalize(tenantID)
	entry := Normalize(userID)
	for _, existing := range m.blacklist[key] {
		if existing == entry {
			return nil
		}
	}
	m.blacklist[key] = append(m.blacklist[key], entry)
	return nil
}

// SetTestList replaces a tenant's allowlist (test helper).
func (m *Memory) SetTestList(tenantID string, ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testlist[Normalize(tenantID)] = NormalizeAll(ids)
}

// SetBlacklist replaces a tenant's blacklist (test helper).
func (m *Memory) SetBlacklist(tenantID string, ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[Normalize(tenantID)] = NormalizeAll(ids)
}

func (m *Memory) Close() error { return nil }
