// Package tokenstore persists the access/refresh token pair of an API session.
//
// Two keys make up the contract shared with login and logout flows:
// AccessTokenKey and RefreshTokenKey. Login writes both, logout deletes both,
// and the refresh protocol rotates them.
package tokenstore

import "sync"

const (
	AccessTokenKey  = "auth_token"
	RefreshTokenKey = "refresh_token"
)

// Store is a small string key/value store. Get returns "" and a nil error
// for a missing key.
type Store interface {
	Get(key string) (string, error)
	Set(values map[string]string) error
	Delete(keys ...string) error
}

// MemoryStore keeps tokens in process memory only.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

func (m *MemoryStore) Set(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string, len(values))
	}
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *MemoryStore) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}
