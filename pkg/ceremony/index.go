package ceremony

import (
	"context"
	"sync"
	"time"
)

// TokenIndex maps a signing token to its signer ID for the token's
// lifetime. It is a lookup accelerator, not the source of truth: the
// signer record decides validity, so a stale or unavailable index can
// only cause a slower lookup, never a wrong answer.
type TokenIndex interface {
	Put(ctx context.Context, token, signerID string, ttl time.Duration) error
	// Lookup returns the signer ID holding the token, or "" if unknown.
	Lookup(ctx context.Context, token string) (string, error)
	Remove(ctx context.Context, token string) error
}

type indexEntry struct {
	signerID  string
	expiresAt time.Time
}

// MemoryIndex is the default in-process TokenIndex.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]indexEntry
}

// NewMemoryIndex creates an empty in-memory token index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]indexEntry)}
}

func (m *MemoryIndex) Put(ctx context.Context, token, signerID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[token] = indexEntry{signerID: signerID, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryIndex) Lookup(ctx context.Context, token string) (string, error) {
	m.mu.RLock()
	entry, ok := m.entries[token]
	m.mu.RUnlock()
	if !ok {
		return "", nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, token)
		m.mu.Unlock()
		return "", nil
	}
	return entry.signerID, nil
}

func (m *MemoryIndex) Remove(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, token)
	return nil
}
