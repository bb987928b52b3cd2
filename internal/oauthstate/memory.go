package oauthstate

import (
	"context"
	"sync"
	"time"
)

// MemoryNonces is a process-local NonceStore. It is only correct when a single
// server instance handles every callback.
type MemoryNonces struct {
	mu      sync.Mutex
	entries map[string]time.Time // nonce -> expiry
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewMemoryNonces creates the store and starts a goroutine that drops expired
// nonces every interval.
func NewMemoryNonces(interval time.Duration) *MemoryNonces {
	m := &MemoryNonces{
		entries: make(map[string]time.Time),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.cleanupExpired(interval)
	return m
}

// Consume reports true the first time nonce is seen before it expires.
func (m *MemoryNonces) Consume(_ context.Context, nonce string, expiresAt time.Time) (bool, error) {
	if nonce == "" {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, seen := m.entries[nonce]; seen && m.now().Before(exp) {
		return false, nil
	}
	m.entries[nonce] = expiresAt
	return true, nil
}

// Close stops the cleanup goroutine.
func (m *MemoryNonces) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *MemoryNonces) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.purge()
		}
	}
}

func (m *MemoryNonces) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for nonce, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, nonce)
		}
	}
}

func (m *MemoryNonces) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
