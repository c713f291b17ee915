package nonce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process Store backed by an expirable LRU. It is only
// correct for single-replica deployments.
type Memory struct {
	mu     sync.Mutex
	cache  *expirable.LRU[string, time.Time]
	maxTTL time.Duration
	now    func() time.Time
}

// NewMemory returns a Memory store holding at most size markers. maxTTL is
// the longest ttl Add accepts; the LRU evicts entries after it regardless.
func NewMemory(size int, maxTTL time.Duration) *Memory {
	return &Memory{
		cache:  expirable.NewLRU[string, time.Time](size, nil, maxTTL),
		maxTTL: maxTTL,
		now:    time.Now,
	}
}

// Add implements Store.
func (m *Memory) Add(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl > m.maxTTL {
		return false, fmt.Errorf("nonce ttl %s exceeds store maximum %s", ttl, m.maxTTL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if deadline, ok := m.cache.Get(key); ok && now.Before(deadline) {
		return false, nil
	}
	m.cache.Add(key, now.Add(ttl))
	return true, nil
}

// Ping implements Store.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Len returns the number of markers currently held.
func (m *Memory) Len() int {
	return m.cache.Len()
}
