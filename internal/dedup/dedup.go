// Package dedup remembers recently accepted message IDs so a redelivered
// webhook is acknowledged without being processed twice.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Store records a message ID and reports whether it was already seen
// within the TTL. The check and the insert are one atomic step. Forget
// removes an ID whose message never reached the queue.
type Store interface {
	Seen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
	Close() error
}

// Memory is an in-process Store. Entries expire after ttl and are swept
// lazily on writes.
type Memory struct {
	mu        sync.Mutex
	ttl       time.Duration
	seen      map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (m *Memory) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) > m.ttl {
		for k, at := range m.seen {
			if now.Sub(at) > m.ttl {
				delete(m.seen, k)
			}
		}
		m.lastSweep = now
	}

	if at, ok := m.seen[id]; ok && now.Sub(at) <= m.ttl {
		return true, nil
	}
	m.seen[id] = now
	return false, nil
}

func (m *Memory) Forget(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	return nil
}

// Len reports the number of tracked IDs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *Memory) Close() error { return nil }
