package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a process-local Locker for single-instance deployments
// and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
	seq   uint64
}

type memoryEntry struct {
	token     uint64
	expiresAt time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]memoryEntry),
		clock: time.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if e, ok := l.held[key]; ok && now.Before(e.expiresAt) {
		return nil, false, nil
	}

	l.seq++
	token := l.seq
	l.held[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, ok := l.held[key]; ok && e.token == token {
			delete(l.held, key)
		}
		return nil
	}
	return release, true, nil
}
