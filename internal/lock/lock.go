// Package lock provides exclusive claims on artifact paths.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when the key is already claimed by someone else.
var ErrLocked = errors.New("lock: key already claimed")

// Release gives the claim back. Calling it more than once is a no-op.
type Release func(ctx context.Context) error

// Locker claims keys exclusively.
type Locker interface {
	TryLock(ctx context.Context, key string) (Release, error)
}

// Memory is a process-local Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (m *Memory) TryLock(_ context.Context, key string) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, ErrLocked
	}
	m.held[key] = struct{}{}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
		return nil
	}, nil
}

// Held reports whether key is currently claimed.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
