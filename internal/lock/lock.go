// Package lock serializes work on a key, either within one process or
// across replicas sharing a Redis instance.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leadflow/leadflow/internal/config"
)

// ErrBusy is returned by TryLock when another holder owns the key.
var ErrBusy = errors.New("lock is held")

// Locker hands out exclusive holds on named keys.
type Locker interface {
	// Lock waits until the key is free or ctx is done.
	Lock(ctx context.Context, key string) (release func(), err error)
	// TryLock fails fast with ErrBusy.
	TryLock(ctx context.Context, key string) (release func(), err error)
}

// New builds the configured locker.
func New(cfg config.LockConfig) (Locker, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedisFromURL(cfg.RedisURL, DefaultTTL)
	}
	return nil, fmt.Errorf("unknown lock backend: %s", cfg.Backend)
}

// Memory is an in-process keyed mutex.
type Memory struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]chan struct{})}
}

func (m *Memory) acquire(key string) (chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.held[key]; ok {
		return ch, false
	}
	ch := make(chan struct{})
	m.held[key] = ch
	return ch, true
}

func (m *Memory) releaser(key string, ch chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	for {
		ch, ok := m.acquire(key)
		if ok {
			return m.releaser(key, ch), nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Memory) TryLock(_ context.Context, key string) (func(), error) {
	ch, ok := m.acquire(key)
	if !ok {
		return nil, ErrBusy
	}
	return m.releaser(key, ch), nil
}

// retryInterval is how often a waiting Redis Lock polls.
const retryInterval = 50 * time.Millisecond
