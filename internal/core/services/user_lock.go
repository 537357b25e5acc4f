package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrLockUnavailable = errors.New("user is busy, lock unavailable")

// UserLock serializes work per user. Slots are created on first use and never removed.
type UserLock struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	timeout time.Duration
}

// NewUserLock returns a lock pool. A zero timeout waits as long as the context allows.
func NewUserLock(timeout time.Duration) *UserLock {
	return &UserLock{
		slots:   make(map[string]chan struct{}),
		timeout: timeout,
	}
}

func (l *UserLock) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock blocks until the slot of key is free and returns the matching unlock function.
func (l *UserLock) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: user %s: %v", ErrLockUnavailable, key, ctx.Err())
	}
}
