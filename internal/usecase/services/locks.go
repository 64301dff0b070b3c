package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/api-sage/retail-ledger/internal/domain"
)

// LockTable serializes mutations per key (account id, or owner id for
// creation and primary changes). Acquisition waits at most the configured
// timeout and then fails with domain.ErrConcurrencyConflict, which the
// caller may retry; an operation is never silently dropped.
type LockTable struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	wait  time.Duration
}

func NewLockTable(wait time.Duration) *LockTable {
	if wait <= 0 {
		wait = 3 * time.Second
	}
	return &LockTable{
		slots: make(map[string]chan struct{}),
		wait:  wait,
	}
}

func (l *LockTable) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

// Acquire takes the lock for key, returning the release func.
func (l *LockTable) Acquire(ctx context.Context, key string) (func(), error) {
	s := l.slot(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: lock wait timed out for %s", domain.ErrConcurrencyConflict, key)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, ctx.Err())
	}
}

// AcquirePair takes both locks in lexicographic key order so two
// opposite-direction transfers cannot deadlock each other.
func (l *LockTable) AcquirePair(ctx context.Context, a, b string) (func(), error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	releaseFirst, err := l.Acquire(ctx, first)
	if err != nil {
		return nil, err
	}
	releaseSecond, err := l.Acquire(ctx, second)
	if err != nil {
		releaseFirst()
		return nil, err
	}

	return func() {
		releaseSecond()
		releaseFirst()
	}, nil
}
