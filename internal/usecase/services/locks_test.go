package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/api-sage/retail-ledger/internal/domain"
	"github.com/api-sage/retail-ledger/internal/usecase/services"
	"golang.org/x/sync/errgroup"
)

func TestLockAcquireTimesOutWithRetryableError(t *testing.T) {
	locks := services.NewLockTable(50 * time.Millisecond)

	release, err := locks.Acquire(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer release()

	_, err = locks.Acquire(context.Background(), "acc-1")
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict on timeout, got %v", err)
	}
}

func TestLockAcquireRespectsContextCancellation(t *testing.T) {
	locks := services.NewLockTable(5 * time.Second)

	release, err := locks.Acquire(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = locks.Acquire(ctx, "acc-1")
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict on cancellation, got %v", err)
	}
}

func TestAcquirePairOppositeDirectionsDoNotDeadlock(t *testing.T) {
	locks := services.NewLockTable(2 * time.Second)

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		a, b := "acc-1", "acc-2"
		if i%2 == 1 {
			a, b = b, a
		}
		g.Go(func() error {
			release, err := locks.AcquirePair(context.Background(), a, b)
			if err != nil {
				return err
			}
			release()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pair acquisition failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("pair acquisitions deadlocked")
	}
}
