package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/api-sage/retail-ledger/internal/domain"
	"github.com/api-sage/retail-ledger/internal/usecase/services"
)

func TestAccrualSweepCoversActiveAccountsOnly(t *testing.T) {
	ledger, repo := newLedgerFixture(t)

	first := seedAccount(t, repo, seed{balance: "10000.00", available: "10000.00"})
	second := seedAccount(t, repo, seed{balance: "20000.00", available: "20000.00"})
	frozen := seedAccount(t, repo, seed{balance: "5000.00", available: "5000.00", status: domain.AccountStatusFrozen})

	sweepAt := baseTime.Add(24 * time.Hour)
	job := services.NewInterestAccrualJob(ledger, repo, time.Hour, fixedClock(sweepAt))

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	// 0.0365 / 365 per day on each balance
	firstSnapshot, _ := ledger.GetSnapshot(context.Background(), first.ID)
	if !firstSnapshot.Balance.Equal(dec("10001.00")) {
		t.Fatalf("first balance = %s, want 10001.00", firstSnapshot.Balance)
	}
	secondSnapshot, _ := ledger.GetSnapshot(context.Background(), second.ID)
	if !secondSnapshot.Balance.Equal(dec("20002.00")) {
		t.Fatalf("second balance = %s, want 20002.00", secondSnapshot.Balance)
	}
	frozenSnapshot, _ := ledger.GetSnapshot(context.Background(), frozen.ID)
	if !frozenSnapshot.Balance.Equal(dec("5000.00")) {
		t.Fatalf("frozen balance = %s, want untouched 5000.00", frozenSnapshot.Balance)
	}

	// A second sweep at the same instant accrues nothing.
	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	firstSnapshot, _ = ledger.GetSnapshot(context.Background(), first.ID)
	if !firstSnapshot.Balance.Equal(dec("10001.00")) {
		t.Fatalf("second sweep changed balance to %s", firstSnapshot.Balance)
	}
}
