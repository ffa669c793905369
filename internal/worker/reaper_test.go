package worker

import (
	"testing"
	"time"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/app"
	"github.com/bananapics/core/internal/testutil"
)

func TestStuckJobReaper_SweepFailsAndRefundsStuckJobs(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	ctx := t.Context()
	if err := store.PostEntry(ctx, &core.LedgerEntry{ID: "seed", UserID: "u-1", EntryType: core.LedgerDeposit, Amount: 100, ReferenceID: "seed"}); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := store.PostEntry(ctx, &core.LedgerEntry{ID: "charge-1", UserID: "u-1", EntryType: core.LedgerCharge, Amount: -25, ReferenceID: "req-1"}); err != nil {
		t.Fatalf("seed charge for stuck job: %v", err)
	}
	if err := store.PostEntry(ctx, &core.LedgerEntry{ID: "charge-2", UserID: "u-1", EntryType: core.LedgerCharge, Amount: -10, ReferenceID: "req-2"}); err != nil {
		t.Fatalf("seed charge for fresh job: %v", err)
	}
	stuck := &core.GenerationJob{
		ID: "stuck-1", RequestID: "req-1", UserID: "u-1",
		Status: core.StatusProcessing, PriceCredits: 25, SubmittedAt: time.Now().Add(-time.Hour),
	}
	fresh := &core.GenerationJob{
		ID: "fresh-1", RequestID: "req-2", UserID: "u-1",
		Status: core.StatusProcessing, PriceCredits: 10, SubmittedAt: time.Now(),
	}
	if err := store.CreateJob(ctx, stuck); err != nil {
		t.Fatalf("CreateJob stuck: %v", err)
	}
	if err := store.CreateJob(ctx, fresh); err != nil {
		t.Fatalf("CreateJob fresh: %v", err)
	}

	ledger := app.NewLedgerService(store, store, 10, nil)
	r := NewStuckJobReaper(store, ledger, store, time.Minute, 30*time.Minute)
	r.sweep(ctx)

	reaped, err := store.GetJob(ctx, "stuck-1")
	if err != nil {
		t.Fatalf("GetJob stuck: %v", err)
	}
	if reaped.Status != core.StatusFailed {
		t.Errorf("stuck job Status = %q, want failed", reaped.Status)
	}

	untouched, err := store.GetJob(ctx, "fresh-1")
	if err != nil {
		t.Fatalf("GetJob fresh: %v", err)
	}
	if untouched.Status != core.StatusProcessing {
		t.Errorf("fresh job Status = %q, want unchanged processing", untouched.Status)
	}

	balance, err := store.Balance(ctx, "u-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 90 {
		t.Errorf("balance = %d, want 90 (100 deposit - 25 - 10 charges + 25 refund of stuck job)", balance)
	}
}
