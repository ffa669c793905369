package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/app"
	"github.com/bananapics/core/internal/provider"
	"github.com/bananapics/core/internal/testutil"
)

func newTestPoller(store *testutil.FakeStore, dispatcher *testutil.FakeDispatcher, chat core.Chat, maxDuration time.Duration) *GenerationPoller {
	reg := provider.NewRegistry()
	reg.Register(dispatcher)
	ledger := app.NewLedgerService(store, store, 10, nil)
	return NewGenerationPoller(store, ledger, store, reg, chat, time.Millisecond, maxDuration, nil)
}

func TestGenerationPoller_RefreshOnceCompletes(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	job := &core.GenerationJob{
		ID: "job-1", RequestID: "req-1", UserID: "u-1", ChatID: 1,
		ProviderName: "fake", Status: core.StatusProcessing, SubmittedAt: time.Now(),
	}
	if err := store.CreateJob(t.Context(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	chat := &testutil.FakeChat{}
	dispatcher := &testutil.FakeDispatcher{
		DispatcherName: "fake",
		PredictionFn: func(context.Context, string) (*core.PredictionStatus, error) {
			return &core.PredictionStatus{Status: core.StatusCompleted, OutputURLs: []string{"https://example.com/a.png"}}, nil
		},
	}
	p := newTestPoller(store, dispatcher, chat, time.Hour)

	refreshed, err := p.RefreshOnce(t.Context(), job, app.ChatCoords{ChatID: 1})
	if err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}
	if refreshed.Status != core.StatusCompleted {
		t.Errorf("Status = %q, want completed", refreshed.Status)
	}
	if len(chat.SentPhotos) != 1 {
		t.Errorf("SentPhotos = %v, want one delivery", chat.SentPhotos)
	}

	results, err := store.GetResultsByRequestID(t.Context(), job.RequestID)
	if err != nil {
		t.Fatalf("GetResultsByRequestID: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v, want one result", results)
	}
}

func TestGenerationPoller_RefreshOnceFailsAndRefunds(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	if err := store.PostEntry(t.Context(), &core.LedgerEntry{ID: "seed", UserID: "u-1", EntryType: core.LedgerDeposit, Amount: 100, ReferenceID: "seed"}); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := store.PostEntry(t.Context(), &core.LedgerEntry{ID: "charge", UserID: "u-1", EntryType: core.LedgerCharge, Amount: -20, ReferenceID: "req-1"}); err != nil {
		t.Fatalf("seed charge: %v", err)
	}
	job := &core.GenerationJob{
		ID: "job-1", RequestID: "req-1", UserID: "u-1", ChatID: 1,
		ProviderName: "fake", Status: core.StatusProcessing, PriceCredits: 20, SubmittedAt: time.Now(),
	}
	if err := store.CreateJob(t.Context(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	chat := &testutil.FakeChat{}
	dispatcher := &testutil.FakeDispatcher{
		DispatcherName: "fake",
		PredictionFn: func(context.Context, string) (*core.PredictionStatus, error) {
			return &core.PredictionStatus{Status: core.StatusFailed, ErrorMessage: "upstream rejected"}, nil
		},
	}
	p := newTestPoller(store, dispatcher, chat, time.Hour)

	refreshed, err := p.RefreshOnce(t.Context(), job, app.ChatCoords{ChatID: 1})
	if err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}
	if refreshed.Status != core.StatusFailed {
		t.Errorf("Status = %q, want failed", refreshed.Status)
	}
	balance, err := store.Balance(t.Context(), "u-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 100 {
		t.Errorf("balance after refund = %d, want 100 (full refund of charge)", balance)
	}
	if len(chat.SentMessages) != 1 {
		t.Errorf("SentMessages = %v, want one failure notice", chat.SentMessages)
	}
}

func TestGenerationPoller_RefreshOnceTimesOut(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	job := &core.GenerationJob{
		ID: "job-1", RequestID: "req-1", UserID: "u-1",
		ProviderName: "fake", Status: core.StatusProcessing, SubmittedAt: time.Now().Add(-time.Hour),
	}
	if err := store.CreateJob(t.Context(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	dispatcher := &testutil.FakeDispatcher{DispatcherName: "fake"}
	p := newTestPoller(store, dispatcher, &testutil.FakeChat{}, time.Minute)

	refreshed, err := p.RefreshOnce(t.Context(), job, app.ChatCoords{})
	if err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}
	if refreshed.Status != core.StatusFailed || refreshed.ErrorMessage != "polling timeout" {
		t.Errorf("job = %+v, want failed with polling timeout", refreshed)
	}
}

func TestGenerationPoller_RefreshOnceAlreadyTerminalIsNoop(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	completedAt := time.Now()
	job := &core.GenerationJob{
		ID: "job-1", RequestID: "req-1", UserID: "u-1",
		ProviderName: "fake", Status: core.StatusCompleted, CompletedAt: &completedAt, SubmittedAt: time.Now(),
	}
	dispatcher := &testutil.FakeDispatcher{
		DispatcherName: "fake",
		PredictionFn: func(context.Context, string) (*core.PredictionStatus, error) {
			t.Fatal("provider should not be polled for a terminal job")
			return nil, nil
		},
	}
	p := newTestPoller(store, dispatcher, &testutil.FakeChat{}, time.Hour)

	refreshed, err := p.RefreshOnce(t.Context(), job, app.ChatCoords{})
	if err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}
	if refreshed != job {
		t.Error("expected the same job pointer back for an already-terminal job")
	}
}

func TestGenerationPoller_PollStepUnknownProvider(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	p := newTestPoller(store, &testutil.FakeDispatcher{DispatcherName: "other"}, &testutil.FakeChat{}, time.Hour)
	job := &core.GenerationJob{ID: "job-1", ProviderName: "fake", SubmittedAt: time.Now()}

	_, err := p.pollStep(t.Context(), job, app.ChatCoords{})
	if !errors.Is(err, core.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}
