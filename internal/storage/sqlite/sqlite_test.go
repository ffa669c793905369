package sqlite

import (
	"context"
	"testing"
	"time"

	core "github.com/bananapics/core/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	u := &core.User{
		ID: "u-1", TelegramID: 100, Username: "alice", ReferralCode: "ABCD1234",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetUserByTelegramID(ctx, 100)
	if err != nil {
		t.Fatal("get by telegram id:", err)
	}
	if got.ID != u.ID || got.Username != "alice" {
		t.Errorf("got = %+v, want matching %+v", got, u)
	}

	got, err = s.GetUser(ctx, "u-1")
	if err != nil {
		t.Fatal("get by id:", err)
	}
	if got.ReferralCode != "ABCD1234" {
		t.Errorf("referral code = %q, want ABCD1234", got.ReferralCode)
	}

	got, err = s.GetUserByReferralCode(ctx, "ABCD1234")
	if err != nil {
		t.Fatal("get by referral code:", err)
	}
	if got.ID != "u-1" {
		t.Errorf("id = %q, want u-1", got.ID)
	}

	u.Blocked = true
	u.Username = "alice2"
	if err := s.UpdateUser(ctx, u); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetUser(ctx, "u-1")
	if !got.Blocked || got.Username != "alice2" {
		t.Errorf("after update got = %+v", got)
	}

	if err := s.TouchUserActive(ctx, "u-1", time.Now().UTC()); err != nil {
		t.Fatal("touch active:", err)
	}
	got, _ = s.GetUser(ctx, "u-1")
	if got.LastActiveAt == nil {
		t.Error("last_active_at should be set after touch")
	}

	if _, err := s.GetUser(ctx, "missing"); err != core.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListUserIDsByFilter(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateUser(ctx, &core.User{ID: "active-1", TelegramID: 1, ReferralCode: "REF-A", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(ctx, &core.User{ID: "blocked-1", TelegramID: 2, ReferralCode: "REF-B", Blocked: true, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	ids, err := s.ListUserIDsByFilter(ctx, core.FilterAll, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "active-1" {
		t.Errorf("all filter ids = %v, want only active-1 (blocked users are excluded)", ids)
	}
}

func TestModelCatalogRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	m := &core.ModelCatalog{
		Key: "seedream-v4", DisplayName: "Seedream v4", ProviderName: "wavespeed",
		SupportsT2I: true, SupportsI2I: true, SupportedParams: []string{"size"}, Enabled: true,
	}
	if err := s.UpsertModel(ctx, m); err != nil {
		t.Fatal("upsert model:", err)
	}

	got, err := s.GetModel(ctx, "seedream-v4")
	if err != nil {
		t.Fatal("get model:", err)
	}
	if got.ProviderName != "wavespeed" || !got.SupportsT2I {
		t.Errorf("got = %+v", got)
	}
	if len(got.SupportedParams) != 1 || got.SupportedParams[0] != "size" {
		t.Errorf("supported params = %v", got.SupportedParams)
	}

	models, err := s.ListModels(ctx)
	if err != nil {
		t.Fatal("list models:", err)
	}
	if len(models) != 1 {
		t.Fatalf("models = %d, want 1", len(models))
	}

	price := &core.ModelPrice{ModelKey: "seedream-v4", BasePriceUSD: "0.01"}
	if err := s.UpsertPrice(ctx, price); err != nil {
		t.Fatal("upsert price:", err)
	}
	gotPrice, err := s.GetPrice(ctx, "seedream-v4", "")
	if err != nil {
		t.Fatal("get price:", err)
	}
	if gotPrice.BasePriceUSD != "0.01" {
		t.Errorf("base price = %q, want 0.01", gotPrice.BasePriceUSD)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, &core.User{ID: "u-1", TelegramID: 1, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	if err := s.PostEntry(ctx, &core.LedgerEntry{ID: "e-1", UserID: "u-1", EntryType: core.LedgerDeposit, Amount: 100, ReferenceID: "ref-1"}); err != nil {
		t.Fatal("post entry:", err)
	}
	if err := s.PostEntry(ctx, &core.LedgerEntry{ID: "e-2", UserID: "u-1", EntryType: core.LedgerCharge, Amount: -30, ReferenceID: "ref-2"}); err != nil {
		t.Fatal("post entry:", err)
	}

	balance, err := s.Balance(ctx, "u-1")
	if err != nil {
		t.Fatal("balance:", err)
	}
	if balance != 70 {
		t.Errorf("balance = %d, want 70", balance)
	}

	entries, err := s.ListEntriesByReference(ctx, "u-1", "ref-1")
	if err != nil {
		t.Fatal("list entries:", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestTrialRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, &core.User{ID: "u-1", TelegramID: 1, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	used, err := s.HasUsedTrial(ctx, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if used {
		t.Fatal("trial should not be used yet")
	}

	if err := s.MarkTrialUsed(ctx, &core.TrialUse{UserID: "u-1", UsedAt: time.Now().UTC()}); err != nil {
		t.Fatal("mark trial used:", err)
	}
	used, err = s.HasUsedTrial(ctx, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if !used {
		t.Fatal("trial should be used now")
	}

	if err := s.MarkTrialUsed(ctx, &core.TrialUse{UserID: "u-1", UsedAt: time.Now().UTC()}); err != core.ErrConflict {
		t.Errorf("duplicate mark err = %v, want ErrConflict", err)
	}

	if err := s.ClearTrialUsed(ctx, "u-1"); err != nil {
		t.Fatal("clear trial used:", err)
	}
	used, err = s.HasUsedTrial(ctx, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if used {
		t.Fatal("trial should be cleared")
	}
}

func TestGenerationJobLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, &core.User{ID: "u-1", TelegramID: 1, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	req := &core.GenerationRequest{ID: "req-1", UserID: "u-1", ModelKey: "seedream-v4", Mode: core.ModeT2I, Prompt: "a cat", CreatedAt: time.Now().UTC()}
	if err := s.CreateRequest(ctx, req); err != nil {
		t.Fatal("create request:", err)
	}
	gotReq, err := s.GetRequest(ctx, "req-1")
	if err != nil {
		t.Fatal("get request:", err)
	}
	if gotReq.Prompt != "a cat" {
		t.Errorf("prompt = %q, want 'a cat'", gotReq.Prompt)
	}

	job := &core.GenerationJob{
		ID: "job-1", RequestID: "req-1", UserID: "u-1", ProviderName: "wavespeed",
		Status: core.StatusProcessing, PriceCredits: 10, SubmittedAt: time.Now().UTC(),
	}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatal("create job:", err)
	}

	active, err := s.GetActiveJobForUser(ctx, "u-1")
	if err != nil {
		t.Fatal("get active job:", err)
	}
	if active.ID != "job-1" {
		t.Errorf("active job id = %q, want job-1", active.ID)
	}

	count, err := s.CountActiveJobsForUser(ctx, "u-1")
	if err != nil {
		t.Fatal("count active:", err)
	}
	if count != 1 {
		t.Errorf("active count = %d, want 1", count)
	}

	job.Status = core.StatusCompleted
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatal("update job:", err)
	}

	count, err = s.CountActiveJobsForUser(ctx, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("active count after completion = %d, want 0", count)
	}

	nonTerminal, err := s.ListNonTerminalJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(nonTerminal) != 0 {
		t.Errorf("non-terminal jobs = %d, want 0", len(nonTerminal))
	}
}

func TestGenerationReferenceAndResult(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, &core.User{ID: "u-1", TelegramID: 1, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	req := &core.GenerationRequest{ID: "req-1", UserID: "u-1", ModelKey: "seedream-v4", Mode: core.ModeI2I, CreatedAt: time.Now().UTC()}
	if err := s.CreateRequest(ctx, req); err != nil {
		t.Fatal(err)
	}

	ref := &core.GenerationReference{ID: "ref-1", UserID: "u-1", FileID: "file-abc", ContentType: "image/png", CreatedAt: time.Now().UTC()}
	if err := s.CreateReference(ctx, ref); err != nil {
		t.Fatal("create reference:", err)
	}
	gotRef, err := s.GetReference(ctx, "ref-1")
	if err != nil {
		t.Fatal("get reference:", err)
	}
	if gotRef.FileID != "file-abc" {
		t.Errorf("file id = %q, want file-abc", gotRef.FileID)
	}

	res := &core.GenerationResult{ID: "res-1", GenerationID: "req-1", OutputURLs: []string{"https://example.com/out.png"}, CreatedAt: time.Now().UTC()}
	if err := s.CreateResult(ctx, res); err != nil {
		t.Fatal("create result:", err)
	}
	results, err := s.GetResultsByRequestID(ctx, "req-1")
	if err != nil {
		t.Fatal("get results:", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
}

func TestStuckJobsQuery(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, &core.User{ID: "u-1", TelegramID: 1, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"req-1", "req-2"} {
		if err := s.CreateRequest(ctx, &core.GenerationRequest{ID: id, UserID: "u-1", ModelKey: "seedream-v4", Mode: core.ModeT2I, CreatedAt: time.Now().UTC()}); err != nil {
			t.Fatal(err)
		}
	}
	stuck := &core.GenerationJob{
		ID: "stuck-1", RequestID: "req-1", UserID: "u-1", ProviderName: "wavespeed",
		Status: core.StatusProcessing, SubmittedAt: time.Now().UTC().Add(-time.Hour),
	}
	fresh := &core.GenerationJob{
		ID: "fresh-1", RequestID: "req-2", UserID: "u-1", ProviderName: "wavespeed",
		Status: core.StatusProcessing, SubmittedAt: time.Now().UTC(),
	}
	if err := s.CreateJob(ctx, stuck); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateJob(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	stuckJobs, err := s.ListStuckJobs(ctx, time.Now().UTC().Add(-30*time.Minute))
	if err != nil {
		t.Fatal("list stuck jobs:", err)
	}
	if len(stuckJobs) != 1 || stuckJobs[0].ID != "stuck-1" {
		t.Errorf("stuck jobs = %+v, want only stuck-1", stuckJobs)
	}
}

func TestBroadcastRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, &core.User{ID: "u-1", TelegramID: 1, ReferralCode: "REF-1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(ctx, &core.User{ID: "u-2", TelegramID: 2, ReferralCode: "REF-2", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	bc := &core.Broadcast{
		ID: "bc-1", CreatedBy: "admin", MessageText: "hello", Filter: core.FilterAll,
		Status: core.BroadcastDraft, TotalUsers: 2, CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateBroadcast(ctx, bc); err != nil {
		t.Fatal("create broadcast:", err)
	}

	got, err := s.GetBroadcast(ctx, "bc-1")
	if err != nil {
		t.Fatal("get broadcast:", err)
	}
	if got.TotalUsers != 2 {
		t.Errorf("total users = %d, want 2", got.TotalUsers)
	}

	bc.Status = core.BroadcastRunning
	if err := s.UpdateBroadcast(ctx, bc); err != nil {
		t.Fatal("update broadcast:", err)
	}

	list, err := s.ListBroadcasts(ctx, 10)
	if err != nil {
		t.Fatal("list broadcasts:", err)
	}
	if len(list) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(list))
	}

	recipients := []*core.BroadcastRecipient{
		{ID: "r-1", BroadcastID: "bc-1", UserID: "u-1", Status: core.RecipientPending},
		{ID: "r-2", BroadcastID: "bc-1", UserID: "u-2", Status: core.RecipientPending},
	}
	if err := s.CreateRecipients(ctx, recipients); err != nil {
		t.Fatal("create recipients:", err)
	}

	next, err := s.NextPendingRecipient(ctx, "bc-1")
	if err != nil {
		t.Fatal("next pending recipient:", err)
	}
	if next == nil {
		t.Fatal("expected a pending recipient")
	}

	if err := s.UpdateRecipientStatus(ctx, next.ID, core.RecipientSent, time.Now().UTC()); err != nil {
		t.Fatal("update recipient status:", err)
	}
	if err := s.IncrementCounters(ctx, "bc-1", 1, 0, 0); err != nil {
		t.Fatal("increment counters:", err)
	}

	got, err = s.GetBroadcast(ctx, "bc-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SentCount != 1 {
		t.Errorf("sent count = %d, want 1", got.SentCount)
	}

	second, err := s.NextPendingRecipient(ctx, "bc-1")
	if err != nil {
		t.Fatal(err)
	}
	if second == nil || second.ID == next.ID {
		t.Errorf("expected the other pending recipient, got %+v", second)
	}
}
