package app

import (
	"errors"
	"testing"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/ratelimit"
	"github.com/bananapics/core/internal/testutil"
)

func newTestBroadcastService(store *testutil.FakeStore, chat core.Chat) *BroadcastService {
	return NewBroadcastService(store, store, chat, ratelimit.NewBucket(1000), nil, nil)
}

func newTestBroadcastServiceWithAdmins(store *testutil.FakeStore, chat core.Chat, adminChatIDs []int64) *BroadcastService {
	return NewBroadcastService(store, store, chat, ratelimit.NewBucket(1000), adminChatIDs, nil)
}

func seedUser(t *testing.T, store *testutil.FakeStore, telegramID int64) *core.User {
	t.Helper()
	u := &core.User{ID: "u-" + string(rune('a'+telegramID)), TelegramID: telegramID}
	if err := store.CreateUser(t.Context(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestBroadcastService_CreateCountsCohort(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedUser(t, store, 1)
	seedUser(t, store, 2)
	b := newTestBroadcastService(store, &testutil.FakeChat{})

	bc, err := b.Create(t.Context(), "admin", core.ContentText, "hello", "", "", "", core.FilterAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if bc.TotalUsers != 2 {
		t.Errorf("TotalUsers = %d, want 2", bc.TotalUsers)
	}
	if bc.Status != core.BroadcastDraft {
		t.Errorf("Status = %q, want draft", bc.Status)
	}
}

func TestBroadcastService_StartCreatesRecipientsAndSignalsHandoff(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedUser(t, store, 1)
	seedUser(t, store, 2)
	b := newTestBroadcastService(store, &testutil.FakeChat{})

	bc, err := b.Create(t.Context(), "admin", core.ContentText, "hello", "", "", "", core.FilterAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var signalled string
	var count int
	handoff := recipientHandoffFunc(func(broadcastID string, recipientCount int) {
		signalled = broadcastID
		count = recipientCount
	})

	started, err := b.Start(t.Context(), bc.ID, handoff)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != core.BroadcastRunning {
		t.Errorf("Status = %q, want running", started.Status)
	}
	if signalled != bc.ID || count != 2 {
		t.Errorf("handoff called with (%q, %d), want (%q, 2)", signalled, count, bc.ID)
	}
}

func TestBroadcastService_StartRejectsNonDraft(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	b := newTestBroadcastService(store, &testutil.FakeChat{})

	bc, err := b.Create(t.Context(), "admin", core.ContentText, "hello", "", "", "", core.FilterAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Start(t.Context(), bc.ID, nil); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := b.Start(t.Context(), bc.ID, nil); !errors.Is(err, core.ErrBroadcastNotDraft) {
		t.Fatalf("second Start err = %v, want ErrBroadcastNotDraft", err)
	}
}

func TestBroadcastService_DeliverOneSendsAndCompletes(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedUser(t, store, 1)
	chat := &testutil.FakeChat{}
	b := newTestBroadcastService(store, chat)

	bc, err := b.Create(t.Context(), "admin", core.ContentText, "hello there", "", "", "", core.FilterAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Start(t.Context(), bc.ID, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := b.DeliverOne(t.Context(), bc.ID); err != nil {
		t.Fatalf("DeliverOne: %v", err)
	}
	if len(chat.SentMessages) != 1 || chat.SentMessages[0] != "hello there" {
		t.Fatalf("SentMessages = %v, want one message", chat.SentMessages)
	}

	done, err := b.Get(t.Context(), bc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if done.SentCount != 1 {
		t.Errorf("SentCount = %d, want 1", done.SentCount)
	}
	if done.Status != core.BroadcastCompleted {
		t.Errorf("Status = %q, want completed (single recipient fully delivered)", done.Status)
	}
}

func TestBroadcastService_DeliverOneNoRecipients(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	b := newTestBroadcastService(store, &testutil.FakeChat{})

	bc, err := b.Create(t.Context(), "admin", core.ContentText, "hello", "", "", "", core.FilterAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Start(t.Context(), bc.ID, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := b.DeliverOne(t.Context(), bc.ID); !errors.Is(err, ErrNoPendingRecipients) {
		t.Fatalf("err = %v, want ErrNoPendingRecipients", err)
	}
}

func TestBroadcastService_CancelRunning(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedUser(t, store, 1)
	b := newTestBroadcastService(store, &testutil.FakeChat{})

	bc, err := b.Create(t.Context(), "admin", core.ContentText, "hello", "", "", "", core.FilterAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Start(t.Context(), bc.ID, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Cancel(t.Context(), bc.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	cancelled, err := b.Get(t.Context(), bc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cancelled.Status != core.BroadcastCancelled {
		t.Errorf("Status = %q, want cancelled", cancelled.Status)
	}
}

func TestBroadcastService_CompletionNotifiesAdmins(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedUser(t, store, 1)
	chat := &testutil.FakeChat{}
	b := newTestBroadcastServiceWithAdmins(store, chat, []int64{999})

	bc, err := b.Create(t.Context(), "admin", core.ContentText, "hello there", "", "", "", core.FilterAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Start(t.Context(), bc.ID, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.DeliverOne(t.Context(), bc.ID); err != nil {
		t.Fatalf("DeliverOne: %v", err)
	}

	if len(chat.SentMessages) != 2 {
		t.Fatalf("SentMessages = %v, want recipient message + admin summary", chat.SentMessages)
	}
	if chat.SentMessages[1] == "" {
		t.Error("expected a non-empty admin completion summary")
	}
}

func TestBroadcastService_DispatchesByContentType(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedUser(t, store, 1)
	chat := &testutil.FakeChat{}
	b := newTestBroadcastService(store, chat)

	bc, err := b.Create(t.Context(), "admin", core.ContentPhoto, "caption", "https://example.com/a.png", "Learn more", "https://example.com", core.FilterAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Start(t.Context(), bc.ID, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.DeliverOne(t.Context(), bc.ID); err != nil {
		t.Fatalf("DeliverOne: %v", err)
	}

	if len(chat.SentPhotos) != 1 || chat.SentPhotos[0] != "https://example.com/a.png" {
		t.Fatalf("SentPhotos = %v, want one photo url", chat.SentPhotos)
	}
	if len(chat.SentButtons) != 1 || chat.SentButtons[0] != "Learn more|https://example.com" {
		t.Errorf("SentButtons = %v, want one button", chat.SentButtons)
	}
}

// recipientHandoffFunc adapts a plain function to RecipientHandoff.
type recipientHandoffFunc func(broadcastID string, recipientCount int)

func (f recipientHandoffFunc) Enqueue(broadcastID string, recipientCount int) {
	f(broadcastID, recipientCount)
}
