package worker

import (
	"context"
	"testing"
	"time"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/app"
	"github.com/bananapics/core/internal/ratelimit"
	"github.com/bananapics/core/internal/testutil"
)

func TestBroadcastDispatcher_DrainsUntilEmpty(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	for i := int64(1); i <= 3; i++ {
		if err := store.CreateUser(t.Context(), &core.User{ID: string(rune('a' + i)), TelegramID: i}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	chat := &testutil.FakeChat{}
	svc := app.NewBroadcastService(store, store, chat, ratelimit.NewBucket(1000), nil, nil)

	bc, err := svc.Create(t.Context(), "admin", core.ContentText, "hi", "", "", "", core.FilterAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Start(t.Context(), bc.ID, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	d := NewBroadcastDispatcher(svc)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	d.Enqueue(bc.ID, 3)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := svc.Get(t.Context(), bc.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == core.BroadcastCompleted {
			if len(chat.SentMessages) != 3 {
				t.Fatalf("SentMessages = %d, want 3", len(chat.SentMessages))
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("broadcast did not complete in time")
}
