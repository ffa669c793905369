package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/ratelimit"
	"github.com/bananapics/core/internal/storage"
	"github.com/bananapics/core/internal/telemetry"
)

// BroadcastService implements spec.md §4.D: create/start/cancel a mass
// message campaign and deliver it one recipient at a time.
type BroadcastService struct {
	users        storage.UserStore
	broadcasts   storage.BroadcastStore
	chat         core.Chat
	limiter      *ratelimit.Bucket
	adminChatIDs []int64
	metrics      *telemetry.Metrics // nil = no metrics
}

// NewBroadcastService returns a BroadcastService. limiter bounds the
// global outbound send rate (the chat platform's per-bot cap).
// adminChatIDs are notified with a summary when a broadcast completes.
// metrics may be nil.
func NewBroadcastService(users storage.UserStore, broadcasts storage.BroadcastStore, chat core.Chat, limiter *ratelimit.Bucket, adminChatIDs []int64, metrics *telemetry.Metrics) *BroadcastService {
	return &BroadcastService{users: users, broadcasts: broadcasts, chat: chat, limiter: limiter, adminChatIDs: adminChatIDs, metrics: metrics}
}

// Create resolves the cohort size once and inserts a draft Broadcast.
// contentType selects the delivery shape; mediaURL is required for every
// contentType other than core.ContentText. buttonText/buttonURL attach an
// optional inline link button (both empty to omit it).
func (b *BroadcastService) Create(ctx context.Context, createdBy string, contentType core.BroadcastContentType, text, mediaURL, buttonText, buttonURL string, filter core.BroadcastFilter) (*core.Broadcast, error) {
	if contentType == "" {
		contentType = core.ContentText
	}
	ids, err := b.users.ListUserIDsByFilter(ctx, filter, time.Now())
	if err != nil {
		return nil, fmt.Errorf("broadcast: resolve cohort: %w", err)
	}
	bc := &core.Broadcast{
		ID:          uuid.NewString(),
		CreatedBy:   createdBy,
		ContentType: contentType,
		MessageText: text,
		MediaURL:    mediaURL,
		ButtonText:  buttonText,
		ButtonURL:   buttonURL,
		Filter:      filter,
		Status:      core.BroadcastDraft,
		TotalUsers:  len(ids),
		CreatedAt:   time.Now(),
	}
	if err := b.broadcasts.CreateBroadcast(ctx, bc); err != nil {
		return nil, fmt.Errorf("broadcast: create: %w", err)
	}
	return bc, nil
}

// RecipientHandoff signals that a broadcast has recipients ready for
// delivery; the dispatcher pulls work via DeliverOne/NextPendingRecipient
// rather than being handed individual recipients, so one signal per
// broadcast is sufficient regardless of cohort size.
type RecipientHandoff interface {
	Enqueue(broadcastID string, recipientCount int)
}

// Start re-resolves the cohort (deliberately: the snapshot is taken at
// start, not at create), persists one pending recipient row per user, and
// signals the dispatcher that delivery work is available.
func (b *BroadcastService) Start(ctx context.Context, broadcastID string, handoff RecipientHandoff) (*core.Broadcast, error) {
	bc, err := b.broadcasts.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("%w: broadcast %s", core.ErrNotFound, broadcastID)
	}
	if bc.Status != core.BroadcastDraft {
		return nil, fmt.Errorf("%w: broadcast %s", core.ErrBroadcastNotDraft, broadcastID)
	}

	ids, err := b.users.ListUserIDsByFilter(ctx, bc.Filter, time.Now())
	if err != nil {
		return nil, fmt.Errorf("broadcast: resolve cohort: %w", err)
	}

	now := time.Now()
	bc.Status = core.BroadcastRunning
	bc.StartedAt = &now
	bc.TotalUsers = len(ids)
	if err := b.broadcasts.UpdateBroadcast(ctx, bc); err != nil {
		return nil, fmt.Errorf("broadcast: start: %w", err)
	}

	recipients := make([]*core.BroadcastRecipient, 0, len(ids))
	for _, userID := range ids {
		recipients = append(recipients, &core.BroadcastRecipient{
			ID:          uuid.NewString(),
			BroadcastID: bc.ID,
			UserID:      userID,
			Status:      core.RecipientPending,
		})
	}
	if len(recipients) > 0 {
		if err := b.broadcasts.CreateRecipients(ctx, recipients); err != nil {
			return nil, fmt.Errorf("broadcast: create recipients: %w", err)
		}
	}

	if handoff != nil && len(recipients) > 0 {
		handoff.Enqueue(bc.ID, len(recipients))
	}
	return bc, nil
}

// Cancel marks a running broadcast cancelled. In-flight deliveries
// observe this on their pre-send status re-check.
func (b *BroadcastService) Cancel(ctx context.Context, broadcastID string) error {
	bc, err := b.broadcasts.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("%w: broadcast %s", core.ErrNotFound, broadcastID)
	}
	if bc.Status != core.BroadcastRunning {
		return fmt.Errorf("%w: broadcast %s", core.ErrBroadcastNotRunning, broadcastID)
	}
	now := time.Now()
	bc.Status = core.BroadcastCancelled
	bc.CompletedAt = &now
	return b.broadcasts.UpdateBroadcast(ctx, bc)
}

// Get returns a broadcast by id, counters included.
func (b *BroadcastService) Get(ctx context.Context, broadcastID string) (*core.Broadcast, error) {
	return b.broadcasts.GetBroadcast(ctx, broadcastID)
}

// ErrNoPendingRecipients signals the dispatcher that a broadcast's
// recipient queue is currently empty; it is not a failure.
var ErrNoPendingRecipients = fmt.Errorf("%w: no pending recipients", core.ErrNotFound)

// DeliverOne claims the next pending recipient of a broadcast and sends
// it one message, respecting the global rate limiter. Checks the
// broadcast's status at the start of every call, before claiming a
// recipient, so a cancellation mid-run is observed by the next delivery
// without a separate signalling path.
func (b *BroadcastService) DeliverOne(ctx context.Context, broadcastID string) error {
	bc, err := b.broadcasts.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("%w: broadcast %s", core.ErrNotFound, broadcastID)
	}
	if bc.Status == core.BroadcastCancelled {
		return nil
	}

	recipient, err := b.broadcasts.NextPendingRecipient(ctx, broadcastID)
	if err != nil {
		return ErrNoPendingRecipients
	}

	user, err := b.users.GetUser(ctx, recipient.UserID)
	if err != nil {
		return fmt.Errorf("broadcast: resolve recipient user: %w", err)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	now := time.Now()
	sendErr := b.send(ctx, user.TelegramID, bc)

	var status core.BroadcastRecipientStatus
	var sentDelta, failedDelta, blockedDelta int
	switch {
	case sendErr == nil:
		status, sentDelta = core.RecipientSent, 1
	case isRecipientBlocked(sendErr):
		status, blockedDelta = core.RecipientBlocked, 1
	default:
		status, failedDelta = core.RecipientFailed, 1
	}

	if err := b.broadcasts.UpdateRecipientStatus(ctx, recipient.ID, status, now); err != nil {
		return fmt.Errorf("broadcast: update recipient status: %w", err)
	}
	if err := b.broadcasts.IncrementCounters(ctx, broadcastID, sentDelta, failedDelta, blockedDelta); err != nil {
		return fmt.Errorf("broadcast: increment counters: %w", err)
	}
	if b.metrics != nil {
		b.metrics.BroadcastMessagesTotal.WithLabelValues(string(status)).Inc()
	}

	bc, err = b.broadcasts.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("broadcast: re-read counters: %w", err)
	}
	if bc.Status == core.BroadcastRunning && bc.SentCount+bc.FailedCount+bc.BlockedCount >= bc.TotalUsers {
		bc.Status = core.BroadcastCompleted
		completedAt := time.Now()
		bc.CompletedAt = &completedAt
		if err := b.broadcasts.UpdateBroadcast(ctx, bc); err != nil {
			return fmt.Errorf("broadcast: complete: %w", err)
		}
		b.notifyAdminsOfCompletion(ctx, bc)
	}
	return nil
}

// send dispatches a broadcast's content to a single chat id by its
// content type.
func (b *BroadcastService) send(ctx context.Context, chatID int64, bc *core.Broadcast) error {
	switch bc.ContentType {
	case core.ContentPhoto:
		return b.chat.SendPhoto(ctx, chatID, bc.MediaURL, bc.MessageText, bc.ButtonText, bc.ButtonURL)
	case core.ContentVideo:
		return b.chat.SendVideo(ctx, chatID, bc.MediaURL, bc.MessageText, bc.ButtonText, bc.ButtonURL)
	case core.ContentDocument:
		return b.chat.SendDocument(ctx, chatID, bc.MediaURL, bc.MessageText, bc.ButtonText, bc.ButtonURL)
	case core.ContentAnimation:
		return b.chat.SendAnimation(ctx, chatID, bc.MediaURL, bc.MessageText, bc.ButtonText, bc.ButtonURL)
	default:
		return b.chat.SendMessage(ctx, chatID, bc.MessageText, bc.ButtonText, bc.ButtonURL)
	}
}

// notifyAdminsOfCompletion sends every configured admin chat a one-line
// summary once a broadcast reaches its terminal completed state.
func (b *BroadcastService) notifyAdminsOfCompletion(ctx context.Context, bc *core.Broadcast) {
	if b.chat == nil || len(b.adminChatIDs) == 0 {
		return
	}
	summary := fmt.Sprintf("Broadcast %s complete: sent=%d failed=%d blocked=%d of %d",
		bc.ID, bc.SentCount, bc.FailedCount, bc.BlockedCount, bc.TotalUsers)
	for _, chatID := range b.adminChatIDs {
		_ = b.chat.SendMessage(ctx, chatID, summary, "", "")
	}
}

func isRecipientBlocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blocked") || strings.Contains(msg, "deactivated")
}
