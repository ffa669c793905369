package worker

import (
	"context"
	"errors"
	"log/slog"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/app"
)

const broadcastTaskChanSize = 256

// broadcastTask signals that a broadcast has recipientCount pending
// deliveries ready to claim.
type broadcastTask struct {
	broadcastID    string
	recipientCount int
}

// BroadcastDispatcher drains a broadcast's pending-recipient queue by
// repeatedly calling DeliverOne, which itself claims one recipient at a
// time and is rate-limited internally. Implements app.RecipientHandoff.
type BroadcastDispatcher struct {
	broadcasts *app.BroadcastService
	ch         chan broadcastTask
}

// NewBroadcastDispatcher returns a BroadcastDispatcher.
func NewBroadcastDispatcher(broadcasts *app.BroadcastService) *BroadcastDispatcher {
	return &BroadcastDispatcher{
		broadcasts: broadcasts,
		ch:         make(chan broadcastTask, broadcastTaskChanSize),
	}
}

// Name returns the worker identifier.
func (d *BroadcastDispatcher) Name() string { return "broadcast_dispatcher" }

// Enqueue implements app.RecipientHandoff.
func (d *BroadcastDispatcher) Enqueue(broadcastID string, recipientCount int) {
	select {
	case d.ch <- broadcastTask{broadcastID: broadcastID, recipientCount: recipientCount}:
	default:
		slog.Warn("broadcast dispatcher queue full, dropping start signal", "broadcast_id", broadcastID)
	}
}

// Run consumes start signals and drains each broadcast's recipient queue
// in its own goroutine, until ctx is cancelled.
func (d *BroadcastDispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-d.ch:
			go d.drain(ctx, task.broadcastID)
		}
	}
}

// drain repeatedly claims and delivers one recipient at a time until the
// pending queue is empty or the broadcast reaches a terminal state.
func (d *BroadcastDispatcher) drain(ctx context.Context, broadcastID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := d.broadcasts.DeliverOne(ctx, broadcastID)
		if err == nil {
			if bc, getErr := d.broadcasts.Get(ctx, broadcastID); getErr == nil && bc.Status != core.BroadcastRunning {
				return
			}
			continue
		}
		if errors.Is(err, app.ErrNoPendingRecipients) {
			return
		}
		slog.Error("broadcast dispatcher: deliver failed", "broadcast_id", broadcastID, "error", err)
		return
	}
}
