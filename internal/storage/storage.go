// Package storage defines persistence interfaces for the generation core.
package storage

import (
	"context"
	"time"

	core "github.com/bananapics/core/internal"
)

// UserStore manages user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, u *core.User) error
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*core.User, error)
	GetUser(ctx context.Context, id string) (*core.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*core.User, error)
	UpdateUser(ctx context.Context, u *core.User) error
	TouchUserActive(ctx context.Context, id string, at time.Time) error
	ListUserIDsByFilter(ctx context.Context, filter core.BroadcastFilter, now time.Time) ([]string, error)
}

// LedgerStore manages the append-only ledger.
type LedgerStore interface {
	// PostEntry inserts a ledger entry. When the (user_id, entry_type,
	// reference_id) tuple already exists, PostEntry is a no-op and returns
	// nil (idempotent posting per core invariant I-2).
	PostEntry(ctx context.Context, e *core.LedgerEntry) error
	Balance(ctx context.Context, userID string) (int64, error)
	ListEntriesByReference(ctx context.Context, userID string, refID string) ([]*core.LedgerEntry, error)
}

// CatalogStore manages model catalog and pricing persistence.
type CatalogStore interface {
	UpsertModel(ctx context.Context, m *core.ModelCatalog) error
	GetModel(ctx context.Context, key string) (*core.ModelCatalog, error)
	ListModels(ctx context.Context) ([]*core.ModelCatalog, error)
	UpsertPrice(ctx context.Context, p *core.ModelPrice) error
	GetPrice(ctx context.Context, modelKey, variantKey string) (*core.ModelPrice, error)
}

// GenerationStore manages generation requests, references, results and jobs.
type GenerationStore interface {
	CreateRequest(ctx context.Context, r *core.GenerationRequest) error
	GetRequest(ctx context.Context, id string) (*core.GenerationRequest, error)
	UpdateRequest(ctx context.Context, r *core.GenerationRequest) error
	CreateReference(ctx context.Context, ref *core.GenerationReference) error
	GetReference(ctx context.Context, id string) (*core.GenerationReference, error)
	CreateResult(ctx context.Context, res *core.GenerationResult) error
	GetResultsByRequestID(ctx context.Context, requestID string) ([]*core.GenerationResult, error)

	CreateJob(ctx context.Context, j *core.GenerationJob) error
	GetJob(ctx context.Context, id string) (*core.GenerationJob, error)
	UpdateJob(ctx context.Context, j *core.GenerationJob) error
	CountActiveJobsForUser(ctx context.Context, userID string) (int, error)
	GetActiveJobForUser(ctx context.Context, userID string) (*core.GenerationJob, error)
	ListNonTerminalJobs(ctx context.Context) ([]*core.GenerationJob, error)
	ListStuckJobs(ctx context.Context, olderThan time.Time) ([]*core.GenerationJob, error)
}

// TrialStore manages the one-time free trial grant.
type TrialStore interface {
	// MarkTrialUsed inserts a TrialUse row. Returns core.ErrConflict if the
	// user has already used their trial (UNIQUE on user_id).
	MarkTrialUsed(ctx context.Context, t *core.TrialUse) error
	HasUsedTrial(ctx context.Context, userID string) (bool, error)
	ClearTrialUsed(ctx context.Context, userID string) error // rollback on failed generation
}

// BroadcastStore manages broadcast campaigns and per-recipient delivery state.
type BroadcastStore interface {
	CreateBroadcast(ctx context.Context, b *core.Broadcast) error
	GetBroadcast(ctx context.Context, id string) (*core.Broadcast, error)
	UpdateBroadcast(ctx context.Context, b *core.Broadcast) error
	ListBroadcasts(ctx context.Context, limit int) ([]*core.Broadcast, error)

	CreateRecipients(ctx context.Context, recipients []*core.BroadcastRecipient) error
	NextPendingRecipient(ctx context.Context, broadcastID string) (*core.BroadcastRecipient, error)
	UpdateRecipientStatus(ctx context.Context, id string, status core.BroadcastRecipientStatus, at time.Time) error
	// IncrementCounters atomically bumps sent/failed/blocked counts on the
	// parent broadcast with a single statement, per the atomicity
	// requirement on broadcast progress tracking.
	IncrementCounters(ctx context.Context, broadcastID string, sentDelta, failedDelta, blockedDelta int) error
}

// Store combines all storage interfaces.
type Store interface {
	UserStore
	LedgerStore
	CatalogStore
	GenerationStore
	TrialStore
	BroadcastStore
	Close() error
}
