package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/storage"
	"github.com/bananapics/core/internal/telemetry"
)

// LedgerService posts balance-affecting events and answers balance
// queries. Every posting is idempotent on (userID, entryType, referenceID):
// replaying the same charge/refund/grant is always safe.
type LedgerService struct {
	store         storage.LedgerStore
	users         storage.UserStore
	referralPct   int64
	metrics       *telemetry.Metrics // nil = no metrics
}

// NewLedgerService returns a LedgerService. referralBonusPercent is the
// whole-number percentage of a deposit posted to the depositor's referrer,
// per RecordDeposit; <= 0 disables referral bonus posting. metrics may be
// nil.
func NewLedgerService(store storage.LedgerStore, users storage.UserStore, referralBonusPercent int64, metrics *telemetry.Metrics) *LedgerService {
	return &LedgerService{store: store, users: users, referralPct: referralBonusPercent, metrics: metrics}
}

// Balance returns a user's current credit balance, the signed sum of
// every posted ledger entry.
func (l *LedgerService) Balance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}

// Charge posts a negative entry for a generation request's cost.
// referenceID is the generation request id; replaying the same charge
// for an already-charged request is a no-op.
func (l *LedgerService) Charge(ctx context.Context, userID string, amount int64, referenceID string) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: charge amount must be positive, got %d", amount)
	}
	return l.post(ctx, userID, core.LedgerCharge, -amount, referenceID)
}

// Refund reverses a prior charge in full. Callers key it by
// "refund_"+request id, so a refund can never double-post against one
// generation.
func (l *LedgerService) Refund(ctx context.Context, userID string, amount int64, referenceID string) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: refund amount must be positive, got %d", amount)
	}
	return l.post(ctx, userID, core.LedgerRefund, amount, referenceID)
}

// ReferralBonus posts a credit bonus to a referrer once their referral
// completes its qualifying action.
func (l *LedgerService) ReferralBonus(ctx context.Context, userID string, amount int64, referenceID string) error {
	return l.post(ctx, userID, core.LedgerReferralBonus, amount, referenceID)
}

// Deposit posts an externally-funded credit addition (e.g. a payment).
func (l *LedgerService) Deposit(ctx context.Context, userID string, amount int64, referenceID string) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: deposit amount must be positive, got %d", amount)
	}
	return l.post(ctx, userID, core.LedgerDeposit, amount, referenceID)
}

// RecordDeposit posts a deposit for userID and, when userID was referred
// by another user, the idempotent referral bonus: floor(amount * pct /
// 100) credited to the referrer, keyed by the depositing user's Telegram
// id so a replayed payment webhook never double-posts the bonus.
func (l *LedgerService) RecordDeposit(ctx context.Context, userID string, amount int64, referenceID string) error {
	if err := l.Deposit(ctx, userID, amount, referenceID); err != nil {
		return err
	}
	if l.users == nil || l.referralPct <= 0 {
		return nil
	}

	user, err := l.users.GetUser(ctx, userID)
	if err != nil || user.ReferredBy == "" {
		return nil
	}
	referrer, err := l.users.GetUser(ctx, user.ReferredBy)
	if err != nil {
		return nil
	}

	bonus := amount * l.referralPct / 100
	if bonus <= 0 {
		return nil
	}
	return l.ReferralBonus(ctx, referrer.ID, bonus, strconv.FormatInt(user.TelegramID, 10))
}

// AdminAdjust posts a manual balance correction made by an operator.
func (l *LedgerService) AdminAdjust(ctx context.Context, userID string, amount int64, referenceID string) error {
	return l.post(ctx, userID, core.LedgerAdminAdjust, amount, referenceID)
}

func (l *LedgerService) post(ctx context.Context, userID string, entryType core.LedgerEntryType, amount int64, referenceID string) error {
	entry := &core.LedgerEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		EntryType:   entryType,
		Amount:      amount,
		ReferenceID: referenceID,
		CreatedAt:   time.Now(),
	}
	if err := l.store.PostEntry(ctx, entry); err != nil {
		return err
	}
	if l.metrics != nil {
		l.metrics.LedgerEntriesTotal.WithLabelValues(string(entryType)).Inc()
	}
	return nil
}
