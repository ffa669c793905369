package server

import (
	"net/http"

	"github.com/google/uuid"

	core "github.com/bananapics/core/internal"
)

type adjustCreditsRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason,omitempty"`
}

func (s *server) handleAdjustCredits(w http.ResponseWriter, r *http.Request) {
	var body adjustCreditsRequest
	if !decodeRequestBody(w, r, &body) {
		return
	}

	user, err := s.deps.Store.GetUserByTelegramID(r.Context(), body.TelegramID)
	if err != nil {
		writeDomainError(w, core.ErrNotFound)
		return
	}

	oldBalance, err := s.deps.Ledger.Balance(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	referenceID := "admin_adjust_" + uuid.NewString()
	if err := s.deps.Ledger.AdminAdjust(r.Context(), user.ID, body.Amount, referenceID); err != nil {
		writeDomainError(w, err)
		return
	}

	newBalance, err := s.deps.Ledger.Balance(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"telegram_id": body.TelegramID,
		"amount":      body.Amount,
		"old_balance": oldBalance,
		"new_balance": newBalance,
		"reason":      body.Reason,
	})
}

type recordDepositRequest struct {
	TelegramID  int64  `json:"telegram_id"`
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"` // payment provider's transaction id; idempotency key
}

// handleRecordDeposit posts a payment deposit and, when the depositing
// user was referred, the referral bonus owed to their referrer.
func (s *server) handleRecordDeposit(w http.ResponseWriter, r *http.Request) {
	var body recordDepositRequest
	if !decodeRequestBody(w, r, &body) {
		return
	}

	user, err := s.deps.Store.GetUserByTelegramID(r.Context(), body.TelegramID)
	if err != nil {
		writeDomainError(w, core.ErrNotFound)
		return
	}

	referenceID := body.ReferenceID
	if referenceID == "" {
		referenceID = "deposit_" + uuid.NewString()
	}
	if err := s.deps.Ledger.RecordDeposit(r.Context(), user.ID, body.Amount, referenceID); err != nil {
		writeDomainError(w, err)
		return
	}

	newBalance, err := s.deps.Ledger.Balance(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"telegram_id": body.TelegramID,
		"amount":      body.Amount,
		"new_balance": newBalance,
	})
}
