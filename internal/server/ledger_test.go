package server

import (
	"encoding/json"
	"net/http"
	"testing"

	core "github.com/bananapics/core/internal"
)

func TestHandleAdjustCredits(t *testing.T) {
	t.Parallel()
	handler, store := newTestServer(t)
	if err := store.CreateUser(t.Context(), &core.User{ID: "u-1", TelegramID: 42}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	w := doAdminJSON(t, handler, http.MethodPost, "/admin/credits", adjustCreditsRequest{
		TelegramID: 42, Amount: 500, Reason: "support credit",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["old_balance"] != float64(0) {
		t.Errorf("old_balance = %v, want 0", resp["old_balance"])
	}
	if resp["new_balance"] != float64(500) {
		t.Errorf("new_balance = %v, want 500", resp["new_balance"])
	}

	balance, err := store.Balance(t.Context(), "u-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 500 {
		t.Errorf("store balance = %d, want 500", balance)
	}
}

func TestHandleAdjustCredits_UnknownTelegramIDReturns404(t *testing.T) {
	t.Parallel()
	handler, _ := newTestServer(t)

	w := doAdminJSON(t, handler, http.MethodPost, "/admin/credits", adjustCreditsRequest{
		TelegramID: 9999, Amount: 100,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleAdjustCredits_RejectsMissingAdminKey(t *testing.T) {
	t.Parallel()
	handler, store := newTestServer(t)
	if err := store.CreateUser(t.Context(), &core.User{ID: "u-1", TelegramID: 42}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	w := doJSON(t, handler, http.MethodPost, "/admin/credits", adjustCreditsRequest{
		TelegramID: 42, Amount: 100,
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandleRecordDeposit_PostsReferralBonus(t *testing.T) {
	t.Parallel()
	handler, store := newTestServer(t)
	referrer := &core.User{ID: "u-referrer", TelegramID: 100}
	referred := &core.User{ID: "u-referred", TelegramID: 200, ReferredBy: "u-referrer"}
	if err := store.CreateUser(t.Context(), referrer); err != nil {
		t.Fatalf("CreateUser referrer: %v", err)
	}
	if err := store.CreateUser(t.Context(), referred); err != nil {
		t.Fatalf("CreateUser referred: %v", err)
	}

	w := doAdminJSON(t, handler, http.MethodPost, "/admin/deposits", recordDepositRequest{
		TelegramID: 200, Amount: 1000, ReferenceID: "payment-xyz",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["new_balance"] != float64(1000) {
		t.Errorf("new_balance = %v, want 1000", resp["new_balance"])
	}

	referrerBalance, err := store.Balance(t.Context(), "u-referrer")
	if err != nil {
		t.Fatalf("Balance(referrer): %v", err)
	}
	if referrerBalance != 100 {
		t.Errorf("referrer balance = %d, want 100 (10%% of 1000)", referrerBalance)
	}
}

func TestHandleRecordDeposit_UnknownTelegramIDReturns404(t *testing.T) {
	t.Parallel()
	handler, _ := newTestServer(t)

	w := doAdminJSON(t, handler, http.MethodPost, "/admin/deposits", recordDepositRequest{
		TelegramID: 9999, Amount: 100,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", w.Code, w.Body.String())
	}
}
