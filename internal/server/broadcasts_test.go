package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	core "github.com/bananapics/core/internal"
)

func doAdminJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(buf))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.Header.Set("X-Admin-Key", "test-admin-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func TestAdminRoutes_RejectMissingKey(t *testing.T) {
	t.Parallel()
	handler, _ := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/admin/broadcasts", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAdminRoutes_RejectWrongKey(t *testing.T) {
	t.Parallel()
	handler, _ := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/admin/broadcasts", nil)
	r.Header.Set("X-Admin-Key", "wrong")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandleCreateBroadcast(t *testing.T) {
	t.Parallel()
	handler, store := newTestServer(t)
	if err := store.CreateUser(t.Context(), &core.User{ID: "u-1", TelegramID: 1}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	w := doAdminJSON(t, handler, http.MethodPost, "/admin/broadcasts", createBroadcastRequest{
		MessageText: "hello everyone", Filter: core.FilterAll,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	var bc core.Broadcast
	if err := json.Unmarshal(w.Body.Bytes(), &bc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if bc.TotalUsers != 1 {
		t.Errorf("TotalUsers = %d, want 1", bc.TotalUsers)
	}
	if bc.Status != core.BroadcastDraft {
		t.Errorf("Status = %q, want draft", bc.Status)
	}
}

func TestHandleStartAndCancelBroadcast(t *testing.T) {
	t.Parallel()
	handler, store := newTestServer(t)
	if err := store.CreateUser(t.Context(), &core.User{ID: "u-1", TelegramID: 1}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	created := doAdminJSON(t, handler, http.MethodPost, "/admin/broadcasts", createBroadcastRequest{
		MessageText: "hi", Filter: core.FilterAll,
	})
	var bc core.Broadcast
	if err := json.Unmarshal(created.Body.Bytes(), &bc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	started := doAdminJSON(t, handler, http.MethodPost, "/admin/broadcasts/"+bc.ID+"/start", nil)
	if started.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200, body = %s", started.Code, started.Body.String())
	}

	cancelled := doAdminJSON(t, handler, http.MethodPost, "/admin/broadcasts/"+bc.ID+"/cancel", nil)
	if cancelled.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200, body = %s", cancelled.Code, cancelled.Body.String())
	}

	fetched := doAdminJSON(t, handler, http.MethodGet, "/admin/broadcasts/"+bc.ID, nil)
	var got core.Broadcast
	if err := json.Unmarshal(fetched.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != core.BroadcastCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}
}

func TestHandleStartBroadcast_NotDraftTwiceReturns409(t *testing.T) {
	t.Parallel()
	handler, store := newTestServer(t)
	if err := store.CreateUser(t.Context(), &core.User{ID: "u-1", TelegramID: 1}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	created := doAdminJSON(t, handler, http.MethodPost, "/admin/broadcasts", createBroadcastRequest{
		MessageText: "hi", Filter: core.FilterAll,
	})
	var bc core.Broadcast
	if err := json.Unmarshal(created.Body.Bytes(), &bc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w := doAdminJSON(t, handler, http.MethodPost, "/admin/broadcasts/"+bc.ID+"/start", nil); w.Code != http.StatusOK {
		t.Fatalf("first start status = %d, want 200", w.Code)
	}

	second := doAdminJSON(t, handler, http.MethodPost, "/admin/broadcasts/"+bc.ID+"/start", nil)
	if second.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409, body = %s", second.Code, second.Body.String())
	}
}

func TestHandleListBroadcasts(t *testing.T) {
	t.Parallel()
	handler, _ := newTestServer(t)
	if w := doAdminJSON(t, handler, http.MethodPost, "/admin/broadcasts", createBroadcastRequest{MessageText: "a", Filter: core.FilterAll}); w.Code != http.StatusOK {
		t.Fatalf("create status = %d, want 200", w.Code)
	}

	w := doAdminJSON(t, handler, http.MethodGet, "/admin/broadcasts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	list, ok := resp["broadcasts"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("broadcasts = %v, want one entry", resp["broadcasts"])
	}
}
