package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/app"
)

type createBroadcastRequest struct {
	ContentType core.BroadcastContentType `json:"content_type"`
	MessageText string                    `json:"message_text"`
	MediaURL    string                    `json:"media_url,omitempty"`
	ButtonText  string                    `json:"button_text,omitempty"`
	ButtonURL   string                    `json:"button_url,omitempty"`
	Filter      core.BroadcastFilter      `json:"filter"`
}

func (s *server) handleCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var body createBroadcastRequest
	if !decodeRequestBody(w, r, &body) {
		return
	}
	identity := core.IdentityFromContext(r.Context())
	createdBy := ""
	if identity != nil {
		createdBy = identity.Subject
	}

	bc, err := s.deps.Broadcasts.Create(r.Context(), createdBy, body.ContentType, body.MessageText, body.MediaURL, body.ButtonText, body.ButtonURL, body.Filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bc)
}

func (s *server) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	broadcasts, err := s.deps.Store.ListBroadcasts(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"broadcasts": broadcasts})
}

func (s *server) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	bc, err := s.deps.Broadcasts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bc)
}

func (s *server) handleStartBroadcast(w http.ResponseWriter, r *http.Request) {
	// Pass a nil interface (not a typed-nil *worker.BroadcastDispatcher)
	// when no dispatcher is wired, so BroadcastService.Start's handoff !=
	// nil check behaves correctly.
	var handoff app.RecipientHandoff
	if s.deps.BroadcastDispatcher != nil {
		handoff = s.deps.BroadcastDispatcher
	}
	bc, err := s.deps.Broadcasts.Start(r.Context(), chi.URLParam(r, "id"), handoff)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bc)
}

func (s *server) handleCancelBroadcast(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Broadcasts.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}
