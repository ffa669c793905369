package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/app"
)

// submitGenerationRequest is the wire shape of POST /generations/submit,
// per spec.md §6.
type submitGenerationRequest struct {
	TelegramID       int64    `json:"telegram_id"`
	ModelID          string   `json:"model_id"`
	Prompt           string   `json:"prompt"`
	Size             string   `json:"size,omitempty"`
	AspectRatio      string   `json:"aspect_ratio,omitempty"`
	Resolution       string   `json:"resolution,omitempty"`
	Quality          string   `json:"quality,omitempty"`
	InputFidelity    string   `json:"input_fidelity,omitempty"`
	ReferenceURLs    []string `json:"reference_urls,omitempty"`
	ReferenceFileIDs []string `json:"reference_file_ids,omitempty"`
	ChatID           int64    `json:"chat_id,omitempty"`
	MessageID        int64    `json:"message_id,omitempty"`
	PromptMessageID  int64    `json:"prompt_message_id,omitempty"`
	Language         string   `json:"language,omitempty"`
}

func (req *submitGenerationRequest) params() map[string]string {
	p := make(map[string]string, 5)
	if req.Size != "" {
		p["size"] = req.Size
	}
	if req.AspectRatio != "" {
		p["aspect_ratio"] = req.AspectRatio
	}
	if req.Resolution != "" {
		p["resolution"] = req.Resolution
	}
	if req.Quality != "" {
		p["quality"] = req.Quality
	}
	if req.InputFidelity != "" {
		p["input_fidelity"] = req.InputFidelity
	}
	return p
}

// generationSnapshot is the public representation of a generation's
// request parameters plus its current job state.
type generationSnapshot struct {
	ID           string                `json:"id"` // job id; used in subsequent /generations/{id} calls
	RequestID    string                `json:"request_id"`
	Status       core.GenerationStatus `json:"status"`
	ModelKey     string                `json:"model_key"`
	Mode         core.GenerationMode   `json:"mode"`
	Prompt       string                `json:"prompt"`
	Params       map[string]string     `json:"params,omitempty"`
	PriceCredits int64                 `json:"price_credits"`
	ErrorMessage string                `json:"error_message,omitempty"`
	SubmittedAt  time.Time             `json:"submitted_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

func buildSnapshot(req *core.GenerationRequest, job *core.GenerationJob) generationSnapshot {
	return generationSnapshot{
		ID:           job.ID,
		RequestID:    job.RequestID,
		Status:       job.Status,
		ModelKey:     job.ModelKey,
		Mode:         req.Mode,
		Prompt:       req.Prompt,
		Params:       req.Params,
		PriceCredits: job.PriceCredits,
		ErrorMessage: job.ErrorMessage,
		SubmittedAt:  job.SubmittedAt,
		CompletedAt:  job.CompletedAt,
	}
}

func (s *server) handleSubmitGeneration(w http.ResponseWriter, r *http.Request) {
	var body submitGenerationRequest
	if !decodeRequestBody(w, r, &body) {
		return
	}

	// A nil interface must be passed explicitly when no poller is wired;
	// handing over a typed-nil *worker.GenerationPoller would make the
	// Submission Gateway's handoff != nil check true and panic on Enqueue.
	var handoff app.PollerHandoff
	if s.deps.Poller != nil {
		handoff = s.deps.Poller
	}
	outcome, err := s.deps.Submission.Submit(r.Context(), app.SubmitParams{
		TelegramID:       body.TelegramID,
		ModelKey:         body.ModelID,
		Prompt:           body.Prompt,
		Params:           body.params(),
		ReferenceURLs:    body.ReferenceURLs,
		ReferenceFileIDs: body.ReferenceFileIDs,
		Coords: app.ChatCoords{
			ChatID:          body.ChatID,
			StatusMessageID: body.MessageID,
			PromptMessageID: body.PromptMessageID,
		},
	}, handoff)
	if s.deps.Metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.deps.Metrics.GenerationsSubmittedTotal.WithLabelValues(body.ModelID, status).Inc()
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request":         buildSnapshot(outcome.Request, outcome.Job),
		"job_id":          outcome.Job.ID,
		"upstream_job_id": outcome.UpstreamJobID,
		"trial_used":      outcome.TrialUsed,
	})
}

func (s *server) handleActiveGeneration(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := parseTelegramID(w, r.URL.Query().Get("telegram_id"))
	if !ok {
		return
	}

	user, err := s.deps.Store.GetUserByTelegramID(r.Context(), telegramID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"has_active": false})
		return
	}

	job, err := s.deps.Store.GetActiveJobForUser(r.Context(), user.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"has_active": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"has_active": true,
		"request_id": job.RequestID,
		"public_id":  job.ID,
		"status":     job.Status,
	})
}

// resolveOwnedJob looks up the job named by the {id} path param and
// verifies it belongs to the telegram_id making the request. Writes the
// appropriate error response and returns ok=false on any failure.
func (s *server) resolveOwnedJob(w http.ResponseWriter, r *http.Request, telegramID int64) (*core.GenerationJob, bool) {
	jobID := chi.URLParam(r, "id")
	job, err := s.deps.Store.GetJob(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, core.ErrNotFound)
		return nil, false
	}
	user, err := s.deps.Store.GetUserByTelegramID(r.Context(), telegramID)
	if err != nil || user.ID != job.UserID {
		writeDomainError(w, core.ErrForbidden)
		return nil, false
	}
	return job, true
}

func (s *server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := parseTelegramID(w, r.URL.Query().Get("telegram_id"))
	if !ok {
		return
	}
	job, ok := s.resolveOwnedJob(w, r, telegramID)
	if !ok {
		return
	}
	req, err := s.deps.Store.GetRequest(r.Context(), job.RequestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildSnapshot(req, job))
}

func (s *server) handleRefreshGeneration(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TelegramID int64 `json:"telegram_id"`
	}
	if !decodeRequestBody(w, r, &body) {
		return
	}
	job, ok := s.resolveOwnedJob(w, r, body.TelegramID)
	if !ok {
		return
	}

	if s.deps.Poller != nil {
		var err error
		job, err = s.deps.Poller.RefreshOnce(r.Context(), job, app.ChatCoords{ChatID: job.ChatID})
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}

	req, err := s.deps.Store.GetRequest(r.Context(), job.RequestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildSnapshot(req, job))
}

func (s *server) handleGetGenerationResults(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := parseTelegramID(w, r.URL.Query().Get("telegram_id"))
	if !ok {
		return
	}
	job, ok := s.resolveOwnedJob(w, r, telegramID)
	if !ok {
		return
	}
	results, err := s.deps.Store.GetResultsByRequestID(r.Context(), job.RequestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var urls []string
	for _, res := range results {
		urls = append(urls, res.OutputURLs...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"output_urls": urls})
}

func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.deps.Store.ListModels(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func parseTelegramID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid or missing telegram_id"))
		return 0, false
	}
	return id, true
}
