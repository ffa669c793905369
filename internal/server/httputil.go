package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/app"
)

// bodyPool reuses buffers for request body reads, avoiding per-request
// allocations from json.NewDecoder (which cannot be pooled/reset).
var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// maxRequestBody is the maximum allowed request body size (1 MB; these
// are small JSON command payloads, never chat-completion-sized).
const maxRequestBody = 1 << 20

// decodeRequestBody reads the request body via bodyPool, unmarshals JSON
// into v, and returns false (writing a 400) on error.
func decodeRequestBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	if _, err := buf.ReadFrom(r.Body); err != nil {
		bodyPool.Put(buf)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		bodyPool.Put(buf)
		slog.LogAttrs(r.Context(), slog.LevelWarn, "request decode error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	bodyPool.Put(buf)
	return true
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	return e
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

// writeDomainError maps a core sentinel error (or the structured errors
// that wrap one) to its HTTP status and body, per spec.md §7's error
// taxonomy. Internal errors are logged server-side and returned generically
// to avoid leaking storage/provider internals to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	var limitErr *app.ActiveLimitError
	if errors.As(err, &limitErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":        "active generation limit reached",
			"active_count": limitErr.Active,
			"limit":        limitErr.Limit,
		})
		return
	}

	var balanceErr *app.BalanceLowError
	if errors.As(err, &balanceErr) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":     "provider balance too low",
			"balance":   balanceErr.Balance,
			"threshold": balanceErr.Threshold,
		})
		return
	}

	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		writeJSON(w, status, errorResponse("internal error"))
		return
	}
	writeJSON(w, status, errorResponse(err.Error()))
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrModelNotFound), errors.Is(err, core.ErrReferenceNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrBroadcastNotDraft), errors.Is(err, core.ErrBroadcastNotRunning), errors.Is(err, core.ErrTrialAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, core.ErrActiveGenerationLimit):
		return http.StatusConflict
	case errors.Is(err, core.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, core.ErrProviderBalanceLow):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrProviderSubmitFailed), errors.Is(err, core.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrParameterNotSupported), errors.Is(err, core.ErrParameterInvalid), errors.Is(err, core.ErrReferenceRequired), errors.Is(err, core.ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
