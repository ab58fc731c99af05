package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/research"
	"github.com/sells-group/venue-fusion/internal/review"
	"github.com/sells-group/venue-fusion/internal/store"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Data  any    `json:"data"`
	Error *Error `json:"error"`
}

// Error describes a failed request. Code is a refusal reason where one
// applies.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Data: data})
}

func fail(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Response{Error: &Error{Code: code, Message: message}})
}

func badRequest(w http.ResponseWriter, message string) {
	fail(w, http.StatusBadRequest, "bad_request", message)
}

// refusalStatus maps a refusal reason to its HTTP status.
var refusalStatus = map[string]int{
	"cooldown_active":   http.StatusConflict,
	"job_active":        http.StatusConflict,
	"cost_capped":       http.StatusTooManyRequests,
	"circuit_open":      http.StatusServiceUnavailable,
	"unknown_city":      http.StatusUnprocessableEntity,
	"no_source_data":    http.StatusUnprocessableEntity,
	"corpus_not_scored": http.StatusUnprocessableEntity,
	"unpriced_model":    http.StatusUnprocessableEntity,
}

// writeError picks the status for err and writes it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if reason := research.RefusalReason(err); reason != "" {
		fail(w, refusalStatus[reason], reason, err.Error())
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, research.ErrJobTerminal):
		fail(w, http.StatusConflict, "job_terminal", err.Error())
	case errors.Is(err, review.ErrNotPending):
		fail(w, http.StatusConflict, "not_pending", err.Error())
	case errors.Is(err, review.ErrSuperseded):
		fail(w, http.StatusConflict, "superseded", err.Error())
	case errors.Is(err, store.ErrStaleStatus):
		fail(w, http.StatusConflict, "stale_status", err.Error())
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		fail(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
