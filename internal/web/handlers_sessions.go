package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/poller"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	snap := s.sessions.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"cycle": snap.Cycle,
		"stale": snap.Stale,
		"time":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id is required")
		return
	}

	sess, ok := s.sessions.Snapshot().Find(sessionID)
	if !ok {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	resp, err := s.sessions.Refresh(r.Context())
	if err != nil {
		status, code, msg := refreshError(err)
		writeAPIError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// refreshError maps a Refresh failure to an HTTP status and error code.
func refreshError(err error) (int, string, string) {
	switch {
	case errors.Is(err, poller.ErrCycleInProgress):
		return http.StatusConflict, "CYCLE_IN_PROGRESS", "a poll cycle is already running"
	case errors.Is(err, poller.ErrRefreshThrottled):
		return http.StatusTooManyRequests, "THROTTLED", "refresh requested too often"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "refresh failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}
