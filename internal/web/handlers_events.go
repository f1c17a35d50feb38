package web

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/session"
)

var (
	sessionEventsPollInterval      = 2 * time.Second
	sessionEventsHeartbeatInterval = 15 * time.Second
)

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snapshot := s.sessions.Snapshot()
	lastFingerprint := responseFingerprint(snapshot)
	if err := writeSSEEvent(w, flusher, "sessions", snapshot); err != nil {
		return
	}

	updates, unsubscribe := s.sessions.Subscribe()
	defer unsubscribe()

	pollTicker := time.NewTicker(sessionEventsPollInterval)
	defer pollTicker.Stop()

	heartbeatTicker := time.NewTicker(sessionEventsHeartbeatInterval)
	defer heartbeatTicker.Stop()

	ctx := r.Context()
	emitIfChanged := func(next *session.SessionsResponse) error {
		nextFingerprint := responseFingerprint(next)
		if nextFingerprint == lastFingerprint {
			return nil
		}
		if err := writeSSEEvent(w, flusher, "sessions", next); err != nil {
			return err
		}
		lastFingerprint = nextFingerprint
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			if err := writeSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		case next, ok := <-updates:
			if !ok {
				return
			}
			if err := emitIfChanged(next); err != nil {
				return
			}
		case <-pollTicker.C:
			if err := emitIfChanged(s.sessions.Snapshot()); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// responseFingerprint ignores the cycle counter and generation time, so an
// unchanged session list is not re-sent.
func responseFingerprint(resp *session.SessionsResponse) string {
	if resp == nil {
		return "nil"
	}
	fingerprintPayload := struct {
		Sessions     []session.Session `json:"sessions"`
		TotalCount   int               `json:"totalCount"`
		WaitingCount int               `json:"waitingCount"`
		Stale        bool              `json:"stale"`
	}{
		Sessions:     resp.Sessions,
		TotalCount:   resp.TotalCount,
		WaitingCount: resp.WaitingCount,
		Stale:        resp.Stale,
	}

	raw, err := json.Marshal(fingerprintPayload)
	if err != nil {
		return "marshal-error"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
