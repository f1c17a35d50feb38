package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/agent-sessions/internal/session"
)

type wsClientMessage struct {
	Type string `json:"type"`
}

type wsServerMessage struct {
	Type     string                    `json:"type"` // sessions, status, error
	Event    string                    `json:"event,omitempty"`
	Code     string                    `json:"code,omitempty"`
	Message  string                    `json:"message,omitempty"`
	Sessions *session.SessionsResponse `json:"sessions,omitempty"`
	Time     time.Time                 `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes; gorilla connections allow one writer.
type wsConnWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (s *Server) handleSessionsWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writer := newWSConnWriter(conn)

	var (
		fpMu            sync.Mutex
		lastFingerprint string
	)
	push := func(resp *session.SessionsResponse, force bool) error {
		fp := responseFingerprint(resp)
		fpMu.Lock()
		if !force && fp == lastFingerprint {
			fpMu.Unlock()
			return nil
		}
		lastFingerprint = fp
		fpMu.Unlock()
		return writer.WriteJSON(wsServerMessage{Type: "sessions", Sessions: resp, Time: time.Now().UTC()})
	}

	if err := push(s.sessions.Snapshot(), true); err != nil {
		return
	}

	updates, unsubscribe := s.sessions.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case resp, ok := <-updates:
				if !ok {
					return
				}
				if err := push(resp, false); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "INVALID_MESSAGE",
				Message: "invalid json payload",
				Time:    time.Now().UTC(),
			})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{
				Type:  "status",
				Event: "pong",
				Time:  time.Now().UTC(),
			})
		case "refresh":
			resp, err := s.sessions.Refresh(ctx)
			if err != nil {
				_, code, message := refreshError(err)
				_ = writer.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    code,
					Message: message,
					Time:    time.Now().UTC(),
				})
				continue
			}
			_ = push(resp, true)
		default:
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "UNSUPPORTED_MESSAGE",
				Message: "supported message types: ping,refresh",
				Time:    time.Now().UTC(),
			})
		}
	}
}
