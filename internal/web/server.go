// Package web serves the session snapshot over HTTP, SSE and WebSocket.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/logging"
	"github.com/asheshgoplani/agent-sessions/internal/session"
)

var webLog = logging.ForComponent(logging.CompWeb)

// DefaultListenAddr is loopback only; the API exposes local paths.
const DefaultListenAddr = "127.0.0.1:8421"

// SessionSource is what the server reads sessions from. *poller.Poller
// implements it.
type SessionSource interface {
	Snapshot() *session.SessionsResponse
	Subscribe() (<-chan *session.SessionsResponse, func())
	Refresh(ctx context.Context) (*session.SessionsResponse, error)
}

type emptySource struct{}

func (emptySource) Snapshot() *session.SessionsResponse { return session.Empty() }

func (emptySource) Subscribe() (<-chan *session.SessionsResponse, func()) {
	return make(chan *session.SessionsResponse), func() {}
}

func (emptySource) Refresh(context.Context) (*session.SessionsResponse, error) {
	return session.Empty(), nil
}

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	Token      string
	Sessions   SessionSource
}

// Server wraps an HTTP server for the session API.
type Server struct {
	cfg        Config
	httpServer *http.Server
	sessions   SessionSource
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewServer creates a new web server with its routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Sessions == nil {
		cfg.Sessions = emptySource{}
	}

	s := &Server{
		cfg:      cfg,
		sessions: cfg.Sessions,
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/sessions", s.requireToken(s.handleSessions))
	mux.HandleFunc("/api/sessions/", s.requireToken(s.handleSessionByID))
	mux.HandleFunc("/api/refresh", s.requireToken(s.handleRefresh))
	mux.HandleFunc("/events/sessions", s.requireToken(s.handleSessionEvents))
	mux.HandleFunc("/ws/sessions", s.requireToken(s.handleSessionsWS))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          logging.StdLogger(logging.CompWeb, slog.LevelWarn),
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("web_listening", slog.String("addr", s.cfg.ListenAddr), slog.Bool("auth", s.cfg.Token != ""))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived handlers (SSE/WS) to stop promptly.
		s.cancelBase()
	}

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Long-lived connections may still block graceful shutdown. Force close
	// as a fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}

	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, auth=%t)", s.cfg.ListenAddr, s.cfg.Token != "")
}
