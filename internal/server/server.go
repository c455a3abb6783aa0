// Package server exposes the latest SessionsResponse over HTTP and pushes
// changes to WebSocket clients. The server owns the poll cadence; the
// monitor it drives stays synchronous.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Eric-Song-Nop/agentwatch/internal/logging"
	"github.com/Eric-Song-Nop/agentwatch/internal/model"
	"github.com/Eric-Song-Nop/agentwatch/internal/vcs"
)

var serverLog = logging.ForComponent(logging.CompServer)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Local tool; browsers on any localhost port may connect.
	},
}

// Poller produces a fresh response on demand.
type Poller interface {
	Poll(ctx context.Context) model.SessionsResponse
}

// DiffStater reports a work tree's uncommitted diff size.
type DiffStater interface {
	DiffStat(ctx context.Context, dir string) (vcs.DiffStat, error)
}

// Message is the envelope pushed to WebSocket clients.
type Message struct {
	Type    string                  `json:"type"`
	Payload *model.SessionsResponse `json:"payload"`
}

// MessageSessions carries a full SessionsResponse.
const MessageSessions = "sessions"

// Server polls on an interval and fans results out to clients.
type Server struct {
	poller   Poller
	diff     DiffStater
	interval time.Duration

	pollMu sync.Mutex // serializes polls
	kick   chan struct{}

	mu         sync.RWMutex
	life       context.Context // outlives requests; set by Serve
	latest     []byte          // encoded Message of the last poll
	latestResp model.SessionsResponse

	clientsMu sync.RWMutex
	clients   map[*client]bool
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a server. diff may be nil, which disables /api/diffstat.
func New(poller Poller, diff DiffStater, interval time.Duration) *Server {
	return &Server{
		poller:   poller,
		diff:     diff,
		interval: interval,
		life:     context.Background(),
		kick:     make(chan struct{}, 1),
		clients:  make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/diffstat", s.handleDiffStat)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Refresh polls once and broadcasts the result if it differs from the
// previous one. It reports whether anything changed. A poll cut short by ctx
// is discarded.
func (s *Server) Refresh(ctx context.Context) bool {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	resp := s.poller.Poll(ctx)
	if ctx.Err() != nil {
		return false
	}
	data, err := json.Marshal(Message{Type: MessageSessions, Payload: &resp})
	if err != nil {
		serverLog.Error("encode_failed", slog.String("error", err.Error()))
		return false
	}

	s.mu.Lock()
	changed := !bytes.Equal(data, s.latest)
	s.latest = data
	s.latestResp = resp
	s.mu.Unlock()

	if changed {
		s.broadcast(data)
	}
	return changed
}

// Trigger requests an early poll from Run. Extra requests while one is
// pending are dropped.
func (s *Server) Trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run polls every interval, and on Trigger, until ctx is done.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		s.Refresh(ctx)
	}
}

// ListenAndServe serves on addr and runs the poll loop until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.life = ctx
	s.mu.Unlock()

	go s.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	serverLog.Info("listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// snapshot returns the last encoded message, polling first if there is none.
// The poll runs on the server's lifetime context, not the caller's request.
func (s *Server) snapshot() []byte {
	s.mu.RLock()
	data, life := s.latest, s.life
	s.mu.RUnlock()
	if data != nil {
		return data
	}
	s.Refresh(life)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.snapshot() == nil {
		writeError(w, http.StatusServiceUnavailable, "no data yet")
		return
	}
	s.mu.RLock()
	resp := s.latestResp
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiffStat(w http.ResponseWriter, r *http.Request) {
	if s.diff == nil {
		writeError(w, http.StatusNotFound, "diff stats disabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	st, err := s.diff.DiffStat(r.Context(), path)
	switch {
	case errors.Is(err, vcs.ErrNotRepository):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		serverLog.Debug("diffstat_failed", slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
