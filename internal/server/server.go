// Package server exposes the drain status over HTTP and accepts requests
// for an early cycle.
package server

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/schaermu/dropsyncd/internal/activation"
	"github.com/schaermu/dropsyncd/internal/config"
	"github.com/schaermu/dropsyncd/internal/status"
)

const defaultTriggerDebounce = 2 * time.Second

// StatusSource provides the data rendered by GET /status
type StatusSource interface {
	View() status.View
}

// StatusResponse is the GET /status payload
type StatusResponse struct {
	Source      string              `json:"source"`
	Destination string              `json:"destination"`
	Status      string              `json:"status"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Errors      []status.ErrorEvent `json:"errors"`
}

// Server implements the status HTTP server
type Server struct {
	cfg      *config.Config
	board    StatusSource
	trigger  func()
	logger   *slog.Logger
	token    []byte
	debounce *debouncer
}

// debouncer collapses bursts of trigger requests into one call
type debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration
}

// NewServer creates a status server. trigger is called (debounced) for
// every authorized POST /trigger.
func NewServer(cfg *config.Config, board StatusSource, trigger func(), logger *slog.Logger) (*Server, error) {
	token, err := os.ReadFile(cfg.Serve.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read trigger token: %w", err)
	}

	token = []byte(strings.TrimSpace(string(token)))
	if len(token) == 0 {
		return nil, fmt.Errorf("trigger token file %s is empty", cfg.Serve.TokenFile)
	}

	return &Server{
		cfg:      cfg,
		board:    board,
		trigger:  trigger,
		logger:   logger,
		token:    token,
		debounce: &debouncer{delay: defaultTriggerDebounce},
	}, nil
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/trigger", s.handleTrigger)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, "ok\n")
	})
	return mux
}

// Start listens on a socket-activated listener when one was passed in,
// otherwise on the configured address, and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, activated, err := activation.Listen("tcp", s.cfg.Serve.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info("status server starting", "addr", ln.Addr().String(), "socket_activated", activated)
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down status server")
		s.debounce.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	view := s.board.View()
	resp := StatusResponse{
		Source:      s.cfg.Source,
		Destination: s.cfg.Destination,
		Status:      view.Status,
		UpdatedAt:   view.UpdatedAt,
		Errors:      view.Errors,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode status", "error", err)
	}
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST trigger", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.authorized(r.Header.Get("Authorization")) {
		s.logger.Warn("rejecting trigger with invalid token", "remote", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	s.logger.Info("cycle requested", "remote", r.RemoteAddr)
	s.debounce.trigger(s.trigger)

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "Cycle triggered\n")
}

// authorized checks a "Bearer <token>" header in constant time
func (s *Server) authorized(header string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	return hmac.Equal([]byte(strings.TrimSpace(token)), s.token)
}

// trigger schedules callback after the debounce delay, replacing any
// pending call
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, callback)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
