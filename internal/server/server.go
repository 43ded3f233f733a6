// Package server wires the HTTP surface: websocket routes, health, metrics
// and notification history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"evolve/internal/domain"
)

// RouteProvider registers its own handlers on a mux.
type RouteProvider interface {
	Routes(mux *http.ServeMux)
}

// HistoryStore reads back notification records.
type HistoryStore interface {
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]domain.NotificationRecord, error)
	Ping(ctx context.Context) error
}

// Config configures the HTTP server. Nil collaborators disable their routes.
type Config struct {
	Addr        string
	Routes      []RouteProvider
	History     HistoryStore
	Connected   func() int // live recipient count for /health
	Metrics     http.Handler
	MetricsPath string // default /metrics
	Logger      *slog.Logger
}

type Server struct {
	cfg    Config
	server *http.Server
	logger *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, rp := range s.cfg.Routes {
		rp.Routes(mux)
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.Metrics != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.cfg.Metrics)
	}
	if s.cfg.History != nil {
		mux.HandleFunc("GET /api/v1/notifications/{user_id}", s.handleHistory)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("http server started", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

type healthResponse struct {
	Status         string `json:"status"`
	Database       string `json:"database,omitempty"`
	ConnectedUsers int    `json:"connected_users"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	if s.cfg.Connected != nil {
		resp.ConnectedUsers = s.cfg.Connected()
	}
	if s.cfg.History != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.History.Ping(ctx); err != nil {
			s.logger.Warn("health: database unreachable", "err", err)
			resp.Status, resp.Database = "degraded", "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	recs, err := s.cfg.History.ListNotifications(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("list notifications failed", "recipient", userID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to load notifications"})
		return
	}
	if recs == nil {
		recs = []domain.NotificationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       userID,
		"notifications": recs,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
