package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/adapter/ws"
	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DashboardSource provides the current dashboard state and readiness.
type DashboardSource interface {
	sharedobs.ReadinessChecker
	Snapshot() domain.Dashboard
}

// StreamHub accepts websocket subscribers for live snapshots.
type StreamHub interface {
	Register(c ws.Subscriber) bool
	Unregister(c ws.Subscriber)
}

// Server exposes the dashboard API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	source     DashboardSource
	hub        StreamHub
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api/v1 dashboard routes.
func NewServer(addr string, source DashboardSource, hub StreamHub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		source: source,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(source))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
// Hijacked websocket connections are closed by the hub, not here.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

type historyResponse struct {
	Series     domain.Series     `json:"series"`
	Min        any               `json:"min"`
	Max        any               `json:"max"`
	Records    int               `json:"records"`
	Thresholds domain.Thresholds `json:"thresholds"`
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	snap := s.source.Snapshot()
	resp := historyResponse{
		Series:     snap.Series,
		Min:        boundValue(snap.Bounds.Min),
		Max:        boundValue(snap.Bounds.Max),
		Records:    snap.Records,
		Thresholds: snap.Thresholds,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	// The server's read timeout would otherwise end idle streams.
	_ = conn.SetReadDeadline(time.Time{})

	client := ws.NewClient(conn, s.logger)
	if !s.hub.Register(client) {
		client.Close()
		return
	}
	// Registered first so no broadcast falls between the initial snapshot
	// and the hub picking the client up.
	err = client.SendCurrent(func() ([]byte, error) {
		return json.Marshal(s.source.Snapshot())
	})
	if err != nil {
		s.logger.Error("send initial dashboard snapshot failed", "error", err)
		s.hub.Unregister(client)
		client.Close()
		return
	}
	remote := r.RemoteAddr
	s.logger.Debug("stream client connected", "remote", remote)

	go func() {
		defer func() {
			s.hub.Unregister(client)
			client.Close()
			s.logger.Debug("stream client disconnected", "remote", remote)
		}()
		client.Drain()
	}()
}

func boundValue(v *float64) any {
	if v == nil {
		return domain.NoData
	}
	return *v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
