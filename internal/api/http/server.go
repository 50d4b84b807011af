// Package http provides the local HTTP server: health checks, metrics, the
// bot REST proxy and the browser WebSocket hub.
package http

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/saltfish/tradebot-dash/go-backend/internal/events"
	"github.com/saltfish/tradebot-dash/go-backend/internal/poller"
	"github.com/saltfish/tradebot-dash/go-backend/internal/realtime"
	"github.com/saltfish/tradebot-dash/go-backend/internal/recorder"
	"github.com/saltfish/tradebot-dash/go-backend/internal/scheduler"
)

// ChannelInfo is the read side of the realtime channel.
type ChannelInfo interface {
	State() realtime.State
	Stats() realtime.Stats
}

// Database is the trade history pool as seen by the health and metrics
// endpoints. *db.Pool implements it.
type Database interface {
	HealthCheck(ctx context.Context) error
	Stats() *pgxpool.Stat
}

// Dependencies wires the server to the rest of the process. Any field may be
// nil; the matching routes or metrics are then left out.
type Dependencies struct {
	Handler   *Handler
	Hub       *Hub
	Channel   ChannelInfo
	Pool      Database
	Poller    *poller.Poller
	Recorder  *recorder.Recorder
	Relay     *events.Relay
	Scheduler *scheduler.Scheduler
	Static    fs.FS
}

// Server provides the dashboard HTTP endpoints.
type Server struct {
	server *http.Server
	deps   Dependencies
	logger *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(address string, deps Dependencies, logger *zap.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger.Named("http"),
	}

	s.server = &http.Server{
		Addr:        address,
		Handler:     s.routes(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /ws connections are long-lived and manage their
		// own write deadlines.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.HandleFunc("/metrics", s.handleMetrics)

	if h := s.deps.Handler; h != nil {
		mux.HandleFunc("/api/bot/status", h.HandleBotStatus)
		mux.HandleFunc("/api/bot/start", h.HandleStartBot)
		mux.HandleFunc("/api/bot/stop", h.HandleStopBot)
		mux.HandleFunc("/api/stats", h.HandleStats)
		mux.HandleFunc("/api/stats/reset", h.HandleResetStats)
		mux.HandleFunc("/api/config", h.HandleConfig)
		mux.HandleFunc("/api/state", h.HandleState)
		mux.HandleFunc("/api/trades", h.HandleTrades)
		mux.HandleFunc("/api/snapshots", h.HandleSnapshots)
	}

	if s.deps.Hub != nil {
		mux.HandleFunc("/ws", s.deps.Hub.ServeWS)
	}

	if s.deps.Static != nil {
		mux.Handle("/", http.FileServer(http.FS(s.deps.Static)))
	}

	return mux
}

// Handler returns the root handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("address", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

// Version is reported by /health. Set at build time with -ldflags.
var Version = "dev"

// handleHealth handles the /health endpoint. A disconnected realtime channel
// degrades the status but does not fail the check; the poller keeps data fresh.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   "healthy",
		Version:  Version,
		Services: make(map[string]string),
	}

	if s.deps.Channel != nil {
		state := s.deps.Channel.State()
		response.Services["realtime"] = state.String()
		if state != realtime.StateOpen {
			response.Status = "degraded"
		}
	}

	if s.deps.Pool != nil {
		if err := s.deps.Pool.HealthCheck(ctx); err != nil {
			response.Services["postgres"] = "unhealthy: " + err.Error()
			response.Status = "unhealthy"
		} else {
			response.Services["postgres"] = "healthy"
		}
	} else {
		response.Services["postgres"] = "not configured"
	}

	if s.deps.Scheduler != nil {
		response.Services["scheduler"] = "healthy"
	} else {
		response.Services["scheduler"] = "not configured"
	}

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// handleLiveness handles the /health/live endpoint (Kubernetes liveness probe).
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// handleReadiness handles the /health/ready endpoint (Kubernetes readiness probe).
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.deps.Pool != nil {
		if err := s.deps.Pool.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unavailable: " + err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// MetricsResponse represents the metrics response.
type MetricsResponse struct {
	Realtime  *realtime.Stats     `json:"realtime,omitempty"`
	Hub       HubMetrics          `json:"hub"`
	Poller    *poller.Stats       `json:"poller,omitempty"`
	Recorder  *recorder.Stats     `json:"recorder,omitempty"`
	Relay     *events.RelayStats  `json:"relay,omitempty"`
	Scheduler []scheduler.JobInfo `json:"scheduler,omitempty"`
	Database  *DatabaseMetrics    `json:"database,omitempty"`
}

// HubMetrics represents browser fan-out metrics.
type HubMetrics struct {
	Clients int `json:"clients"`
}

// DatabaseMetrics represents database-related metrics.
type DatabaseMetrics struct {
	TotalConnections  int32 `json:"total_connections"`
	AcquiredConns     int32 `json:"acquired_connections"`
	IdleConns         int32 `json:"idle_connections"`
	MaxConns          int32 `json:"max_connections"`
	ConstructingConns int32 `json:"constructing_connections"`
}

// handleMetrics handles the /metrics endpoint.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	response := MetricsResponse{}

	if s.deps.Channel != nil {
		stats := s.deps.Channel.Stats()
		response.Realtime = &stats
	}
	if s.deps.Hub != nil {
		response.Hub.Clients = s.deps.Hub.GetClientCount()
	}
	if s.deps.Poller != nil {
		stats := s.deps.Poller.Stats()
		response.Poller = &stats
	}
	if s.deps.Recorder != nil {
		stats := s.deps.Recorder.Stats()
		response.Recorder = &stats
	}
	if s.deps.Relay != nil {
		stats := s.deps.Relay.Stats()
		response.Relay = &stats
	}
	if s.deps.Scheduler != nil {
		response.Scheduler = s.deps.Scheduler.Jobs()
	}

	if s.deps.Pool != nil {
		poolStats := s.deps.Pool.Stats()
		response.Database = &DatabaseMetrics{
			TotalConnections:  poolStats.TotalConns(),
			AcquiredConns:     poolStats.AcquiredConns(),
			IdleConns:         poolStats.IdleConns(),
			MaxConns:          poolStats.MaxConns(),
			ConstructingConns: poolStats.ConstructingConns(),
		}
	}

	writeJSON(w, http.StatusOK, response)
}
