// Package health serves the liveness, readiness and metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/e7canasta/reelcore/modules/coordinator"
)

// Status values reported by a Checker.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health state of the reel service
type Status struct {
	Status          string              `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64               `json:"uptime_seconds"`
	MQTTConnected   bool                `json:"mqtt_connected"`
	PlayerConnected bool                `json:"player_connected"`
	StoreEnabled    bool                `json:"store_enabled"`
	Coordinator     *coordinator.Status `json:"coordinator,omitempty"`
}

// Checker produces the readiness report.
type Checker interface {
	HealthCheck() Status
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func() Status

func (f CheckerFunc) HealthCheck() Status { return f() }

// Server is the HTTP health check server.
type Server struct {
	checker Checker
	metrics http.Handler
	logger  *slog.Logger
	started time.Time

	srv *http.Server
}

// New creates a Server listening on port. A nil metrics handler leaves
// /metrics unregistered.
func New(port string, checker Checker, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		checker: checker,
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}
	s.srv = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.liveness)
	mux.HandleFunc("/readiness", s.readiness)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start listens and serves in a goroutine. Listen errors are returned; serve
// errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	s.logger.Info("starting health check server",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health check server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// liveness handles /health: 200 while the process can answer.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// readiness handles /readiness. Degraded is still ready.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	status := s.checker.HealthCheck()

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
