package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Server exposes /health and /metrics for the orchestrator process.
type Server struct {
	httpServer *http.Server
	checker    *HealthChecker
	host       string
	port       int
}

// NewServer creates an observability server.
func NewServer(host string, port int, checker *HealthChecker) *Server {
	return &Server{checker: checker, host: host, port: port}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.checker.HealthHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", MetricsHandler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
