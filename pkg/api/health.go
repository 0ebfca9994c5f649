package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/herald/pkg/metrics"
)

// HealthServer provides HTTP health check and metrics endpoints
type HealthServer struct {
	checker *metrics.HealthChecker
	mux     *http.ServeMux
	server  *http.Server
}

// NewHealthServer creates a new health check HTTP server. A nil checker
// serves the process-wide one.
func NewHealthServer(checker *metrics.HealthChecker) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		checker: checker,
		mux:     mux,
	}

	// Register endpoints
	mux.HandleFunc("/health", getOnly(hs.healthHandler()))
	mux.HandleFunc("/ready", getOnly(hs.readyHandler()))
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves on addr until Shutdown is called
func (hs *HealthServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return hs.Serve(lis)
}

// Serve serves on an existing listener
func (hs *HealthServer) Serve(lis net.Listener) error {
	hs.server = &http.Server{
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	err := hs.server.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

func (hs *HealthServer) healthHandler() http.HandlerFunc {
	if hs.checker == nil {
		return metrics.HealthHandler()
	}
	return hs.checker.HealthHandler()
}

func (hs *HealthServer) readyHandler() http.HandlerFunc {
	if hs.checker == nil {
		return metrics.ReadyHandler()
	}
	return hs.checker.ReadyHandler()
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}
