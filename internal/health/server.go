// Package health serves liveness and status endpoints for the agent
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Status is a point-in-time view of the agent
type Status struct {
	State         string `json:"state"`
	Sessions      int64  `json:"sessions"`
	Rules         int    `json:"rules"`
	Members       int    `json:"members"`
	Conversations int    `json:"conversations"`
}

// Healthy reports whether a realtime session is currently open
func (s Status) Healthy() bool {
	return s.State == "open"
}

// Probe returns the current status
type Probe func() Status

// Server provides HTTP health check endpoints
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// New creates a new health check server
func New(addr string, probe Probe, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: Handler(probe),
		},
		logger: logger,
	}
}

// Handler routes /health and /status
func Handler(probe Probe) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		st := probe()
		if !st.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(st.State))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(probe())
	})

	return mux
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Health check server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down health check server...")
	return s.server.Shutdown(ctx)
}
