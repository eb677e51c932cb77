// Package api exposes the governance pipeline over HTTP.
//
// It provides endpoints for submitting inbound messages, inspecting session
// state and audit trails, reading the active policy, and health checking.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/convogate/convogate/internal/config"
	"github.com/convogate/convogate/internal/governor"
	"github.com/convogate/convogate/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration for the API server.
type Opts struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// ReadTimeout bounds request header and body reads.
	ReadTimeout time.Duration
	// WriteTimeout bounds response writes, including the decision call.
	WriteTimeout time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTimeouts sets the HTTP read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(o *Opts) {
		o.ReadTimeout = read
		o.WriteTimeout = write
	}
}

// Server wires HTTP handlers to the governor and its backing store.
type Server struct {
	governor *governor.Governor
	sessions store.Store
	policy   *config.Policy
	httpSrv  *http.Server
}

// NewServer creates the API server around an already-constructed governor.
func NewServer(g *governor.Governor, sessions store.Store, policy *config.Policy, opts ...Option) *Server {
	cfg := Opts{
		Addr:         DefaultAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		governor: g,
		sessions: sessions,
		policy:   policy,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", s.messagesHandler)
	mux.HandleFunc("/v1/sessions/", s.sessionsHandler)
	mux.HandleFunc("/v1/policy", s.policyHandler)
	mux.HandleFunc("/health", s.healthHandler)

	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run starts the HTTP listener and blocks until it fails or is shut down.
func (s *Server) Run() error {
	slog.Info("Server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests, bounded
// by the context.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server shutting down")
	return s.httpSrv.Shutdown(ctx)
}
