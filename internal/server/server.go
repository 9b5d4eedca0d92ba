// Package server exposes the instrumentation pipeline over HTTP:
// submit source, get back the normalized result document, and browse
// run history.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/netutil"

	"codetrace/internal/config"
	"codetrace/internal/lang"
	"codetrace/internal/logging"
	"codetrace/internal/pipeline"
	"codetrace/internal/store"
)

// Server is the HTTP API front end.
type Server struct {
	cfg      *config.Config
	pipe     *pipeline.Pipeline
	registry *lang.Registry
	runs     *store.RunStore

	httpSrv  *http.Server
	listener net.Listener
}

// New wires the API around an existing pipeline and run store. The
// store may be nil, in which case history endpoints return 503 and
// results are not persisted.
func New(cfg *config.Config, pipe *pipeline.Pipeline, registry *lang.Registry, runs *store.RunStore) *Server {
	s := &Server{
		cfg:      cfg,
		pipe:     pipe,
		registry: registry,
		runs:     runs,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/languages", s.handleLanguages)
	mux.HandleFunc("POST /api/trace", s.handleTrace)
	mux.HandleFunc("POST /api/trace/batch", s.handleBatch)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)

	s.httpSrv = &http.Server{
		Handler:      s.withRequestID(mux),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}
	return s
}

// Handler exposes the routed handler for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.ServerAddr()
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves until Shutdown or a fatal
// listener error. It blocks; run it in a goroutine or errgroup.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ServerAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ServerAddr(), err)
	}
	if max := s.cfg.Server.MaxConnections; max > 0 {
		ln = netutil.LimitListener(ln, max)
	}
	s.listener = ln

	logging.Server("listening on %s", ln.Addr())
	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace
// period.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Server("shutting down")
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GetShutdownTimeout())
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
