// Copyright 2024-2026 Aiku AI

// Package adminapi serves the bridge's operational HTTP endpoints.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aiku/roombridge/pkg/bridge"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = ":29321"

// StatusSource reports bridge state.
type StatusSource interface {
	Status(ctx context.Context) bridge.Status
}

// LinkIndex is the reloadable link cache.
type LinkIndex interface {
	Reload(ctx context.Context) error
	Size() int
}

// Server is the admin HTTP API.
type Server struct {
	bridge StatusSource
	index  LinkIndex
	log    zerolog.Logger
	srv    *http.Server
}

// New creates an admin API listening on addr. index may be nil when the link
// index is disabled.
func New(addr string, status StatusSource, index LinkIndex, log zerolog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		bridge: status,
		index:  index,
		log:    log.With().Str("component", "admin_api").Logger(),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/status", s.handleStatus)
	r.Post("/api/reload-links", s.handleReloadLinks)
	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("Admin API listening")
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	bridge.Status
	Links *int `json:"links,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.bridge.Status(r.Context())}
	if s.index != nil {
		n := s.index.Size()
		resp.Links = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReloadLinks rebuilds the link index from the store.
func (s *Server) handleReloadLinks(w http.ResponseWriter, r *http.Request) {
	s.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Link index reload requested")
	if s.index == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "link index is disabled"})
		return
	}
	if err := s.index.Reload(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("Link index reload failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": s.index.Size()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
