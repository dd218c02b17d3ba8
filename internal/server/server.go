// Package server exposes the decision engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/adrianpk/gatekeeper/internal/engine"
	"github.com/adrianpk/gatekeeper/internal/policy"
)

const maxBodyBytes = 8 << 20

// Server serves decisions for agents that cannot run the hook binary.
type Server struct {
	engine   *engine.Engine
	store    *policy.Store
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

// New creates a server. gatherer backs /metrics.
func New(e *engine.Engine, store *policy.Store, gatherer prometheus.Gatherer) *Server {
	return &Server{
		engine:   e,
		store:    store,
		gatherer: gatherer,
		logger:   log.With().Str("component", "server").Logger(),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.limitRequestBody)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/decide", s.handleDecide)
		r.Post("/reload", s.handleReload)
		r.Get("/policy", s.handlePolicy)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type policyResponse struct {
	Hash     string    `json:"hash"`
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
	Path     string    `json:"path,omitempty"`
	Raw      string    `json:"raw,omitempty"`
}

type errorResponse struct {
	Error  string          `json:"error"`
	Policy *policyResponse `json:"policy,omitempty"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Kind == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "action_kind is required"})
		return
	}

	d := s.engine.Decide(r.Context(), req)
	s.logger.Debug().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("kind", string(req.Kind)).
		Str("verdict", string(d.Verdict)).
		Msg("decided")
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reload(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Policy: s.policyInfo(false)})
		return
	}
	writeJSON(w, http.StatusOK, s.policyInfo(false))
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	info := s.policyInfo(r.URL.Query().Get("raw") == "true")
	if info == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no policy loaded"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) policyInfo(raw bool) *policyResponse {
	snap := s.store.Snapshot()
	if snap == nil {
		return nil
	}
	info := &policyResponse{Hash: snap.Hash, Source: snap.Source, LoadedAt: snap.LoadedAt, Path: s.store.Path()}
	if raw {
		info.Raw = string(snap.Raw)
	}
	return info
}

func (s *Server) limitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}
