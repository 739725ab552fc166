// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/logging"
)

// ProbeFunc answers a liveness or readiness probe. The detail is returned
// to the caller as JSON.
type ProbeFunc func() (ok bool, detail any)

// Server serves /metrics, /healthz and /readyz.
type Server struct {
	registry *Registry
	live     ProbeFunc
	ready    ProbeFunc
	logger   *logging.Logger
	srv      *http.Server
	ln       net.Listener
}

// NewServer builds the admin HTTP server. Nil probes always succeed.
func NewServer(addr string, registry *Registry, live, ready ProbeFunc, logger *logging.Logger) *Server {
	s := &Server{
		registry: registry,
		live:     live,
		ready:    ready,
		logger:   logging.Or(logger, "metrics"),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.registry.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.probeHandler(s.live)).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.probeHandler(s.ready)).Methods(http.MethodGet)
	return r
}

func (s *Server) probeHandler(probe ProbeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ok, detail := true, any(nil)
		if probe != nil {
			ok, detail = probe()
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(map[string]any{"ok": ok, "detail": detail}); err != nil {
			s.logger.Debug("probe response write failed", "error", err)
		}
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "listen on %s", s.srv.Addr)
	}
	s.ln = ln
	s.logger.Info("metrics server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
