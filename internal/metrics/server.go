package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server is the admin HTTP listener carried by both daemons
// (SPEC_FULL.md §6 expansion): /metrics, /healthz, /stats.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *logrus.Logger
	ready      atomic.Bool
	statsFunc  atomic.Value // func() map[string]int64
}

func NewServer(addr string, registry *prometheus.Registry, logger *logrus.Logger) *Server {
	s := &Server{logger: logger}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// SetReady flips /healthz between 200 (daemon's main loop is live) and
// 503. Daemons call this once their core loops are running.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// SetStatsProvider installs the function backing /stats — typically
// dispatch.AuditLog.Counts composed with any consumer-specific counters.
func (s *Server) SetStatsProvider(f func() map[string]int64) {
	s.statsFunc.Store(f)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var counts map[string]int64
	if f, ok := s.statsFunc.Load().(func() map[string]int64); ok && f != nil {
		counts = f()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(counts)
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithFields(logrus.Fields{"component": "metrics", "error": err}).Error("admin http server error")
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	return s.httpServer.Shutdown(context.Background())
}

// Addr returns the bound listen address, resolved after Start (useful
// with a ":0" configured port, as tests do).
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}
