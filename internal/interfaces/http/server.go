// Package http serves the worker's operational surface: liveness, readiness,
// Prometheus metrics, and a JSON status document. Read-only, local by
// default.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexmulier/crypton/internal/telemetry"
)

// Status is the document served on /status. The loop refreshes it through
// the StatusFunc.
type Status struct {
	Worker      string    `json:"worker"`
	Market      string    `json:"market"`
	Venues      []string  `json:"venues"`
	Simulate    bool      `json:"simulate"`
	Ticks       uint64    `json:"ticks"`
	Trades      uint64    `json:"trades"`
	LastReason  string    `json:"last_reason,omitempty"`
	LastTradeAt time.Time `json:"last_trade_at,omitempty"`
	StartedAt   time.Time `json:"started_at"`

	// Seconds since each venue's freshest snapshot and balance refresh.
	BookAges    map[string]float64 `json:"book_age_seconds,omitempty"`
	BalanceAges map[string]float64 `json:"balance_age_seconds,omitempty"`
}

// StatusFunc supplies the current status document. It must be safe for
// concurrent use.
type StatusFunc func() Status

// ReadyFunc reports whether the worker has finished its startup preload.
type ReadyFunc func() bool

// Server is the ops HTTP server.
type Server struct {
	server *http.Server
	log    zerolog.Logger
}

// NewServer wires the ops routes. metrics may be nil; /metrics then serves
// an empty registry page.
func NewServer(addr string, metrics *telemetry.Metrics, status StatusFunc, ready ReadyFunc, log zerolog.Logger) *Server {
	s := &Server{log: log.With().Str("component", "ops").Logger()}

	router := mux.NewRouter()
	router.Use(s.requestIDMiddleware)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.handleReady(ready)).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus(status)).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()
	s.log.Info().Str("addr", s.server.Addr).Msg("ops server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(ready ReadyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleStatus(status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if status == nil {
			writeJSON(w, http.StatusOK, Status{})
			return
		}
		writeJSON(w, http.StatusOK, status())
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "path": r.URL.Path})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
