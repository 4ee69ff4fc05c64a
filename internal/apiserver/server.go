// Package apiserver exposes the run and judge endpoints over HTTP, behind
// bearer-token authentication and per-actor rate limiting.
package apiserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wark-project/wark/internal/auth"
	"github.com/wark-project/wark/internal/judge"
	"github.com/wark-project/wark/internal/ledger"
	"github.com/wark-project/wark/internal/sandbox"
	"github.com/wark-project/wark/internal/telemetry"
)

// Server holds the collaborators the run and judge handlers dispatch to.
type Server struct {
	Runner    *sandbox.Runner
	Pipeline  *judge.Pipeline
	Ledger    ledger.Ledger
	Telemetry *telemetry.Provider
	schemas   *schemas
}

// New builds a Server. A non-nil runner and pipeline are required; the
// request schemas are compiled once at construction time. A nil ledger is
// replaced with ledger.NoopLedger, and a nil telemetry provider with a
// disabled telemetry.Provider, so handlers never need a nil check.
func New(runner *sandbox.Runner, pipeline *judge.Pipeline, lgr ledger.Ledger, tel *telemetry.Provider) (*Server, error) {
	sch, err := newSchemas()
	if err != nil {
		return nil, fmt.Errorf("apiserver: %w", err)
	}
	if lgr == nil {
		lgr = ledger.NoopLedger{}
	}
	if tel == nil {
		tel, err = telemetry.New(context.Background(), telemetry.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("apiserver: %w", err)
		}
	}
	return &Server{Runner: runner, Pipeline: pipeline, Ledger: lgr, Telemetry: tel, schemas: sch}, nil
}

// Options configures the listening HTTP server.
type Options struct {
	Addr         string
	Validator    *auth.JWTValidator
	RateLimit    auth.RateLimitPolicy
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultOptions returns a 15s read timeout for the request body (a wasm
// binary can be large), a 5m write timeout since the compute work happens
// inside the sandboxed call before the response is written, and a 60s idle
// timeout.
func DefaultOptions(addr string, validator *auth.JWTValidator) Options {
	return Options{
		Addr:         addr,
		Validator:    validator,
		RateLimit:    auth.RateLimitPolicy{RequestsPerSecond: 20, Burst: 40},
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// ListenAndServe builds the routed, authenticated handler and serves it
// until the process is killed or the listener errors.
func (s *Server) ListenAndServe(opts Options) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/run", s.handleRun)
	mux.HandleFunc("/judge", s.handleJudge)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	handler := auth.RateLimitMiddleware(opts.RateLimit)(mux)
	handler = auth.NewMiddleware(opts.Validator)(handler)

	httpServer := &http.Server{
		Addr:         opts.Addr,
		Handler:      handler,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}

	slog.Info("wark http service listening", "addr", opts.Addr)
	return httpServer.ListenAndServe()
}
