// Package server is the HTTP surface over the memory core. Handlers
// stay thin: validate, route into the store and its satellites, map
// typed errors onto statuses.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/signetai/signet/internal/config"
	"github.com/signetai/signet/internal/diagnostics"
	"github.com/signetai/signet/internal/embedding"
	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/repair"
	"github.com/signetai/signet/internal/session"
	"github.com/signetai/signet/internal/store"
)

const (
	maxConns        = 256
	readTimeout     = 30 * time.Second
	writeTimeout    = 60 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server wires the handlers over the daemon's shared components.
type Server struct {
	store    *store.Store
	cfg      *config.Config
	client   *embedding.Client
	repairs  *repair.Registry
	sessions *session.Manager
	diags    *diagnostics.Runner

	startedAt time.Time
	mux       *http.ServeMux
}

func New(st *store.Store, cfg *config.Config, client *embedding.Client,
	repairs *repair.Registry, sessions *session.Manager) *Server {
	s := &Server{
		store:     st,
		cfg:       cfg,
		client:    client,
		repairs:   repairs,
		sessions:  sessions,
		diags:     diagnostics.New(st, client),
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/memory/remember", s.handleRemember)
	s.mux.HandleFunc("POST /api/memory/save", s.handleRemember)
	s.mux.HandleFunc("POST /api/memory/recall", s.handleRecall)
	s.mux.HandleFunc("POST /api/memory/forget", s.handleForget)
	s.mux.HandleFunc("POST /api/memory/recover", s.handleRecover)
	s.mux.HandleFunc("POST /api/memory/modify", s.handleModify)
	s.mux.HandleFunc("GET /memory/search", s.handleSearch)
	s.mux.HandleFunc("GET /memory/similar", s.handleSimilar)
	s.mux.HandleFunc("GET /api/memories", s.handleListMemories)
	s.mux.HandleFunc("GET /api/memories/{id}/history", s.handleHistory)
	s.mux.HandleFunc("POST /api/hooks/session-start", s.handleSessionStart)
	s.mux.HandleFunc("POST /api/hooks/prompt", s.handlePromptHook)
	s.mux.HandleFunc("POST /api/repair/{action}", s.handleRepair)
	s.mux.HandleFunc("GET /api/embeddings/status", s.handleEmbeddingStatus)
	s.mux.HandleFunc("GET /api/embeddings/health", s.handleEmbeddingHealth)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
}

// Handler returns the routed handler wrapped with request IDs.
func (s *Server) Handler() http.Handler {
	return withRequestID(s.mux)
}

// ListenAndServe binds the address and serves until ctx is canceled,
// then drains connections within the shutdown grace period. The
// listener caps concurrent connections so a runaway harness cannot
// exhaust the process.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, maxConns)

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logging.Server("listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.ServerWarn("shutdown did not drain cleanly: %v", err)
			return err
		}
		logging.Server("shut down cleanly")
		return nil
	case err := <-errCh:
		return err
	}
}
