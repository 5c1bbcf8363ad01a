// Package server exposes the dialogue director over HTTP so a game host can
// drive NPC conversations without linking the Go packages.
//
// Routes:
//
//	GET    /v1/npcs
//	GET    /v1/npcs/{npc}
//	PUT    /v1/npcs/{npc}/mood
//	POST   /v1/npcs/{npc}/facts
//	GET    /v1/npcs/{npc}/knowledge
//	POST   /v1/npcs/{npc}/quests/{quest}
//	POST   /v1/npcs/{npc}/conversations/{player}
//	DELETE /v1/npcs/{npc}/conversations/{player}
//	POST   /v1/npcs/{npc}/conversations/{player}/messages
//	POST   /v1/npcs/{npc}/conversations/{player}/choices
//	POST   /v1/npcs/{npc}/conversations/{player}/choices/selected
//	GET    /v1/npcs/{npc}/conversations/{player}/history
//	POST   /v1/npcs/{npc}/conversations/{player}/feedback (with [WithFeedback])
//	POST   /v1/reasoning/query
//	GET    /healthz, /readyz, /metrics
//
// Every request runs through [observe.Middleware].
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/npcmind/internal/brain"
	"github.com/MrWong99/npcmind/internal/director"
	"github.com/MrWong99/npcmind/internal/feedback"
	"github.com/MrWong99/npcmind/internal/health"
	"github.com/MrWong99/npcmind/internal/observe"
)

// Defaults for [Server].
const (
	DefaultMaxDepth        = 5
	DefaultShutdownTimeout = 10 * time.Second
	DefaultIdleTimeout     = 2 * time.Minute

	maxBodyBytes = 1 << 20
)

// Server serves the HTTP API for one [director.Director].
type Server struct {
	director *director.Director
	manager  *brain.Manager
	health   *health.Handler
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	feedback *feedback.FileStore

	maxDepth        int
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	certFile        string
	keyFile         string

	handler http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth serves h on /healthz and /readyz instead of an empty handler.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records request metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer serves g on /metrics instead of [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithFeedback enables the feedback route, appending ratings to fs.
func WithFeedback(fs *feedback.FileStore) Option {
	return func(s *Server) { s.feedback = fs }
}

// WithMaxDepth bounds backward chaining for /v1/reasoning/query requests
// that do not set their own depth.
func WithMaxDepth(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

// WithIdleTimeout sets the keep-alive idle timeout of the listener.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithTLS makes [Server.Serve] terminate TLS with the given key pair.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) { s.certFile, s.keyFile = certFile, keyFile }
}

// New returns a server for d.
func New(d *director.Director, opts ...Option) *Server {
	s := &Server{
		director:        d,
		manager:         brain.NewManager(d.Engine().Brain()),
		maxDepth:        DefaultMaxDepth,
		idleTimeout:     DefaultIdleTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the instrumented handler serving every route.
func (s *Server) Handler() http.Handler { return s.handler }

// Manager returns the brain manager behind the knowledge routes.
func (s *Server) Manager() *brain.Manager { return s.manager }

func (s *Server) routes(mux *http.ServeMux) {
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/npcs", s.handleListNPCs)
	mux.HandleFunc("GET /v1/npcs/{npc}", s.handleGetNPC)
	mux.HandleFunc("PUT /v1/npcs/{npc}/mood", s.handleSetMood)
	mux.HandleFunc("POST /v1/npcs/{npc}/facts", s.handleAddFact)
	mux.HandleFunc("GET /v1/npcs/{npc}/knowledge", s.handleKnowledge)
	mux.HandleFunc("POST /v1/npcs/{npc}/quests/{quest}", s.handleInjectQuest)

	mux.HandleFunc("POST /v1/npcs/{npc}/conversations/{player}", s.handleStart)
	mux.HandleFunc("DELETE /v1/npcs/{npc}/conversations/{player}", s.handleEnd)
	mux.HandleFunc("POST /v1/npcs/{npc}/conversations/{player}/messages", s.handleMessage)
	mux.HandleFunc("POST /v1/npcs/{npc}/conversations/{player}/choices", s.handleChoicesShown)
	mux.HandleFunc("POST /v1/npcs/{npc}/conversations/{player}/choices/selected", s.handleChoiceSelected)
	mux.HandleFunc("GET /v1/npcs/{npc}/conversations/{player}/history", s.handleHistory)
	if s.feedback != nil {
		mux.HandleFunc("POST /v1/npcs/{npc}/conversations/{player}/feedback", s.handleFeedback)
	}

	mux.HandleFunc("POST /v1/reasoning/query", s.handleReasoningQuery)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       s.idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" {
			err = srv.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			err = srv.Serve(ln)
		}
		errCh <- err
	}()
	slog.Info("server: listening", "addr", ln.Addr().String(), "tls", s.certFile != "")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	slog.Info("server: stopped")
	return nil
}

// ListenAndServe listens on addr and calls [Server.Serve].
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}
