// Package server implements the PlanForge HTTP server: REST API, auth,
// and SSE real-time events.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/planforge/planforge/agent"
	"github.com/planforge/planforge/config"
	"github.com/planforge/planforge/events"
	"github.com/planforge/planforge/metrics"
	"github.com/planforge/planforge/plan"
	"github.com/planforge/planforge/server/api"
	"github.com/planforge/planforge/server/ws"
)

// Server is the PlanForge HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	store      plan.Store
	decomposer api.Decomposer
	directory  agent.Directory
	bus        events.Bus
	metrics    *metrics.Metrics
	provider   string

	hub         *ws.Hub
	unsubscribe func()

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   buildInfo
}

type buildInfo struct {
	Version string
	Commit  string
	Date    string
}

// New creates a Server with the given config and logger. logger may be
// nil to discard logs.
func New(cfg config.Config, ver, commit, date string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		directory: agent.DefaultDirectory(),
		hub:       ws.NewHub(logger),
		startTime: time.Now(),
		version:   buildInfo{Version: ver, Commit: commit, Date: date},
	}
}

// SetStore attaches the project store.
func (s *Server) SetStore(store plan.Store) { s.store = store }

// SetDecomposer attaches the plan decomposer.
func (s *Server) SetDecomposer(d api.Decomposer) { s.decomposer = d }

// SetDirectory replaces the default agent directory.
func (s *Server) SetDirectory(d agent.Directory) { s.directory = d }

// SetBus attaches the event bus. The server subscribes on Start and
// bridges bus envelopes to SSE clients.
func (s *Server) SetBus(bus events.Bus) { s.bus = bus }

// SetMetrics attaches Prometheus instrumentation.
func (s *Server) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetProviderName sets the LLM provider name reported by /api/health.
func (s *Server) SetProviderName(name string) { s.provider = name }

// Start registers routes, bridges the bus to the SSE hub, and begins
// listening.
func (s *Server) Start() error {
	s.registerRoutes()
	s.bridgeBus()

	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":8000"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening",
		slog.String("addr", addr),
		slog.Bool("auth", s.cfg.Auth.Enabled))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// bridgeBus forwards every bus envelope to connected SSE clients.
func (s *Server) bridgeBus() {
	if s.bus == nil {
		return
	}
	s.unsubscribe = s.bus.Subscribe(events.TopicAll, func(_ context.Context, ev *events.Envelope) error {
		s.hub.Broadcast(ev)
		return nil
	})
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Store:      s.store,
		Decomposer: s.decomposer,
		Directory:  s.directory,
		Bus:        s.bus,
		SimCfg:     s.cfg.Simulation,
		DecompCfg:  s.cfg.Decompose,
		Metrics:    s.metrics,
		Logger:     s.logger,
		Version:    s.version.Version,
		Commit:     s.version.Commit,
		BuildDate:  s.version.Date,
		Provider:   s.provider,
		StartAt:    s.startTime,
	}

	// Public routes (no auth required)
	s.handle("POST /api/auth/login", http.HandlerFunc(s.handleLogin))
	s.handle("GET /api/health", h.HealthHandler())
	s.handle("GET /api/version", h.VersionHandler())

	// SSE — auth handled inline because EventSource can't set headers
	s.handle("GET /api/events", http.HandlerFunc(s.handleSSE))

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Protected API
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	var protected http.Handler = apiMux
	if s.cfg.Auth.Enabled {
		protected = s.authMiddleware(protected)
	}
	s.handle("/api/", protected)
}

// handle registers a pattern, instrumenting it when metrics are attached.
func (s *Server) handle(pattern string, handler http.Handler) {
	if s.metrics != nil {
		handler = s.metrics.Instrument(routeLabel(pattern), handler)
	}
	s.mux.Handle(pattern, handler)
}

// routeLabel strips the method prefix from a mux pattern so metric
// labels read as paths.
func routeLabel(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleSSE authenticates (via query token, when auth is enabled) and
// hands the connection to the hub.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth.Enabled {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = bearerToken(r)
		}
		if _, err := verifyToken(s.jwtSecret(), token); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
	}
	s.hub.ServeSSE(w, r)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
