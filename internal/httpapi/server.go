// Package httpapi exposes the operator-facing HTTP surface: run control,
// the claim list, the live event stream, and per-claim review actions.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/claimcast/internal/claims"
	"github.com/MrWong99/claimcast/internal/config"
	"github.com/MrWong99/claimcast/internal/events"
	"github.com/MrWong99/claimcast/internal/health"
	"github.com/MrWong99/claimcast/internal/observe"
	"github.com/MrWong99/claimcast/internal/outputpkg"
	"github.com/MrWong99/claimcast/internal/render"
	"github.com/MrWong99/claimcast/internal/run"
)

const (
	// maxBodyBytes caps control-request bodies. Operator requests are tiny;
	// anything larger is abuse.
	maxBodyBytes = 1 << 20

	// defaultKeepalive is the SSE comment interval keeping idle connections
	// alive through proxies.
	defaultKeepalive = 15 * time.Second
)

// Deps are the collaborators the API delegates to.
type Deps struct {
	Controller *run.Controller
	Store      *claims.Store
	Hub        *events.Hub
	Packages   *outputpkg.Assembler
	Renderer   *render.Renderer
	Metrics    *observe.Metrics
	Health     *health.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithKeepalive overrides the SSE keepalive interval.
func WithKeepalive(d time.Duration) Option {
	return func(s *Server) { s.keepalive = d }
}

// Server is the HTTP API. Construct with New, mount via Router.
type Server struct {
	cfg       config.ServerConfig
	deps      Deps
	limiter   *ipLimiter
	log       *slog.Logger
	keepalive time.Duration
}

// New creates a Server. A zero RateLimitPerMinute falls back to the
// documented default of 120.
func New(cfg config.ServerConfig, deps Deps, opts ...Option) *Server {
	perMinute := cfg.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		limiter:   newIPLimiter(perMinute),
		log:       slog.Default(),
		keepalive: defaultKeepalive,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	allowed := s.cfg.CORSOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	}))
	if s.deps.Metrics != nil {
		r.Use(observe.Middleware(s.deps.Metrics))
	}
	r.Use(s.rateLimit)

	// Read surface. Optionally password-protected.
	r.Group(func(r chi.Router) {
		if s.cfg.ProtectRead {
			r.Use(s.auth)
		}
		r.Get("/claims", s.handleClaims)
		r.Get("/events", s.handleEvents)
	})

	// Control surface. Always password-protected when a password is set.
	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Use(bodyLimit)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Route("/claims/{id}", func(r chi.Router) {
			r.Post("/approve-output", s.handleApproveOutput)
			r.Post("/reject-output", s.handleRejectOutput)
			r.Post("/generate-package", s.handleGeneratePackage)
			r.Post("/render-image", s.handleRenderImage)
			r.Post("/tag-override", s.handleTagOverride)
		})
	})

	if s.deps.Renderer != nil {
		files := http.StripPrefix("/artifacts/", http.FileServer(http.Dir(s.deps.Renderer.ArtifactDir())))
		r.Get("/artifacts/*", files.ServeHTTP)
	}
	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.Healthz)
		r.Get("/readyz", s.deps.Health.Readyz)
	}
	r.Handle("/metrics", promhttp.Handler())

	return r
}
