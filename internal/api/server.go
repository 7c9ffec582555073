package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/org/trustledger/internal/ledger"
	"github.com/org/trustledger/internal/rbac"
	"github.com/org/trustledger/pkg/models"
)

// APIToken maps a static bearer token to an actor identity.
type APIToken struct {
	Token  string `yaml:"token"`
	Role   string `yaml:"role"`
	UserID string `yaml:"user_id"`
}

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	Tokens      []APIToken
	RateLimit   int
	RateBurst   int
}

// RoleStore persists role definitions across restarts. Nil disables
// persistence (dev mode: roles live only in the engine).
type RoleStore interface {
	SaveRole(ctx context.Context, role *models.RoleDefinition) error
	DeleteRole(ctx context.Context, id string) error
}

// Server is the HTTP API over the audit chain and the RBAC engine.
type Server struct {
	chain   *ledger.Chain
	engine  *rbac.Engine
	roles   RoleStore
	cfg     Config
	logger  zerolog.Logger
	httpSrv *http.Server
}

// NewServer wires a Server over an initialized chain and engine.
func NewServer(chain *ledger.Chain, engine *rbac.Engine, roles RoleStore, cfg Config, logger zerolog.Logger) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 200
	}
	return &Server{
		chain:  chain,
		engine: engine,
		roles:  roles,
		cfg:    cfg,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst).middleware)

	// Prometheus metrics and health (unauthenticated)
	r.Handle("/metrics", MetricsHandler())
	r.Get("/v1/sys/health", s.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.cfg.Tokens))
		r.Use(s.auditMiddleware())

		// Ledger
		r.Post("/v1/ledger/entries", s.RecordHandler)
		r.Get("/v1/ledger/entries/{id}", s.EntryGetHandler)
		r.Post("/v1/ledger/verify", s.VerifyHandler)
		r.Get("/v1/ledger/stats", s.StatsHandler)
		r.Post("/v1/ledger/snapshot", s.SnapshotHandler)

		// Roles
		r.Post("/v1/roles", s.RoleWriteHandler)
		r.Get("/v1/roles", s.RoleListHandler)
		r.Get("/v1/roles/{id}", s.RoleReadHandler)
		r.Delete("/v1/roles/{id}", s.RoleDeleteHandler)

		// Checks
		r.Post("/v1/check", s.CheckHandler)
		r.Post("/v1/sys/cache/clear", s.CacheClearHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
