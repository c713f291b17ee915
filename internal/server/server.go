package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fieldwatch/wkauth/internal/audit"
	"github.com/fieldwatch/wkauth/internal/config"
	"github.com/fieldwatch/wkauth/internal/handler"
	"github.com/fieldwatch/wkauth/internal/metrics"
	"github.com/fieldwatch/wkauth/internal/server/middleware"
	"github.com/fieldwatch/wkauth/internal/signing"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	BaseURL         string

	APIKeyHeader      string
	BootstrapNonceTTL time.Duration
	RotationOverlap   time.Duration
	APIKeyPerMinute   int
	HMACPerMinute     int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return ConfigFromSettings(config.DefaultSettings())
}

// ConfigFromSettings derives the server configuration from the service
// settings.
func ConfigFromSettings(s config.Settings) Config {
	return Config{
		Host:              s.Server.Host,
		Port:              s.Server.Port,
		ShutdownTimeout:   s.Server.ShutdownTimeout,
		CORSOrigins:       s.Server.CORSOrigins,
		MaxBodySize:       s.Server.MaxBodyBytes,
		BaseURL:           fmt.Sprintf("http://localhost:%d", s.Server.Port),
		APIKeyHeader:      s.APIKeys.Header,
		BootstrapNonceTTL: s.HMAC.BootstrapNonceTTL,
		RotationOverlap:   s.Clients.RotationOverlap,
		APIKeyPerMinute:   s.Throttle.APIKeyPerMinute,
		HMACPerMinute:     s.Throttle.HMACPerMinute,
	}
}

// Server is the top-level HTTP server for wkauth. It owns the Chi router,
// the metrics registry, and the services requests are routed to.
type Server struct {
	cfg        Config
	deps       *Deps
	router     chi.Router
	registry   *prometheus.Registry
	audit      *audit.Logger
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps *Deps, logger *slog.Logger) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Init(reg); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		registry: reg,
		audit:    audit.New(logger),
		logger:   logger,
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Request-ID",
			s.cfg.APIKeyHeader,
			signing.HeaderClientID, signing.HeaderTimestamp, signing.HeaderNonce, signing.HeaderSignature,
			signing.LegacyHeaderClientID, signing.LegacyHeaderTimestamp, signing.LegacyHeaderNonce, signing.LegacyHeaderSignature,
		},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware)

	// --- Health checks and metadata (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method("GET", "/metrics", metrics.Handler(s.registry))
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.BaseURL, s.cfg.APIKeyHeader).ServeSpec)

	d := s.deps
	keyHandler := handler.NewAPIKeyHandler(d.Keys, s.audit)
	integrationHandler := handler.NewIntegrationHandler(d.Tokens, s.audit)
	clientHandler := handler.NewClientHandler(d.Clients, s.cfg.RotationOverlap, s.audit)

	apiKeyAuth := middleware.APIKey(d.Keys, d.Store, s.cfg.APIKeyHeader, s.audit)
	ownerAuth := middleware.OwnerSession(d.Tokens, d.Store, s.audit)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {

		// Owner self-service key management
		r.Route("/api-keys", func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.APIKeyPerMinute))
			r.Use(ownerAuth)
			r.Get("/", keyHandler.List)
			r.Post("/", keyHandler.Create)
			r.Delete("/{keyId}", keyHandler.Revoke)
			r.Post("/{keyId}/rotate", keyHandler.Rotate)
		})

		r.Route("/integrations", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(apiKeyAuth)
				r.Use(middleware.RateLimitByAPIKey(s.cfg.APIKeyPerMinute))
				r.Use(middleware.RequireScope())
				r.Get("/ping", integrationHandler.Ping)
			})

			// Token bootstrap needs both an API key and a signature.
			r.Group(func(r chi.Router) {
				r.Use(apiKeyAuth)
				r.Use(middleware.RateLimitByAPIKey(s.cfg.APIKeyPerMinute))
				r.Use(middleware.RateLimitByClient(s.cfg.HMACPerMinute))
				r.Use(middleware.HMAC(d.Verifier, signing.Options{
					AllowedMethods: []string{http.MethodPost},
					NonceTTL:       s.cfg.BootstrapNonceTTL,
				}, s.cfg.MaxBodySize, s.audit))
				r.Post("/token", integrationHandler.Token)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.IntegrationToken(d.Tokens, s.audit))
				r.Get("/whoami", integrationHandler.WhoAmI)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByClient(s.cfg.HMACPerMinute))
				r.Use(middleware.HMAC(d.Verifier, signing.Options{
					AllowedMethods: []string{http.MethodGet},
				}, s.cfg.MaxBodySize, s.audit))
				r.Get("/nextcloud/ping", integrationHandler.NextcloudPing)
			})

			// Client administration
			r.Route("/clients", func(r chi.Router) {
				r.Use(ownerAuth)
				r.Use(middleware.RequireAdmin())
				r.Get("/", clientHandler.List)
				r.Post("/", clientHandler.Create)
				r.Get("/{id}", clientHandler.Get)
				r.Patch("/{id}", clientHandler.Update)
				r.Post("/{id}/rotate-secret", clientHandler.RotateSecret)
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store and the
// nonce store are reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	probes := map[string]func(context.Context) error{
		"store": s.deps.Store.Ping,
		"nonce": s.deps.Nonces.Ping,
	}
	for name, ping := range probes {
		if err := ping(ctx); err != nil {
			checks[name] = "error: " + err.Error()
			status = "degraded"
		} else {
			checks[name] = "ok"
		}
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "hmac_mode", s.deps.Verifier.Mode())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Registry returns the server's metrics registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
