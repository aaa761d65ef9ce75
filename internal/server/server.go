// Package server wires the registry API, change feed and probes into HTTP
// listeners.
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/reusepack/internal/auth"
	"github.com/vyrodovalexey/reusepack/internal/config"
	"github.com/vyrodovalexey/reusepack/internal/events"
	"github.com/vyrodovalexey/reusepack/internal/handler"
	"github.com/vyrodovalexey/reusepack/internal/middleware"
	"github.com/vyrodovalexey/reusepack/internal/registry"
)

const limiterSweepInterval = time.Minute

// Server runs the API listener and, when a probe port is configured, a
// separate unauthenticated probe listener.
type Server struct {
	httpServer    *http.Server
	probeServer   *http.Server
	router        *mux.Router
	probeRouter   *mux.Router
	config        *config.Config
	logger        *zap.Logger
	authenticator auth.Authenticator
	probes        *handler.ProbeHandler
	feed          *handler.FeedHandler
	limiter       *middleware.RateLimiter
	sweepCtx      context.Context
	stopSweeper   context.CancelFunc
	initErr       error
}

// New creates a Server serving reg and streaming hub. A nil authenticator
// leaves the API open.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	reg registry.Registry,
	hub *events.Hub,
	authenticator auth.Authenticator,
) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		probeRouter:   mux.NewRouter(),
		config:        cfg,
		logger:        logger,
		authenticator: authenticator,
		probes:        handler.NewProbeHandler(logger),
	}
	s.sweepCtx, s.stopSweeper = context.WithCancel(context.Background())

	if cfg.RateLimitEnabled {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	s.setupMiddleware()
	s.setupRoutes(reg, hub)
	s.setupProbeRoutes()
	s.setupHTTPServer()
	s.setupProbeServer()

	return s
}

// setupMiddleware configures the middleware chain; the first one is outermost.
func (s *Server) setupMiddleware() {
	s.router.Use(mux.MiddlewareFunc(middleware.Recovery(s.logger)))
	s.router.Use(mux.MiddlewareFunc(middleware.RequestID()))

	if s.config.MetricsEnabled {
		s.router.Use(mux.MiddlewareFunc(middleware.Metrics()))
	}

	s.router.Use(mux.MiddlewareFunc(middleware.Logging(s.logger)))

	if s.authenticator != nil && s.authenticator.Method() != auth.AuthMethodNone {
		s.router.Use(mux.MiddlewareFunc(middleware.Auth(s.authenticator, s.logger)))
	}

	// Limiting after auth keys budgets by subject where one is known.
	if s.limiter != nil {
		s.router.Use(mux.MiddlewareFunc(middleware.RateLimit(s.limiter, s.logger)))
	}
}

func (s *Server) setupRoutes(reg registry.Registry, hub *events.Hub) {
	s.probes.RegisterRoutes(s.router)

	handler.NewRESTHandler(reg, s.logger).RegisterRoutes(s.router)

	s.feed = handler.NewFeedHandler(hub, s.logger)
	s.feed.RegisterRoutes(s.router)

	if s.config.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}

// setupProbeRoutes fills the probe router. It is built even without a probe
// port so the routes can be exercised directly.
func (s *Server) setupProbeRoutes() {
	s.probeRouter.Use(mux.MiddlewareFunc(middleware.Recovery(s.logger)))
	s.probes.RegisterRoutes(s.probeRouter)

	if s.config.MetricsEnabled {
		s.probeRouter.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}

// corsHandler wraps the router so preflight requests are answered even
// though no route matches OPTIONS.
func (s *Server) corsHandler() http.Handler {
	allowedOrigins := []string{"*"}
	allowedMethods := []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
	}
	allowedHeaders := []string{
		"Content-Type",
		"Authorization",
		auth.APIKeyHeader,
		middleware.RequestIDHeader,
	}

	return middleware.CORS(allowedOrigins, allowedMethods, allowedHeaders)(s.router)
}

func (s *Server) setupHTTPServer() {
	s.httpServer = &http.Server{
		Addr:              s.config.Address(),
		Handler:           s.corsHandler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	if !s.config.TLSEnabled {
		return
	}

	tlsConfig, err := s.buildTLSConfig()
	if err != nil {
		s.initErr = err
		return
	}
	s.httpServer.TLSConfig = tlsConfig
}

func (s *Server) setupProbeServer() {
	if s.config.ProbePort == 0 {
		return
	}

	s.probeServer = &http.Server{
		Addr:              s.config.ProbeAddress(),
		Handler:           s.probeRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// buildTLSConfig loads the server key pair and, if configured, the CA used
// to verify client certificates.
func (s *Server) buildTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.config.TLSCertPath, s.config.TLSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading TLS key pair: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	switch s.config.TLSClientAuth {
	case "require":
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	case "request":
		tlsConfig.ClientAuth = tls.RequestClientCert
	default:
		tlsConfig.ClientAuth = tls.NoClientCert
	}

	if s.config.TLSCAPath != "" {
		caPEM, err := os.ReadFile(s.config.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("reading TLS CA cert: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("parsing TLS CA cert: no valid certificates in %s", s.config.TLSCAPath)
		}
		tlsConfig.ClientCAs = pool
	}

	return tlsConfig, nil
}

// Start binds the API listener, marks the service ready and serves until
// Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	if s.initErr != nil {
		return fmt.Errorf("server initialization: %w", s.initErr)
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}

	if s.limiter != nil {
		go s.limiter.Run(s.sweepCtx, limiterSweepInterval)
	}

	s.logger.Info("starting server",
		zap.String("address", ln.Addr().String()),
		zap.Bool("tls_enabled", s.config.TLSEnabled),
		zap.Bool("metrics_enabled", s.config.MetricsEnabled),
		zap.Bool("rate_limit_enabled", s.limiter != nil),
	)
	s.probes.SetReady(true)

	if s.config.TLSEnabled {
		err = s.httpServer.ServeTLS(ln, "", "")
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server serve: %w", err)
	}

	return nil
}

// StartProbe serves the probe listener. It returns immediately when no
// probe port is configured.
func (s *Server) StartProbe() error {
	if s.probeServer == nil {
		return nil
	}

	s.logger.Info("starting probe server", zap.String("address", s.probeServer.Addr))

	if err := s.probeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("probe server listen and serve: %w", err)
	}

	return nil
}

// Shutdown marks the service not ready, closes feed connections and then
// drains both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.probes.SetReady(false)
	s.stopSweeper()

	// Hijacked connections are not tracked by http.Server.
	s.feed.CloseAllConnections()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if s.probeServer != nil {
		if err := s.probeServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("probe server shutdown: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// SetReady overrides the readiness reported by /ready.
func (s *Server) SetReady(ready bool) {
	s.probes.SetReady(ready)
}

// Handler returns the full API handler including CORS.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Router returns the server's router for testing purposes.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ProbeRouter returns the probe router for testing purposes.
func (s *Server) ProbeRouter() *mux.Router {
	return s.probeRouter
}
