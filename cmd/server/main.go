// Package main is the entry point for the packaging registry server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/reusepack/internal/auth"
	"github.com/vyrodovalexey/reusepack/internal/config"
	"github.com/vyrodovalexey/reusepack/internal/events"
	"github.com/vyrodovalexey/reusepack/internal/idgen"
	"github.com/vyrodovalexey/reusepack/internal/registry"
	"github.com/vyrodovalexey/reusepack/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		// Use a basic logger for startup errors
		basicLogger, _ := zap.NewProduction()
		basicLogger.Error("failed to load configuration", zap.Error(err))
		return 1
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		basicLogger, _ := zap.NewProduction()
		basicLogger.Error("failed to initialize logger", zap.Error(err))
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("configuration loaded",
		zap.Int("server_port", cfg.ServerPort),
		zap.Int("probe_port", cfg.ProbePort),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("shutdown_timeout", cfg.ShutdownTimeout),
		zap.Bool("metrics_enabled", cfg.MetricsEnabled),
		zap.String("auth_mode", cfg.EffectiveAuthMode()),
		zap.Bool("tls_enabled", cfg.TLSEnabled),
		zap.Bool("rate_limit_enabled", cfg.RateLimitEnabled),
		zap.String("id_strategy", cfg.IDStrategy),
		zap.Bool("kafka_enabled", cfg.KafkaEnabled()),
	)

	authenticator, err := createAuthenticator(cfg, logger)
	if err != nil {
		logger.Error("failed to create authenticator", zap.Error(err))
		return 1
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("failed to create registry", zap.Error(err))
		return 1
	}
	defer func() {
		if err := app.publisher.Close(); err != nil {
			logger.Error("failed to close event publishers", zap.Error(err))
		}
	}()

	srv := server.New(cfg, logger, app.registry, app.hub, authenticator)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, srv, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

// runner is the part of *server.Server driven by serve.
type runner interface {
	Start() error
	StartProbe() error
	Shutdown(ctx context.Context) error
}

// serve runs both listeners until ctx is cancelled or one of them fails,
// then shuts down within cfg.ShutdownTimeout.
func serve(ctx context.Context, srv runner, cfg *config.Config, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	g.Go(srv.StartProbe)
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}

		//nolint:contextcheck // gctx is already done here
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// app holds the registry stack shared by the HTTP handlers.
type app struct {
	registry  registry.Registry
	hub       *events.Hub
	publisher events.Publisher
}

// newApp builds the in-memory registry and the sinks its change events go
// to: the WebSocket hub always, Kafka when brokers are configured.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	gen, err := idgen.New(cfg.IDStrategy, cfg.QRPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating id generator: %w", err)
	}

	hub := events.NewHub(logger.Named("hub"))
	sinks := []events.Publisher{hub}

	if cfg.KafkaEnabled() {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger.Named("kafka"))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("creating kafka publisher: %w", err), hub.Close())
		}
		sinks = append(sinks, kp)
		logger.Info("exporting change events to kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}

	publisher := events.NewMultiPublisher(sinks...)
	store := registry.NewMemoryRegistry(gen, registry.WithMaxBatchSize(cfg.MaxBatchSize))

	return &app{
		registry:  registry.NewObservedRegistry(store, publisher, logger.Named("registry")),
		hub:       hub,
		publisher: publisher,
	}, nil
}

// initLogger initializes a zap logger with the specified log level.
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapConfig.Build()
}

// createAuthenticator creates an authenticator based on the config auth mode.
// It returns nil when authentication is disabled.
func createAuthenticator(
	cfg *config.Config,
	logger *zap.Logger,
) (auth.Authenticator, error) {
	switch cfg.EffectiveAuthMode() {
	case "none":
		logger.Info("authentication disabled")
		return nil, nil
	case "mtls":
		logger.Info("authentication mode: mTLS")
		return auth.NewMTLSAuthenticator(), nil
	case "jwt":
		logger.Info("authentication mode: JWT bearer",
			zap.String("issuer", cfg.JWTIssuer),
			zap.String("audience", cfg.JWTAudience),
		)
		ba, err := newBearerAuthenticator(cfg)
		if err != nil {
			return nil, err
		}
		return ba, nil
	case "basic":
		logger.Info("authentication mode: basic auth")
		ba, err := auth.NewBasicAuthenticator(cfg.BasicAuthUsers)
		if err != nil {
			return nil, fmt.Errorf("creating basic authenticator: %w", err)
		}
		return ba, nil
	case "apikey":
		logger.Info("authentication mode: API key")
		ak, err := auth.NewAPIKeyAuthenticator(cfg.APIKeys)
		if err != nil {
			return nil, fmt.Errorf("creating API key authenticator: %w", err)
		}
		return ak, nil
	case "multi":
		logger.Info("authentication mode: multi")
		return createMultiAuthenticator(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.AuthMode)
	}
}

func newBearerAuthenticator(cfg *config.Config) (*auth.BearerAuthenticator, error) {
	verifier, err := auth.NewHMACVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	return auth.NewBearerAuthenticator(verifier), nil
}

// createMultiAuthenticator chains every scheme that has configuration.
// Bearer tokens are tried first, then client certificates, basic auth
// and API keys.
func createMultiAuthenticator(
	cfg *config.Config,
	logger *zap.Logger,
) (auth.Authenticator, error) {
	var authenticators []auth.Authenticator

	if cfg.JWTSecret != "" {
		ba, err := newBearerAuthenticator(cfg)
		if err != nil {
			return nil, err
		}
		authenticators = append(authenticators, ba)
		logger.Info("multi-auth: JWT bearer enabled")
	}

	if cfg.TLSEnabled && cfg.TLSClientAuth != "" && cfg.TLSClientAuth != "none" {
		authenticators = append(authenticators, auth.NewMTLSAuthenticator())
		logger.Info("multi-auth: mTLS enabled")
	}

	if cfg.BasicAuthUsers != "" {
		ba, err := auth.NewBasicAuthenticator(cfg.BasicAuthUsers)
		if err != nil {
			return nil, fmt.Errorf("creating basic authenticator: %w", err)
		}
		authenticators = append(authenticators, ba)
		logger.Info("multi-auth: basic auth enabled")
	}

	if cfg.APIKeys != "" {
		ak, err := auth.NewAPIKeyAuthenticator(cfg.APIKeys)
		if err != nil {
			return nil, fmt.Errorf("creating API key authenticator: %w", err)
		}
		authenticators = append(authenticators, ak)
		logger.Info("multi-auth: API key auth enabled")
	}

	if len(authenticators) == 0 {
		return nil, errors.New("multi auth mode requires at least one authenticator")
	}

	return auth.NewChain(authenticators...), nil
}
