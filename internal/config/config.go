// Package config loads the registry server settings from APP_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every variable name, e.g. APP_SERVER_PORT.
const EnvPrefix = "APP"

// Defaults mirrored by the struct tags below.
const (
	DefaultServerPort      = 8080
	DefaultProbePort       = 9090
	DefaultLogLevel        = "info"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultAuthMode        = "none"
	DefaultTLSClientAuth   = "none"
	DefaultIDStrategy      = "uuid"
	DefaultQRPrefix        = "PKG"
	DefaultMaxBatchSize    = 500
	DefaultKafkaTopic      = "packaging-events"
)

// Config holds the process configuration.
type Config struct {
	ServerPort      int           `envconfig:"SERVER_PORT" default:"8080"`
	ProbePort       int           `envconfig:"PROBE_PORT" default:"9090"` // 0 disables the probe listener
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	MetricsEnabled  bool          `envconfig:"METRICS_ENABLED" default:"true"`

	// none, mtls, jwt, basic, apikey or multi.
	AuthMode string `envconfig:"AUTH_MODE" default:"none"`

	TLSEnabled    bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCertPath   string `envconfig:"TLS_CERT_PATH"`
	TLSKeyPath    string `envconfig:"TLS_KEY_PATH"`
	TLSCAPath     string `envconfig:"TLS_CA_PATH"`
	TLSClientAuth string `envconfig:"TLS_CLIENT_AUTH" default:"none"`

	JWTSecret   string `envconfig:"JWT_SECRET"`
	JWTIssuer   string `envconfig:"JWT_ISSUER"`
	JWTAudience string `envconfig:"JWT_AUDIENCE"`

	// "user1:bcrypt_hash,user2:bcrypt_hash"
	BasicAuthUsers string `envconfig:"BASIC_AUTH_USERS"`
	// "key1:owner1,key2:owner2"
	APIKeys string `envconfig:"API_KEYS"`

	RateLimitEnabled bool    `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitRPS     float64 `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst   int     `envconfig:"RATE_LIMIT_BURST" default:"100"`

	IDStrategy   string `envconfig:"ID_STRATEGY" default:"uuid"`
	QRPrefix     string `envconfig:"QR_PREFIX" default:"PKG"`
	MaxBatchSize int    `envconfig:"MAX_BATCH_SIZE" default:"500"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"packaging-events"`
}

var (
	ErrInvalidServerPort      = errors.New("server port must be between 1 and 65535")
	ErrInvalidProbePort       = errors.New("probe port must be between 0 and 65535")
	ErrProbePortConflict      = errors.New("probe port must differ from server port")
	ErrInvalidLogLevel        = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrInvalidAuthMode        = errors.New("auth mode must be one of: none, mtls, jwt, basic, apikey, multi")
	ErrInvalidTLSClientAuth   = errors.New("TLS client auth must be one of: none, request, require")
	ErrInvalidTLSCertRequired = errors.New("TLS cert path and key path must be set when TLS is enabled")
	ErrInvalidTLSCARequired   = errors.New("TLS CA path must be set when TLS client auth is require")
	ErrInvalidMTLSConfig      = errors.New("TLS with client auth request or require must be enabled when auth mode is mtls")
	ErrInvalidJWTConfig       = errors.New("JWT secret must be set when auth mode is jwt")
	ErrInvalidBasicAuthConfig = errors.New("basic auth users must be set when auth mode is basic")
	ErrInvalidAPIKeyConfig    = errors.New("API keys must be set when auth mode is apikey")
	ErrInvalidMultiAuthConfig = errors.New("at least one auth config must be provided when auth mode is multi")
	ErrInvalidRateLimit       = errors.New("rate limit rps and burst must be positive when rate limiting is enabled")
	ErrInvalidIDStrategy      = errors.New("id strategy must be one of: uuid, sequence")
	ErrInvalidMaxBatchSize    = errors.New("max batch size must be positive")
	ErrInvalidKafkaTopic      = errors.New("kafka topic must be set when kafka brokers are configured")
)

var (
	logLevels      = []string{"debug", "info", "warn", "error"}
	authModes      = []string{"none", "mtls", "jwt", "basic", "apikey", "multi"}
	tlsClientAuths = []string{"none", "request", "require"}
	idStrategies   = []string{"uuid", "sequence"}
)

// Load reads APP_* variables over the defaults and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateServer,
		c.validateTLS,
		c.validateAuth,
		c.validateRegistry,
		c.validateRateLimit,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return ErrInvalidServerPort
	}
	if c.ProbePort < 0 || c.ProbePort > 65535 {
		return ErrInvalidProbePort
	}
	if c.ProbePort != 0 && c.ProbePort == c.ServerPort {
		return ErrProbePortConflict
	}
	if !slices.Contains(logLevels, c.LogLevel) {
		return ErrInvalidLogLevel
	}
	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}
	return nil
}

func (c *Config) validateTLS() error {
	clientAuth := orDefault(c.TLSClientAuth, DefaultTLSClientAuth)
	if !slices.Contains(tlsClientAuths, clientAuth) {
		return ErrInvalidTLSClientAuth
	}
	if c.TLSEnabled && (c.TLSCertPath == "" || c.TLSKeyPath == "") {
		return ErrInvalidTLSCertRequired
	}
	if clientAuth == "require" && c.TLSCAPath == "" {
		return ErrInvalidTLSCARequired
	}
	return nil
}

func (c *Config) validateAuth() error {
	mode := c.EffectiveAuthMode()
	if !slices.Contains(authModes, mode) {
		return ErrInvalidAuthMode
	}

	switch mode {
	case "mtls":
		if !c.TLSEnabled || orDefault(c.TLSClientAuth, DefaultTLSClientAuth) == "none" {
			return ErrInvalidMTLSConfig
		}
	case "jwt":
		if c.JWTSecret == "" {
			return ErrInvalidJWTConfig
		}
	case "basic":
		if c.BasicAuthUsers == "" {
			return ErrInvalidBasicAuthConfig
		}
	case "apikey":
		if c.APIKeys == "" {
			return ErrInvalidAPIKeyConfig
		}
	case "multi":
		if c.JWTSecret == "" && c.BasicAuthUsers == "" && c.APIKeys == "" && !c.TLSEnabled {
			return ErrInvalidMultiAuthConfig
		}
	}
	return nil
}

func (c *Config) validateRegistry() error {
	if !slices.Contains(idStrategies, orDefault(c.IDStrategy, DefaultIDStrategy)) {
		return ErrInvalidIDStrategy
	}
	if c.MaxBatchSize <= 0 {
		return ErrInvalidMaxBatchSize
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return ErrInvalidKafkaTopic
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return ErrInvalidRateLimit
	}
	return nil
}

// EffectiveAuthMode returns the auth mode, treating empty as "none".
func (c *Config) EffectiveAuthMode() string {
	return orDefault(c.AuthMode, DefaultAuthMode)
}

// KafkaEnabled reports whether change events are exported to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Address returns the API listen address.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

// ProbeAddress returns the probe listen address.
func (c *Config) ProbeAddress() string {
	return fmt.Sprintf(":%d", c.ProbePort)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
