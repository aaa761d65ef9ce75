//go:build functional

// Package functional runs the registry server on a real listener and drives
// it over HTTP and WebSocket.
package functional

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/reusepack/internal/auth"
	"github.com/vyrodovalexey/reusepack/internal/config"
	"github.com/vyrodovalexey/reusepack/internal/events"
	"github.com/vyrodovalexey/reusepack/internal/idgen"
	"github.com/vyrodovalexey/reusepack/internal/model"
	"github.com/vyrodovalexey/reusepack/internal/registry"
	"github.com/vyrodovalexey/reusepack/internal/server"
)

// Environment variable names for test configuration.
const (
	EnvTestServerHost = "TEST_SERVER_HOST"
	EnvTestTimeout    = "TEST_TIMEOUT"
)

// Default test configuration values.
const (
	DefaultTestHost         = "127.0.0.1"
	DefaultTestTimeout      = 30 * time.Second
	DefaultRequestTimeout   = 5 * time.Second
	DefaultWebSocketTimeout = 5 * time.Second
	DefaultShutdownTimeout  = 5 * time.Second
)

// TestConfig holds test configuration loaded from environment.
type TestConfig struct {
	Host    string
	Timeout time.Duration
}

// LoadTestConfig loads test configuration from environment variables.
func LoadTestConfig() *TestConfig {
	cfg := &TestConfig{
		Host:    DefaultTestHost,
		Timeout: DefaultTestTimeout,
	}

	if host := os.Getenv(EnvTestServerHost); host != "" {
		cfg.Host = host
	}

	if timeoutStr := os.Getenv(EnvTestTimeout); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.Timeout = timeout
		}
	}

	return cfg
}

// ServerOption adjusts the server config before start.
type ServerOption func(*config.Config)

// WithMaxBatchSize caps batch creation.
func WithMaxBatchSize(n int) ServerOption {
	return func(c *config.Config) { c.MaxBatchSize = n }
}

// TestServer wraps the server for testing purposes.
type TestServer struct {
	Server   *server.Server
	Registry registry.Registry
	Hub      *events.Hub
	BaseURL  string
	WSURL    string
	Port     int
	t        *testing.T
	mu       sync.Mutex
	started  bool
	testCfg  *TestConfig
}

// NewTestServer creates a registry server on a free port.
func NewTestServer(t *testing.T, authenticator auth.Authenticator, opts ...ServerOption) *TestServer {
	t.Helper()

	testCfg := LoadTestConfig()

	listener, err := net.Listen("tcp", net.JoinHostPort(testCfg.Host, "0"))
	if err != nil {
		t.Fatalf("Failed to find available port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	cfg := &config.Config{
		ServerPort:      port,
		LogLevel:        "error",
		ShutdownTimeout: DefaultShutdownTimeout,
		TLSClientAuth:   "none",
		IDStrategy:      "sequence",
		QRPrefix:        "FT",
		MaxBatchSize:    config.DefaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := zap.NewNop()
	gen, err := idgen.New(cfg.IDStrategy, cfg.QRPrefix)
	if err != nil {
		t.Fatalf("Failed to create id generator: %v", err)
	}
	hub := events.NewHub(logger)
	reg := registry.NewObservedRegistry(
		registry.NewMemoryRegistry(gen, registry.WithMaxBatchSize(cfg.MaxBatchSize)),
		hub,
		logger,
	)

	return &TestServer{
		Server:   server.New(cfg, logger, reg, hub, authenticator),
		Registry: reg,
		Hub:      hub,
		BaseURL:  fmt.Sprintf("http://%s", net.JoinHostPort(testCfg.Host, strconv.Itoa(port))),
		WSURL:    fmt.Sprintf("ws://%s", net.JoinHostPort(testCfg.Host, strconv.Itoa(port))),
		Port:     port,
		t:        t,
		testCfg:  testCfg,
	}
}

// Start starts the server and waits for /ready.
func (ts *TestServer) Start() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.started {
		return
	}

	go func() {
		if err := ts.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ts.t.Logf("Server error: %v", err)
		}
	}()

	ts.waitForReady()
	ts.started = true
	ts.t.Cleanup(ts.Stop)
}

func (ts *TestServer) waitForReady() {
	ctx, cancel := context.WithTimeout(context.Background(), ts.testCfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ts.t.Fatalf("Server did not become ready within timeout")
		case <-ticker.C:
			resp, err := http.Get(ts.BaseURL + "/ready")
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return
				}
			}
		}
	}
}

// Stop shuts the server down. Safe to call more than once.
func (ts *TestServer) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := ts.Server.Shutdown(ctx); err != nil {
		ts.t.Logf("Server shutdown error: %v", err)
	}
	_ = ts.Hub.Close()

	ts.started = false
}

// HTTPClient provides a configured HTTP client for tests.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	headers map[string]string
}

// NewHTTPClient creates a new HTTP client for testing. Headers are sent
// with every request.
func NewHTTPClient(baseURL string, headers map[string]string) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: DefaultRequestTimeout},
		baseURL: baseURL,
		headers: headers,
	}
}

// Response represents an HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Do executes an HTTP request and returns the response. A string body is
// sent verbatim; anything else is JSON encoded.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	var bodyReader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		bodyReader = bytes.NewBufferString(v)
	default:
		jsonBody, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

// MustDo is Do with a fresh timeout that fails the test on transport errors.
func (c *HTTPClient) MustDo(t *testing.T, method, path string, body any) *Response {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// DecodeData unmarshals the data field of a success envelope.
func DecodeData[T any](t *testing.T, resp *Response) T {
	t.Helper()

	var envelope model.APIResponse[T]
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		t.Fatalf("Failed to parse response %q: %v", resp.Body, err)
	}
	if !envelope.Success {
		t.Errorf("Expected success=true, got false. Error: %s", envelope.Error)
	}
	return envelope.Data
}

// DecodeError unmarshals an error body.
func DecodeError(t *testing.T, resp *Response) model.ErrorResponse {
	t.Helper()

	var errResp model.ErrorResponse
	if err := json.Unmarshal(resp.Body, &errResp); err != nil {
		t.Fatalf("Failed to parse error response %q: %v", resp.Body, err)
	}
	return errResp
}

// AssertStatusCode asserts that the response has the expected status code.
func AssertStatusCode(t *testing.T, resp *Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d. Body: %s", expected, resp.StatusCode, string(resp.Body))
	}
}

// BatchBody is a creation request with sensible defaults.
func BatchBody(itemType string, quantity int, storeID string) map[string]any {
	return map[string]any{
		"type":      itemType,
		"quantity":  quantity,
		"size":      "M",
		"material":  "pp",
		"status":    "available",
		"storeId":   storeID,
		"condition": "good",
		"maxReuses": 100,
	}
}

// LogTestStart logs the start of a test.
func LogTestStart(t *testing.T, testID, testName string) {
	t.Helper()
	t.Logf("Starting test %s: %s", testID, testName)
}
