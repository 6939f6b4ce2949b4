package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
)

// Client talks to the hexanator control API served by `hexanator serve`.
type Client struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	username string
	password string

	mu    sync.RWMutex
	token string
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
	// Token is sent as a bearer token; Login replaces it.
	Token string
	// Username and Password are sent as Basic credentials when no token is set.
	Username string
	Password string
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// APIError is returned for any non-2xx answer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

const DefaultBaseURL = "http://localhost:8080/api"

// DefaultConfig returns default client configuration. The timeout covers a
// full start, which may wait out the whole readiness schedule.
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 30 * time.Second,
	}
}

// New creates a new API client with optional TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL:  config.BaseURL,
		logger:   config.Logger,
		username: config.Username,
		password: config.Password,
		token:    config.Token,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// Login exchanges credentials for a bearer token used by later calls.
func (c *Client) Login(ctx context.Context, username, password string) (Token, error) {
	data, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return Token{}, fmt.Errorf("marshal request: %w", err)
	}
	var tok Token
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/auth/login", data, &tok); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.token = tok.Value
	c.mu.Unlock()
	return tok, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/servers", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", ok, "status", resp.StatusCode)
	return ok
}

// Start ensures the named server runs and returns where it listens.
func (c *Client) Start(ctx context.Context, name string) (StartResponse, error) {
	var out StartResponse
	err := c.do(ctx, http.MethodPut, c.serverURL(name), nil, &out)
	return out, err
}

func (c *Client) Stop(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, c.serverURL(name), nil, nil)
}

// List returns every name the ledger knows about, running or stale.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var out listResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/servers", nil, &out); err != nil {
		return nil, err
	}
	return out.Names, nil
}

// Reconcile makes the running set equal names. A partial failure returns
// both the response and an *APIError.
func (c *Client) Reconcile(ctx context.Context, names []string) (ReconcileResponse, error) {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(reconcileRequest{Names: names})
	if err != nil {
		return ReconcileResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	var out ReconcileResponse
	err = c.do(ctx, http.MethodPost, c.baseURL+"/reconcile", data, &out)
	return out, err
}

func (c *Client) Artifacts(ctx context.Context, name string) ([]Artifact, error) {
	var out []Artifact
	if err := c.do(ctx, http.MethodGet, c.serverURL(name)+"/artifacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) serverURL(name string) string {
	return c.baseURL + "/servers/" + url.PathEscape(name)
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// do performs the request and decodes the JSON answer into out when out is
// non-nil. Error answers are decoded into out as well, so partial results
// survive.
func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return c.handleErrorResponse(resp.StatusCode, raw, out)
}

func (c *Client) authorize(req *http.Request) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	switch {
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(status int, raw []byte, out any) error {
	var errorResp ErrorResponse
	if err := json.Unmarshal(raw, &errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", status)
		return &APIError{StatusCode: status}
	}
	if out != nil {
		_ = json.Unmarshal(raw, out)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", status)
	return &APIError{StatusCode: status, Message: errorResp.Error}
}
