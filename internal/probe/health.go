package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultHealthPath    = "/internal-health-check"
	DefaultHealthTimeout = time.Second
)

// ErrUnhealthy is returned for a non-2xx health response.
var ErrUnhealthy = errors.New("health check failed")

// HealthChecker confirms that a server listening on host:port answers.
type HealthChecker interface {
	Check(ctx context.Context, host string, port int) error
}

// HTTPChecker issues GET http://host:port/Path and accepts any 2xx.
type HTTPChecker struct {
	Path    string
	Timeout time.Duration
	Client  *http.Client
}

func NewHTTPChecker(path string, timeout time.Duration) *HTTPChecker {
	if path == "" {
		path = DefaultHealthPath
	}
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	return &HTTPChecker{Path: path, Timeout: timeout, Client: &http.Client{}}
}

// URL returns the health endpoint for host:port.
func (h *HTTPChecker) URL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + h.Path
}

func (h *HTTPChecker) Check(ctx context.Context, host string, port int) error {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL(host, port), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}
