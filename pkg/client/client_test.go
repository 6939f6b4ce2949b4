package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/hexanator/internal/auth"
	"github.com/loykin/hexanator/internal/ledger"
	"github.com/loykin/hexanator/internal/reconcile"
	"github.com/loykin/hexanator/internal/server"
	"github.com/loykin/hexanator/internal/supervisor"
	hxtls "github.com/loykin/hexanator/internal/tls"
)

type stubSup struct {
	mu    sync.Mutex
	ports map[string]int
	fail  map[string]error
}

func (s *stubSup) EnsureStarted(_ context.Context, name string) (int, error) {
	if err := ledger.ValidateName(name); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[name]; err != nil {
		return 0, err
	}
	if p, ok := s.ports[name]; ok {
		return p, nil
	}
	p := 42000 + len(s.ports)
	s.ports[name] = p
	return p, nil
}

func (s *stubSup) EnsureStopped(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ports, name)
	return nil
}

func (s *stubSup) ListServerNames(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ports))
	for n := range s.ports {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func newTestClient(t *testing.T, sup *stubSup) *Client {
	t.Helper()
	r := server.NewRouter(server.Options{
		Supervisor: sup,
		Publisher:  reconcile.Publisher{Host: "127.0.0.1"},
		BasePath:   "/api",
	})
	ts := httptest.NewServer(r.Handler())
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL + "/api"})
}

func TestStartStopList(t *testing.T) {
	sup := &stubSup{ports: map[string]int{}, fail: map[string]error{}}
	c := newTestClient(t, sup)
	ctx := context.Background()

	require.True(t, c.IsReachable(ctx))

	res, err := c.Start(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, "aa", res.Name)
	assert.Equal(t, 42000, res.Port)
	assert.Equal(t, "http://127.0.0.1:42000/", res.URL)

	again, err := c.Start(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, res.Port, again.Port)

	names, err := c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa"}, names)

	require.NoError(t, c.Stop(ctx, "aa"))
	names, err = c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStartErrorsCarryStatus(t *testing.T) {
	sup := &stubSup{ports: map[string]int{}, fail: map[string]error{
		"slow": fmt.Errorf("%w: slow", supervisor.ErrTimeout),
	}}
	c := newTestClient(t, sup)

	_, err := c.Start(context.Background(), "slow")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "slow")

	_, err = c.Start(context.Background(), "a..b")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestReconcilePartialFailure(t *testing.T) {
	sup := &stubSup{ports: map[string]int{"old": 41999}, fail: map[string]error{
		"bad": fmt.Errorf("%w: bad", supervisor.ErrStartupFailed),
	}}
	c := newTestClient(t, sup)

	res, err := c.Reconcile(context.Background(), []string{"bad", "good"})
	require.Error(t, err)
	assert.Contains(t, res.Servers, "good")
	assert.NotContains(t, res.Servers, "bad")
	assert.NotContains(t, res.Servers, "old")
	assert.NotEmpty(t, res.Error)
}

func TestArtifactsWithoutStore(t *testing.T) {
	c := newTestClient(t, &stubSup{ports: map[string]int{}, fail: map[string]error{}})
	_, err := c.Artifacts(context.Background(), "aa")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()
	c := New(Config{BaseURL: ts.URL})
	assert.False(t, c.IsReachable(context.Background()))
}

func TestSetupClientTLS(t *testing.T) {
	cfg, err := setupClientTLS(Config{Insecure: true})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	cfg, err = setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, ServerName: "hx.local"}})
	require.NoError(t, err)
	assert.Equal(t, "hx.local", cfg.ServerName)
	assert.False(t, cfg.InsecureSkipVerify)

	_, err = setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, CACert: "/nonexistent/ca.pem"}})
	assert.Error(t, err)
}

func newStub() *stubSup {
	return &stubSup{ports: map[string]int{}, fail: map[string]error{}}
}

func TestLoginAndBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := auth.NewService(auth.Config{Username: "ops", PasswordHash: string(hash), JWTSecret: "k"})
	require.NoError(t, err)
	r := server.NewRouter(server.Options{Supervisor: newStub(), Auth: svc, BasePath: "/api"})
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()
	ctx := context.Background()

	anon := New(Config{BaseURL: ts.URL + "/api"})
	assert.False(t, anon.IsReachable(ctx))
	_, err = anon.List(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = anon.Login(ctx, "ops", "bad")
	require.Error(t, err)
	tok, err := anon.Login(ctx, "ops", "pw")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Value)
	assert.True(t, anon.IsReachable(ctx))

	basic := New(Config{BaseURL: ts.URL + "/api", Username: "ops", Password: "pw"})
	_, err = basic.Start(ctx, "aa")
	require.NoError(t, err)
}

func TestTLSWithGeneratedCA(t *testing.T) {
	dir := t.TempDir()
	tlsCfg, err := hxtls.Setup(hxtls.Options{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)

	r := server.NewRouter(server.Options{Supervisor: newStub(), BasePath: "/api"})
	srv := &http.Server{Handler: r.Handler(), TLSConfig: tlsCfg}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.ServeTLS(ln, "", "") }()
	defer func() { _ = srv.Close() }()

	base := "https://" + ln.Addr().String() + "/api"
	c := New(Config{BaseURL: base, TLS: &TLSClientConfig{
		Enabled: true,
		CACert:  filepath.Join(dir, hxtls.CACertFile),
	}})
	names, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)

	untrusted := New(Config{BaseURL: base})
	_, err = untrusted.List(context.Background())
	assert.Error(t, err)
}
