package hexanator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/loykin/hexanator/internal/config"
)

type launchFunc func(ctx context.Context, name string) (int, error)

func (f launchFunc) Launch(ctx context.Context, name string) (int, error) { return f(ctx, name) }

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	c := DefaultConfig()
	c.Ledger.DSN = "sqlite://" + filepath.Join(dir, "server.db")
	c.DataDir = filepath.Join(dir, "data")
	c.Host = "127.0.0.1"
	return c
}

func openTest(t *testing.T, c Config) *Supervisor {
	t.Helper()
	s, err := Open(context.Background(), c, Options{
		Launcher: launchFunc(func(context.Context, string) (int, error) {
			t.Error("unexpected launch")
			return 0, errors.New("launch disabled in test")
		}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Ledger.DSN = ""
	_, err := Open(context.Background(), c, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.dsn")
}

func TestEmptyLedger(t *testing.T) {
	s := openTest(t, testConfig(t))
	ctx := context.Background()

	names, err := s.ListServerNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.EnsureStopped(ctx, "nobody"))

	_, err = s.EnsureStarted(ctx, "../etc")
	assert.True(t, errors.Is(err, ErrInvalidName))
}

// RunServer in this process owns the name with a live pid, so EnsureStarted
// confirms it through the health check without launching anything.
func TestRunServerIsConfirmedNotRelaunched(t *testing.T) {
	s := openTest(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunServer(ctx, "aa") }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})

	require.Eventually(t, func() bool {
		names, err := s.ListServerNames(context.Background())
		return err == nil && len(names) == 1
	}, 5*time.Second, 10*time.Millisecond)

	port, err := s.EnsureStarted(context.Background(), "aa")
	require.NoError(t, err)
	require.Positive(t, port)

	resp, err := http.Post("http://127.0.0.1:"+strconv.Itoa(port)+"/hook?x=1", "application/json", strings.NewReader(`{"k":"v"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	arts, err := s.Artifacts("aa")
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, http.MethodPost, arts[0].Method)
	assert.JSONEq(t, `{"k":"v"}`, string(arts[0].JSON))
}

func TestControlAPI(t *testing.T) {
	s := openTest(t, testConfig(t))
	srv, err := s.NewHTTPServer()
	require.NoError(t, err)
	require.Nil(t, srv.TLSConfig)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/servers")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Names []string `json:"names"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Names)
}

func TestPublisherURL(t *testing.T) {
	s := openTest(t, testConfig(t))
	assert.Equal(t, "http://127.0.0.1:4100/", s.Publisher("").URL(4100))
}

func TestNewScheduler(t *testing.T) {
	c := testConfig(t)
	s := openTest(t, c)
	sched, err := s.NewScheduler()
	require.NoError(t, err)
	assert.Nil(t, sched)

	c.ReconcileJobs = []cfg.ReconcileJobConfig{{Name: "w", Schedule: "@every 1m", File: "wanted.txt"}}
	s = openTest(t, c)
	sched, err = s.NewScheduler()
	require.NoError(t, err)
	assert.NotNil(t, sched)
}

func TestOpenWithAuthRequiresValidHash(t *testing.T) {
	c := testConfig(t)
	c.Server.Auth.Enabled = true
	c.Server.Auth.Username = "ops"
	c.Server.Auth.PasswordHash = "plain"
	_, err := Open(context.Background(), c, Options{})
	assert.Error(t, err)
}
