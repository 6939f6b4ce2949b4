// Package recorder is the body of a supervised server process: it registers
// itself in the ledger, publishes an ephemeral port and records every
// request it receives as an artifact.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/loykin/hexanator/internal/artifact"
	"github.com/loykin/hexanator/internal/ledger"
	"github.com/loykin/hexanator/internal/metrics"
	"github.com/loykin/hexanator/internal/probe"
	"github.com/loykin/hexanator/internal/process"
)

// ErrAlreadyRunning is returned when another live process owns the name.
var ErrAlreadyRunning = errors.New("server already running under this name")

const (
	maxBodyBytes    = 10 << 20
	shutdownTimeout = 5 * time.Second
)

type Options struct {
	Name   string
	Ledger ledger.Ledger
	Store  *artifact.Store
	// Table checks whether a previous owner of the name is still alive.
	Table process.Table
	// PID is recorded as the owner; zero means os.Getpid().
	PID int
	// ListenAddr defaults to ":0", an OS-assigned port on all interfaces.
	ListenAddr string
	HealthPath string
	Logger     *slog.Logger
	// OnListening, when set, is called once the port is published.
	OnListening func(port int)
}

// Run serves until ctx is cancelled.
func Run(ctx context.Context, o Options) error {
	if err := ledger.ValidateName(o.Name); err != nil {
		return err
	}
	if o.Ledger == nil || o.Store == nil {
		return errors.New("recorder: ledger and artifact store are required")
	}
	if o.Table == nil {
		o.Table = process.OSTable{}
	}
	if o.PID == 0 {
		o.PID = os.Getpid()
	}
	if o.ListenAddr == "" {
		o.ListenAddr = ":0"
	}
	if o.HealthPath == "" {
		o.HealthPath = probe.DefaultHealthPath
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	lg := o.Logger.With("name", o.Name, "pid", o.PID)

	if err := o.Store.Ensure(); err != nil {
		return err
	}
	if err := claim(ctx, o); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", o.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", o.ListenAddr, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	e := newEcho(o, lg)
	e.Listener = ln
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start("") }()

	err = o.Ledger.Tx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.SetPort(ctx, o.Name, port)
	})
	if err != nil {
		_ = e.Close()
		return fmt.Errorf("publish port %d: %w", port, err)
	}
	lg.Info("listening", "port", port)
	if o.OnListening != nil {
		o.OnListening(port)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
	lg.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		_ = e.Close()
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// claim takes ownership of the name unless another live process holds it.
func claim(ctx context.Context, o Options) error {
	return o.Ledger.Tx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		rec, err := tx.Get(ctx, o.Name)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		if rec.HasPID() && rec.PID != o.PID && o.Table.Lookup(rec.PID).Alive() {
			return fmt.Errorf("%w: %s owned by pid %d", ErrAlreadyRunning, o.Name, rec.PID)
		}
		return tx.Claim(ctx, o.Name, o.PID)
	})
}

func newEcho(o Options, lg *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h := &handler{name: o.Name, store: o.Store, healthPath: o.HealthPath, logger: lg}
	e.Any("/", h.serve)
	e.Any("/*", h.serve)
	return e
}

type handler struct {
	name       string
	store      *artifact.Store
	healthPath string
	logger     *slog.Logger
}

func (h *handler) serve(c echo.Context) error {
	req := c.Request()
	if req.URL.Path == h.healthPath {
		return c.NoContent(http.StatusOK)
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		h.logger.Debug("read body", "error", err)
	}
	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		headers[k] = req.Header.Get(k)
	}
	a := &artifact.Artifact{
		Name:    h.name,
		Method:  req.Method,
		Path:    req.RequestURI,
		Body:    string(body),
		JSON:    artifact.ParseBody(body),
		Headers: headers,
	}
	p, err := h.store.Write(a)
	if err != nil {
		h.logger.Error("record request", "method", a.Method, "path", a.Path, "error", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	metrics.IncRecorderRequest(h.name, req.Method)
	h.logger.Info("recorded request", "method", a.Method, "path", a.Path, "artifact", p)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res.Header().Set(echo.HeaderContentLength, "0")
	res.WriteHeader(http.StatusOK)
	return nil
}
