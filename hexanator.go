// Package hexanator is the embeddable facade over the recorder-server
// supervisor. It wires a Config into a ledger, a launcher, a readiness
// prober, history sinks and the artifact store.
package hexanator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/hexanator/internal/artifact"
	"github.com/loykin/hexanator/internal/auth"
	cfg "github.com/loykin/hexanator/internal/config"
	"github.com/loykin/hexanator/internal/cron"
	"github.com/loykin/hexanator/internal/history"
	hfactory "github.com/loykin/hexanator/internal/history/factory"
	"github.com/loykin/hexanator/internal/ledger"
	lfactory "github.com/loykin/hexanator/internal/ledger/factory"
	"github.com/loykin/hexanator/internal/metrics"
	"github.com/loykin/hexanator/internal/probe"
	"github.com/loykin/hexanator/internal/process"
	"github.com/loykin/hexanator/internal/reconcile"
	"github.com/loykin/hexanator/internal/recorder"
	iapi "github.com/loykin/hexanator/internal/server"
	"github.com/loykin/hexanator/internal/supervisor"
	hxtls "github.com/loykin/hexanator/internal/tls"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Artifact = artifact.Artifact

var (
	ErrInvalidName    = ledger.ErrInvalidName
	ErrTimeout        = supervisor.ErrTimeout
	ErrStartupFailed  = supervisor.ErrStartupFailed
	ErrConsistency    = supervisor.ErrConsistency
	ErrAlreadyRunning = recorder.ErrAlreadyRunning
)

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }
func DefaultConfig() Config                  { return cfg.Default() }

// Options tune Open. The zero value launches the running executable.
type Options struct {
	// ChildArgs precede "run -- <name>" on the child command line,
	// typically "--config <path>".
	ChildArgs []string
	// Launcher replaces the exec launcher.
	Launcher process.Launcher
	// Table replaces the OS process table.
	Table  process.Table
	Logger *slog.Logger
}

// Supervisor is an opened supervisor together with everything it owns.
type Supervisor struct {
	cfg     Config
	ledger  ledger.Ledger
	table   process.Table
	sup     *supervisor.Supervisor
	store   *artifact.Store
	history *history.Fanout
	auth    *auth.Service
	logger  *slog.Logger
}

// Open validates c, opens the ledger and creates its schema.
func Open(ctx context.Context, c Config, o Options) (*Supervisor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	lg := o.Logger
	if lg == nil {
		lg = c.Logger().NewSlogger()
	}
	table := o.Table
	if table == nil {
		table = process.OSTable{}
	}

	launcher := o.Launcher
	if launcher == nil {
		el, err := process.NewExecLauncher(o.ChildArgs, c.Logger().File.OutputPaths, lg)
		if err != nil {
			return nil, err
		}
		childEnv, err := c.ChildEnv()
		if err != nil {
			return nil, fmt.Errorf("child environment: %w", err)
		}
		el.Env = childEnv
		launcher = el
	}

	var authSvc *auth.Service
	if c.Server.Auth.Enabled {
		svc, err := auth.NewService(c.Server.Auth)
		if err != nil {
			return nil, err
		}
		authSvc = svc
	}

	led, err := lfactory.NewFromDSN(c.Ledger.DSN)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := led.EnsureSchema(ctx); err != nil {
		_ = led.Close()
		return nil, fmt.Errorf("ledger schema: %w", err)
	}

	sinks, err := hfactory.NewSinksFromDSNs(c.HistoryDSNs())
	if err != nil {
		_ = led.Close()
		return nil, fmt.Errorf("history sinks: %w", err)
	}
	fan := history.NewFanout(lg, sinks...)

	sup, err := supervisor.New(supervisor.Options{
		Ledger:    led,
		Table:     table,
		Launcher:  launcher,
		Health:    probe.NewHTTPChecker(c.Health.Path, c.Health.Timeout),
		Schedule:  c.Backoff,
		Host:      c.Host,
		StopGrace: c.Stop.Grace,
		KillWait:  c.Stop.KillWait,
		History:   fan,
		Logger:    lg,
	})
	if err != nil {
		_ = fan.Close()
		_ = led.Close()
		return nil, err
	}
	return &Supervisor{
		cfg:     c,
		ledger:  led,
		table:   table,
		sup:     sup,
		store:   artifact.NewStore(c.DataDir),
		history: fan,
		auth:    authSvc,
		logger:  lg,
	}, nil
}

func (s *Supervisor) EnsureStarted(ctx context.Context, name string) (int, error) {
	return s.sup.EnsureStarted(ctx, name)
}

func (s *Supervisor) EnsureStopped(ctx context.Context, name string) error {
	return s.sup.EnsureStopped(ctx, name)
}

func (s *Supervisor) ListServerNames(ctx context.Context) ([]string, error) {
	return s.sup.ListServerNames(ctx)
}

// Reconcile stops every known name not in names and starts the rest.
func (s *Supervisor) Reconcile(ctx context.Context, names []string) (map[string]int, error) {
	return reconcile.Reconcile(ctx, s.sup, names, s.logger)
}

// Artifacts loads every request recorded for name, oldest first.
func (s *Supervisor) Artifacts(name string) ([]Artifact, error) {
	if err := ledger.ValidateName(name); err != nil {
		return nil, err
	}
	return s.store.Load(name)
}

// Publisher builds base URLs for started servers; dir may be empty.
func (s *Supervisor) Publisher(dir string) reconcile.Publisher {
	return reconcile.Publisher{Host: s.cfg.Host, Dir: dir}
}

// RunServer serves name from the calling process until ctx is cancelled.
// This is the body of the launched child.
func (s *Supervisor) RunServer(ctx context.Context, name string) error {
	lg := s.cfg.Logger().NewProcessLogger(name)
	if lg == nil {
		lg = s.logger
	}
	return recorder.Run(ctx, recorder.Options{
		Name:       name,
		Ledger:     s.ledger,
		Store:      s.store,
		Table:      s.table,
		HealthPath: s.cfg.Health.Path,
		Logger:     lg,
	})
}

// Router returns the control API; metricsHandler may be nil.
func (s *Supervisor) Router(metricsHandler http.Handler) *iapi.Router {
	return iapi.NewRouter(iapi.Options{
		Supervisor: s.sup,
		Store:      s.store,
		Publisher:  s.Publisher(""),
		Metrics:    metricsHandler,
		Auth:       s.auth,
		BasePath:   s.cfg.Server.BasePath,
		Logger:     s.logger,
	})
}

// NewHTTPServer returns an unstarted server for the control API on
// Server.Listen. /metrics is mounted when metrics are enabled without a
// dedicated listener. TLSConfig is set when server.tls is enabled; start
// such a server with ListenAndServeTLS("", "").
func (s *Supervisor) NewHTTPServer() (*http.Server, error) {
	var mh http.Handler
	if s.cfg.Metrics.Enabled && s.cfg.Metrics.Listen == "" {
		mh = metrics.Handler()
	}
	srv := iapi.NewServer(s.cfg.Server.Listen, s.Router(mh))
	tlsCfg, err := hxtls.Setup(s.cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("server tls: %w", err)
	}
	srv.TLSConfig = tlsCfg
	return srv, nil
}

// NewScheduler returns a scheduler loaded with the configured reconcile
// jobs, or nil when there are none.
func (s *Supervisor) NewScheduler() (*cron.Scheduler, error) {
	if len(s.cfg.ReconcileJobs) == 0 {
		return nil, nil
	}
	sched := cron.NewScheduler(s.sup, s.cfg.Host, s.logger)
	for _, j := range s.cfg.ReconcileJobs {
		if err := sched.Add(j.Job()); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func (s *Supervisor) Logger() *slog.Logger { return s.logger }

func (s *Supervisor) Config() Config { return s.cfg }

func (s *Supervisor) Close() error {
	return errors.Join(s.history.Close(), s.ledger.Close())
}

// Metrics helpers

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewMetricsServer returns an unstarted server exposing /metrics from the
// default registry.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
