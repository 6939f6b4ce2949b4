package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/loykin/hexanator/internal/history"
	"github.com/loykin/hexanator/internal/ledger"
	"github.com/loykin/hexanator/internal/metrics"
	"github.com/loykin/hexanator/internal/probe"
	"github.com/loykin/hexanator/internal/process"
)

const (
	DefaultStopGrace = time.Second
	DefaultKillWait  = time.Second
)

// Options wires a Supervisor. Ledger, Table, Launcher and Health are required.
type Options struct {
	Ledger   ledger.Ledger
	Table    process.Table
	Launcher process.Launcher
	Health   probe.HealthChecker
	Clock    clock.Clock
	Schedule probe.Schedule
	// Host is where servers are reached for health checks.
	Host      string
	StopGrace time.Duration
	KillWait  time.Duration
	History   *history.Fanout
	Logger    *slog.Logger
}

// Supervisor starts, stops and lists named recorder servers. All state lives
// in the ledger, so any number of supervisors in any number of processes may
// operate on the same names concurrently.
type Supervisor struct {
	ledger   ledger.Ledger
	table    process.Table
	launcher process.Launcher
	prober   *probe.Prober
	clock    clock.Clock
	grace    time.Duration
	killWait time.Duration
	history  *history.Fanout
	logger   *slog.Logger
}

func New(o Options) (*Supervisor, error) {
	if o.Ledger == nil || o.Table == nil || o.Launcher == nil || o.Health == nil {
		return nil, errors.New("supervisor: ledger, table, launcher and health checker are required")
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	if o.Schedule == (probe.Schedule{}) {
		o.Schedule = probe.DefaultSchedule()
	}
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.KillWait <= 0 {
		o.KillWait = DefaultKillWait
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Supervisor{
		ledger:   o.Ledger,
		table:    o.Table,
		launcher: o.Launcher,
		prober: &probe.Prober{
			Clock:    o.Clock,
			Schedule: o.Schedule,
			Health:   o.Health,
			Table:    o.Table,
			Host:     o.Host,
			Logger:   o.Logger,
			OnTransition: func(from, to probe.State) {
				metrics.RecordProbeTransition(from.String(), to.String())
			},
		},
		clock:    o.Clock,
		grace:    o.StopGrace,
		killWait: o.KillWait,
		history:  o.History,
		logger:   o.Logger,
	}, nil
}

// EnsureStarted makes sure a healthy server runs under name and returns its
// port. A server that is already running is confirmed, not relaunched.
func (s *Supervisor) EnsureStarted(ctx context.Context, name string) (int, error) {
	if err := ledger.ValidateName(name); err != nil {
		return 0, err
	}
	lg := s.logger.With("name", name)
	began := s.clock.Now()

	live, err := s.discardStale(ctx, name)
	if err != nil {
		metrics.IncStart(metrics.ResultError)
		return 0, err
	}

	if !live {
		launch := true
		err := s.ledger.Tx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			return tx.Insert(ctx, name)
		})
		switch {
		case errors.Is(err, ledger.ErrExists):
			lg.Debug("another caller is starting the server")
			launch = false
		case err != nil:
			metrics.IncStart(metrics.ResultError)
			return 0, fmt.Errorf("register %s: %w", name, err)
		}
		if launch {
			pid, err := s.launcher.Launch(ctx, name)
			if err != nil {
				metrics.IncStart(metrics.ResultFailed)
				if rerr := s.release(context.WithoutCancel(ctx), name); rerr != nil {
					lg.Warn("remove record after failed launch", "error", rerr)
				}
				return 0, fmt.Errorf("%w: launch %s: %w", ErrStartupFailed, name, err)
			}
			lg.Info("launched server", "pid", pid)
		}
	}

	port, err := s.prober.Wait(ctx, name, func(ctx context.Context) (ledger.Record, error) {
		return s.get(ctx, name)
	})
	switch {
	case err == nil:
	case errors.Is(err, probe.ErrTimedOut):
		metrics.IncStart(metrics.ResultTimeout)
		return 0, fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, probe.ErrFailed):
		metrics.IncStart(metrics.ResultFailed)
		return 0, fmt.Errorf("%w: %w", ErrStartupFailed, err)
	default:
		metrics.IncStart(metrics.ResultError)
		return 0, err
	}

	metrics.IncStart(metrics.ResultOK)
	metrics.ObserveStartDuration(s.clock.Now().Sub(began).Seconds())
	if !live {
		lg.Info("server ready", "port", port)
		s.history.Emit(ctx, history.Event{Type: history.EventStart, Name: name, Port: port})
	}
	return port, nil
}

// release deletes the name-only record inserted for a launch that failed.
// A record that has meanwhile been claimed by a process is kept.
func (s *Supervisor) release(ctx context.Context, name string) error {
	return s.ledger.Tx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		rec, err := tx.Get(ctx, name)
		if errors.Is(err, ledger.ErrNotFound) || (err == nil && rec.HasPID()) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.Delete(ctx, name)
	})
}

// discardStale removes a record whose process is gone, and any record that
// never received a pid. It reports whether a live process owns name.
func (s *Supervisor) discardStale(ctx context.Context, name string) (bool, error) {
	var (
		live  bool
		stale ledger.Record
	)
	err := s.ledger.Tx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		live, stale = false, ledger.Record{}
		rec, err := tx.Get(ctx, name)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.HasPID() && s.table.Lookup(rec.PID).Alive() {
			live = true
			return nil
		}
		if rec.HasPID() {
			stale = rec
		}
		return tx.Delete(ctx, name)
	})
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", name, err)
	}
	if stale.HasPID() {
		s.logger.Info("discarded stale record", "name", name, "pid", stale.PID)
		metrics.IncStale()
		s.history.Emit(ctx, history.Event{Type: history.EventStale, Name: name, PID: stale.PID, Port: stale.Port})
	}
	return live, nil
}

func (s *Supervisor) get(ctx context.Context, name string) (ledger.Record, error) {
	var rec ledger.Record
	err := s.ledger.Tx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		rec, err = tx.Get(ctx, name)
		return err
	})
	return rec, err
}

// EnsureStopped makes sure no server runs under name and its record is gone.
//
// A record without a pid is left alone: it belongs to a start in progress,
// and the server will come up regardless of this call.
func (s *Supervisor) EnsureStopped(ctx context.Context, name string) error {
	if err := ledger.ValidateName(name); err != nil {
		return err
	}
	lg := s.logger.With("name", name)

	var (
		pid   int
		found bool
	)
	err := s.ledger.Tx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		pid, found = 0, false
		rec, err := tx.Get(ctx, name)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if !rec.HasPID() {
			return nil
		}
		if !s.table.Lookup(rec.PID).Alive() {
			return tx.Delete(ctx, name)
		}
		pid = rec.PID
		return nil
	})
	if err != nil {
		metrics.IncStop(metrics.ResultError)
		return fmt.Errorf("inspect %s: %w", name, err)
	}
	if !found {
		metrics.IncStop(metrics.ResultNoop)
		return nil
	}
	if pid == 0 {
		lg.Debug("record has no pid yet, leaving it to the starter")
		metrics.IncStop(metrics.ResultNoop)
		return nil
	}

	h := s.table.Lookup(pid)
	if err := s.terminate(ctx, h); err != nil {
		if errors.Is(err, ErrConsistency) {
			lg.Error("server survived SIGKILL", "pid", pid)
			metrics.IncStop(metrics.ResultStuck)
		} else {
			metrics.IncStop(metrics.ResultError)
		}
		return err
	}

	err = s.ledger.Tx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.DeleteIfPID(ctx, name, pid)
	})
	if err != nil {
		metrics.IncStop(metrics.ResultError)
		return fmt.Errorf("remove %s: %w", name, err)
	}
	lg.Info("server stopped", "pid", pid)
	metrics.IncStop(metrics.ResultOK)
	s.history.Emit(ctx, history.Event{Type: history.EventStop, Name: name, PID: pid})
	return nil
}

// terminate sends SIGTERM, then SIGKILL after the grace period, and checks
// the process is gone after KillWait.
func (s *Supervisor) terminate(ctx context.Context, h process.Handle) error {
	if err := h.Terminate(); err != nil && !errors.Is(err, process.ErrNotRunning) {
		return fmt.Errorf("terminate pid %d: %w", h.PID(), err)
	}
	if err := s.sleep(ctx, s.grace); err != nil {
		return err
	}
	if !h.Alive() {
		return nil
	}
	if err := h.Kill(); err != nil && !errors.Is(err, process.ErrNotRunning) {
		return fmt.Errorf("kill pid %d: %w", h.PID(), err)
	}
	if err := s.sleep(ctx, s.killWait); err != nil {
		return err
	}
	if h.Alive() {
		return fmt.Errorf("%w: pid %d", ErrConsistency, h.PID())
	}
	return nil
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

// ListServerNames returns every name in the ledger, live or stale, sorted.
func (s *Supervisor) ListServerNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.ledger.Tx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		names, err = tx.Names(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	metrics.SetKnownServers(len(names))
	return names, nil
}
