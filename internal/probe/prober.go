package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/juju/clock"

	"github.com/loykin/hexanator/internal/ledger"
	"github.com/loykin/hexanator/internal/process"
)

var (
	// ErrTimedOut is returned when the schedule is exhausted before the
	// server became ready.
	ErrTimedOut = errors.New("probe: timed out")
	// ErrFailed is returned when the registered pid is no longer alive.
	ErrFailed = errors.New("probe: server process died")
)

// ReadFunc loads the current record for the probed name.
// ledger.ErrNotFound is treated like a record without pid.
type ReadFunc func(ctx context.Context) (ledger.Record, error)

// Prober waits for a freshly launched server to register and answer its
// health check.
type Prober struct {
	Clock    clock.Clock
	Schedule Schedule
	Health   HealthChecker
	Table    process.Table
	Host     string
	Logger   *slog.Logger
	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

type run struct {
	p     *Prober
	state State
	lg    *slog.Logger
}

func (r *run) to(s State) {
	if s == r.state {
		return
	}
	r.lg.Debug("probe state", "from", r.state.String(), "state", s.String())
	if r.p.OnTransition != nil {
		r.p.OnTransition(r.state, s)
	}
	r.state = s
}

// Wait runs the state machine for name and returns the port once the
// health check succeeds.
func (p *Prober) Wait(ctx context.Context, name string, read ReadFunc) (int, error) {
	lg := p.Logger
	if lg == nil {
		lg = slog.Default()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	r := &run{p: p, state: Starting, lg: lg.With("name", name)}

	for _, delay := range p.Schedule.Delays() {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-clk.After(delay):
		}

		rec, err := read(ctx)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return 0, fmt.Errorf("read %s: %w", name, err)
		}
		if !rec.HasPID() {
			r.to(WaitingForPid)
			continue
		}
		if !p.Table.Lookup(rec.PID).Alive() {
			r.to(Failed)
			return 0, fmt.Errorf("%w: %s pid %d", ErrFailed, name, rec.PID)
		}
		if !rec.HasPort() {
			r.to(WaitingForPort)
			continue
		}
		r.to(HealthChecking)
		if err := p.Health.Check(ctx, p.Host, rec.Port); err != nil {
			r.lg.Debug("health check not passing", "port", rec.Port, "delay", delay, "error", err)
			continue
		}
		r.to(Ready)
		return rec.Port, nil
	}
	r.to(TimedOut)
	return 0, fmt.Errorf("%w: %s after %s", ErrTimedOut, name, p.Schedule.Total())
}
