// Package cron re-runs reconcile jobs on a schedule, so a file of wanted
// names is converged on periodically by `hexanator serve`.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/hexanator/internal/reconcile"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is one scheduled reconcile. Schedule takes standard cron
// expressions with optional seconds and descriptors such as "@every 30s".
// A tick is skipped while the previous run of the same job is still busy.
type Job struct {
	Name     string
	Schedule string
	// File lists the wanted names, whitespace separated.
	File string
	// URLDir receives <name>.url files; the summary goes next to File.
	URLDir string

	running atomic.Bool
}

// Validate checks the fields that do not depend on the scheduler.
func (j *Job) Validate() error {
	if j.Name == "" {
		return errors.New("reconcile job requires a name")
	}
	if j.File == "" {
		return fmt.Errorf("reconcile job %s requires a file", j.Name)
	}
	if _, err := parser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("reconcile job %s: invalid schedule %q: %w", j.Name, j.Schedule, err)
	}
	return nil
}

// Scheduler runs reconcile jobs against one supervisor.
type Scheduler struct {
	sup    reconcile.Supervisor
	host   string
	logger *slog.Logger
	c      *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    []*Job
	started bool
}

// NewScheduler publishes URLs with host, like the CLI reconcile command.
func NewScheduler(sup reconcile.Supervisor, host string, lg *slog.Logger) *Scheduler {
	if lg == nil {
		lg = slog.Default()
	}
	return &Scheduler{
		sup:    sup,
		host:   host,
		logger: lg,
		c:      cron.New(cron.WithParser(parser)),
	}
}

func (s *Scheduler) Add(j *Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.jobs {
		if o.Name == j.Name {
			return fmt.Errorf("duplicate reconcile job %s", j.Name)
		}
	}
	if _, err := s.c.AddFunc(j.Schedule, func() { s.tick(j) }); err != nil {
		return fmt.Errorf("schedule reconcile job %s: %w", j.Name, err)
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start launches the scheduler. Runs use a context derived from ctx and
// cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.c.Start()
	for _, e := range s.c.Entries() {
		s.logger.Debug("reconcile job scheduled", "next", e.Next)
	}
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()
	<-s.c.Stop().Done()
}

func (s *Scheduler) tick(j *Job) {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Warn("reconcile job still running, tick skipped", "job", j.Name)
		return
	}
	defer j.running.Store(false)

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	began := time.Now()
	if err := s.Run(ctx, j); err != nil {
		s.logger.Error("reconcile job failed", "job", j.Name, "error", err)
		return
	}
	s.logger.Info("reconcile job done", "job", j.Name, "took", time.Since(began))
}

// Run performs one reconcile of j immediately. URLs of the servers that did
// start are published even when others failed.
func (s *Scheduler) Run(ctx context.Context, j *Job) error {
	wanted, err := reconcile.ReadWanted(j.File)
	if err != nil {
		return fmt.Errorf("read wanted names: %w", err)
	}
	ports, rerr := reconcile.Reconcile(ctx, s.sup, wanted, s.logger.With("job", j.Name))
	pub := reconcile.Publisher{Host: s.host, Dir: j.URLDir}
	if err := pub.Publish(reconcile.SummaryPath(j.File), ports); err != nil {
		return errors.Join(rerr, err)
	}
	return rerr
}
