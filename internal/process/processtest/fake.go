// Package processtest provides an in-memory process table and launcher.
package processtest

import (
	"context"
	"errors"
	"sync"

	"github.com/loykin/hexanator/internal/process"
)

// Table is a fake process table. Pids are alive until killed or marked dead.
type Table struct {
	mu       sync.Mutex
	next     int
	alive    map[int]bool
	stubborn map[int]bool
	signals  map[int][]string
	// OnTerminate, when set, is called after a pid receives Terminate.
	OnTerminate func(pid int)
}

func NewTable() *Table {
	return &Table{next: 1000, alive: map[int]bool{}, stubborn: map[int]bool{}, signals: map[int][]string{}}
}

// Spawn allocates a new live pid.
func (t *Table) Spawn() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.alive[t.next] = true
	return t.next
}

// Exit marks pid dead, as if the process crashed.
func (t *Table) Exit(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.alive, pid)
}

// IgnoreSignals makes pid survive both Terminate and Kill.
func (t *Table) IgnoreSignals(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stubborn[pid] = true
}

// Signals returns the signals delivered to pid, in order.
func (t *Table) Signals(pid int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.signals[pid]...)
}

func (t *Table) IsAlive(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive[pid]
}

func (t *Table) Lookup(pid int) process.Handle { return handle{t: t, pid: pid} }

func (t *Table) signal(pid int, sig string) error {
	t.mu.Lock()
	if !t.alive[pid] {
		t.mu.Unlock()
		return process.ErrNotRunning
	}
	t.signals[pid] = append(t.signals[pid], sig)
	if !t.stubborn[pid] {
		delete(t.alive, pid)
	}
	cb := t.OnTerminate
	t.mu.Unlock()
	if sig == "TERM" && cb != nil {
		cb(pid)
	}
	return nil
}

type handle struct {
	t   *Table
	pid int
}

func (h handle) PID() int         { return h.pid }
func (h handle) Alive() bool      { return h.pid > 0 && h.t.IsAlive(h.pid) }
func (h handle) Terminate() error { return h.t.signal(h.pid, "TERM") }
func (h handle) Kill() error      { return h.t.signal(h.pid, "KILL") }

// Launcher allocates a pid from Table and hands it to Run in a goroutine,
// which plays the part of the child process.
type Launcher struct {
	Table *Table
	// Run receives the allocated pid; it should register in the ledger.
	Run func(ctx context.Context, name string, pid int)
	Err error

	mu       sync.Mutex
	launches map[string]int
	wg       sync.WaitGroup
}

var ErrLaunch = errors.New("processtest: launch failed")

func (l *Launcher) Launch(ctx context.Context, name string) (int, error) {
	if l.Err != nil {
		return 0, l.Err
	}
	pid := l.Table.Spawn()
	l.mu.Lock()
	if l.launches == nil {
		l.launches = map[string]int{}
	}
	l.launches[name]++
	l.mu.Unlock()
	if l.Run != nil {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.Run(context.WithoutCancel(ctx), name, pid)
		}()
	}
	return pid, nil
}

// Wait blocks until every Run started by Launch has returned.
func (l *Launcher) Wait() { l.wg.Wait() }

// Launches reports how many times name was launched.
func (l *Launcher) Launches(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches[name]
}
