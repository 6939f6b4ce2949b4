package process

import "errors"

// ErrNotRunning is returned by Terminate and Kill when the pid no longer
// names a process.
var ErrNotRunning = errors.New("process not running")

// Handle is the OS-level capability for one pid: a non-destructive liveness
// probe plus graceful and forced termination.
type Handle interface {
	PID() int
	Alive() bool
	Terminate() error
	Kill() error
}

// Table resolves pids into handles. Tests substitute a fake process table.
type Table interface {
	Lookup(pid int) Handle
}

// OSTable resolves pids against the running operating system.
type OSTable struct{}

func (OSTable) Lookup(pid int) Handle { return osHandle{pid: pid} }

type osHandle struct{ pid int }

func (h osHandle) PID() int { return h.pid }

// Alive reports whether the pid names a live process. Zombies count as dead.
func (h osHandle) Alive() bool { return h.pid > 0 && processExists(h.pid) }

func (h osHandle) Terminate() error { return terminateProcess(h.pid) }

func (h osHandle) Kill() error { return killProcess(h.pid) }
