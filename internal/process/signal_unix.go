//go:build !windows

package process

import (
	"errors"
	"slices"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// processExists probes pid with signal 0. EPERM still means the pid exists.
func processExists(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	// An exited but unreaped child still answers signal 0.
	return !isZombie(pid)
}

func terminateProcess(pid int) error { return signal(pid, syscall.SIGTERM) }

func killProcess(pid int) error { return signal(pid, syscall.SIGKILL) }

func signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return ErrNotRunning
	}
	if err := syscall.Kill(pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrNotRunning
		}
		return err
	}
	return nil
}

// isZombie reports whether pid has exited and waits to be reaped.
func isZombie(pid int) bool {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	st, err := p.Status()
	if err != nil {
		return false
	}
	return slices.Contains(st, gopsproc.Zombie)
}
