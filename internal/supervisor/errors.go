package supervisor

import "errors"

var (
	// ErrTimeout means the server did not become healthy within the probe
	// schedule. The caller may retry.
	ErrTimeout = errors.New("server did not become ready in time")
	// ErrStartupFailed means the launched process died or could not be
	// launched. Retrying is unlikely to help.
	ErrStartupFailed = errors.New("server failed to start")
	// ErrConsistency means a process survived SIGKILL. It is never retried.
	ErrConsistency = errors.New("server still alive after kill")
)
