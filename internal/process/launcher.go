package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// Launcher spawns the server process for a name and returns its pid.
// The spawned process registers itself in the ledger; Launch does not wait
// for that.
type Launcher interface {
	Launch(ctx context.Context, name string) (int, error)
}

// ExecLauncher re-executes Executable as "<Executable> <Args...> run -- <name>"
// detached from the caller: new session, stdin closed, stdout/stderr appended
// to plain files so the child keeps running after the launcher exits.
type ExecLauncher struct {
	Executable string
	// Args are inserted before the run subcommand (e.g. --config path).
	Args []string
	// Env, when non-nil, is the complete child environment.
	Env []string
	// OutputPaths returns the stdout/stderr files for name. Empty paths
	// discard the stream.
	OutputPaths func(name string) (stdout, stderr string)
	Logger      *slog.Logger
}

// NewExecLauncher launches the currently running executable.
func NewExecLauncher(args []string, outputs func(string) (string, string), lg *slog.Logger) (*ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ExecLauncher{Executable: exe, Args: args, OutputPaths: outputs, Logger: lg}, nil
}

// Command builds the child command line without starting it.
func (l *ExecLauncher) Command(name string) *exec.Cmd {
	args := append(append([]string{}, l.Args...), "run", "--", name)
	// not exec.CommandContext: the child must outlive ctx.
	cmd := exec.Command(l.Executable, args...)
	if l.Env != nil {
		cmd.Env = l.Env
	}
	configureSysProcAttr(cmd)
	return cmd
}

func (l *ExecLauncher) Launch(ctx context.Context, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var outPath, errPath string
	if l.OutputPaths != nil {
		outPath, errPath = l.OutputPaths(name)
	}
	stdout, err := openOutput(outPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stdout.Close() }()
	stderr, err := openOutput(errPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stderr.Close() }()

	cmd := l.Command(name)
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start server %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	l.logger().Debug("launched server process", "name", name, "pid", pid)
	// reap so an exited child does not linger as a zombie of this process
	go func() {
		err := cmd.Wait()
		l.logger().Debug("server process exited", "name", name, "pid", pid, "error", err)
	}()
	return pid, nil
}

func (l *ExecLauncher) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func openOutput(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
