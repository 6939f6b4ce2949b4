package process

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestExecLauncher_Command(t *testing.T) {
	l := &ExecLauncher{Executable: "/usr/bin/hexanator", Args: []string{"--config", "/etc/hx.toml"}}
	cmd := l.Command("aa")
	want := []string{"/usr/bin/hexanator", "--config", "/etc/hx.toml", "run", "--", "aa"}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Fatalf("args = %v, want %v", cmd.Args, want)
	}
	if cmd.SysProcAttr == nil {
		t.Fatalf("expected detached process attributes")
	}
	// Args must not be aliased by repeated calls
	_ = l.Command("bb")
	if !reflect.DeepEqual(l.Args, []string{"--config", "/etc/hx.toml"}) {
		t.Fatalf("launcher args mutated: %v", l.Args)
	}
}

func TestExecLauncher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := &ExecLauncher{Executable: "/nonexistent"}
	if _, err := l.Launch(ctx, "aa"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestExecLauncher_MissingExecutable(t *testing.T) {
	l := &ExecLauncher{Executable: filepath.Join(t.TempDir(), "missing")}
	if _, err := l.Launch(context.Background(), "aa"); err == nil {
		t.Fatalf("expected start error")
	}
}

func TestOpenOutput(t *testing.T) {
	f, err := openOutput("")
	if err != nil {
		t.Fatalf("devnull: %v", err)
	}
	_ = f.Close()

	p := filepath.Join(t.TempDir(), "aa.stdout.log")
	for i := 0; i < 2; i++ {
		f, err := openOutput(p)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		_, _ = f.WriteString("line\n")
		_ = f.Close()
	}
	b, _ := os.ReadFile(p)
	if string(b) != "line\nline\n" {
		t.Fatalf("expected appended output, got %q", b)
	}
}

func TestOpenOutputCreatesDir(t *testing.T) {
	p := filepath.Join(t.TempDir(), "logs", "nested", "aa.stdout.log")
	f, err := openOutput(p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = f.Close()
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("output file: %v", err)
	}
}

func TestOpenOutputErrorNamesPathOnce(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(blocker, "aa.stdout.log")
	_, err := openOutput(p)
	if err == nil {
		t.Fatalf("expected error when the parent is a file")
	}
	if n := strings.Count(err.Error(), blocker); n != 1 {
		t.Fatalf("path repeated %d times in %q", n, err)
	}
}

func TestOSTable_SelfAndInvalid(t *testing.T) {
	var tab OSTable
	if !tab.Lookup(os.Getpid()).Alive() {
		t.Fatalf("own pid must be alive")
	}
	h := tab.Lookup(0)
	if h.Alive() {
		t.Fatalf("pid 0 must not be alive")
	}
	if err := h.Terminate(); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}
