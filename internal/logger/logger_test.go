package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriter_WithDir(t *testing.T) {
	dir := t.TempDir()
	cfg := FileConfig{Dir: dir}
	w := cfg.Writer("demo")
	if w == nil {
		t.Fatalf("expected writer when Dir is set")
	}
	_, _ = w.Write([]byte("hello\n"))
	_ = w.Close()
	if _, err := os.Stat(filepath.Join(dir, "demo.log")); err != nil {
		t.Fatalf("server log not created: %v", err)
	}
}

func TestFileWriter_Defaults(t *testing.T) {
	if w := (FileConfig{}).Writer("n"); w != nil {
		t.Fatalf("expected nil writer without Dir")
	}
	w := FileConfig{Dir: t.TempDir()}.Writer("n")
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("expected lumberjack logger, got %T", w)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", l)
	}
}

func TestOutputPaths(t *testing.T) {
	out, errp := FileConfig{}.OutputPaths("aa")
	if out != "" || errp != "" {
		t.Fatalf("expected empty paths without Dir")
	}
	out, errp = FileConfig{Dir: "/var/log/hx"}.OutputPaths("aa")
	if out != filepath.Join("/var/log/hx", "aa.stdout.log") || errp != filepath.Join("/var/log/hx", "aa.stderr.log") {
		t.Fatalf("unexpected paths %q %q", out, errp)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).With("name", "aa")
	l.Warn("careful")
	l.WithGroup("req").Error("failed", "code", 500)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "\x1b[33mWARN\x1b[0m ") {
		t.Fatalf("expected a raw ESC colored prefix, got %q", lines[0])
	}
	if !strings.Contains(lines[0], "msg=careful") || !strings.Contains(lines[0], "name=aa") {
		t.Fatalf("unexpected output: %q", lines[0])
	}
	if strings.Contains(lines[0], `\x1b`) || strings.Contains(lines[0], "level=") {
		t.Fatalf("color codes or level leaked into the text: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "\x1b[31mERROR\x1b[0m ") || !strings.Contains(lines[1], "req.code=500") {
		t.Fatalf("unexpected output: %q", lines[1])
	}
}

func TestNewProcessLogger(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Slog: SlogConfig{Level: LevelDebug, Format: FormatJSON}, File: FileConfig{Dir: dir}}
	l := cfg.NewProcessLogger("bb")
	if l == nil {
		t.Fatalf("expected process logger")
	}
	l.Debug("bound", "port", 1234)
	b, err := os.ReadFile(filepath.Join(dir, "bb.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"name":"bb"`) || !strings.Contains(string(b), `"port":1234`) {
		t.Fatalf("unexpected log content: %s", b)
	}
	if (Config{}).NewProcessLogger("bb") != nil {
		t.Fatalf("expected nil logger without Dir")
	}
}
