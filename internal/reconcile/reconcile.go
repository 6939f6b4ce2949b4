// Package reconcile converges the ledger onto a wanted set of server names
// and publishes the resulting base URLs.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/loykin/hexanator/internal/ledger"
	"github.com/loykin/hexanator/internal/supervisor"
)

// Supervisor is the subset of *supervisor.Supervisor used here.
type Supervisor interface {
	EnsureStarted(ctx context.Context, name string) (int, error)
	EnsureStopped(ctx context.Context, name string) error
	ListServerNames(ctx context.Context) ([]string, error)
}

// Reconcile stops every known name that is not wanted, then starts every
// wanted name. Failures are collected and returned together; a process that
// survived SIGKILL aborts the run.
func Reconcile(ctx context.Context, sup Supervisor, wanted []string, lg *slog.Logger) (map[string]int, error) {
	if lg == nil {
		lg = slog.Default()
	}
	want := make(map[string]bool, len(wanted))
	for _, n := range wanted {
		if err := ledger.ValidateName(n); err != nil {
			return nil, err
		}
		want[n] = true
	}

	known, err := sup.ListServerNames(ctx)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, n := range known {
		if want[n] {
			continue
		}
		if err := sup.EnsureStopped(ctx, n); err != nil {
			if errors.Is(err, supervisor.ErrConsistency) {
				return nil, err
			}
			lg.Warn("stop failed", "name", n, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", n, err))
		}
	}

	ports := make(map[string]int, len(want))
	for _, n := range sortedKeys(want) {
		port, err := sup.EnsureStarted(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				return ports, errors.Join(append(errs, err)...)
			}
			lg.Warn("start failed", "name", n, "error", err)
			errs = append(errs, fmt.Errorf("start %s: %w", n, err))
			continue
		}
		ports[n] = port
	}
	return ports, errors.Join(errs...)
}

// ReadWanted reads whitespace separated names from path. Duplicates are
// dropped and the result is sorted.
func ReadWanted(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	set := map[string]bool{}
	for _, f := range strings.Fields(string(b)) {
		set[f] = true
	}
	return sortedKeys(set), nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Publisher writes base URLs for started servers.
type Publisher struct {
	Host string
	// Dir receives one <name>.url file per server.
	Dir string
}

// URL is the base URL of a server listening on port.
func (p Publisher) URL(port int) string {
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + strconv.Itoa(port) + "/"
}

// URLs maps every name to its base URL.
func (p Publisher) URLs(ports map[string]int) map[string]string {
	out := make(map[string]string, len(ports))
	for n, port := range ports {
		out[n] = p.URL(port)
	}
	return out
}

// SummaryPath returns input with its extension replaced by ".out".
func SummaryPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".out"
}

// Publish writes "name: url" lines to summary (when non-empty) and a
// <Dir>/<name>.url file per server.
func (p Publisher) Publish(summary string, ports map[string]int) error {
	return p.WriteURLs(summary, p.URLs(ports))
}

// WriteURLs is Publish for callers that already hold base URLs.
func (p Publisher) WriteURLs(summary string, urls map[string]string) error {
	names := make([]string, 0, len(urls))
	for n := range urls {
		names = append(names, n)
	}
	sort.Strings(names)

	if summary != "" {
		lines := make([]string, 0, len(names))
		for _, n := range names {
			lines = append(lines, n+": "+urls[n])
		}
		if err := os.WriteFile(summary, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	dir := p.Dir
	if dir == "" {
		dir = "."
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n+".url"), []byte(urls[n]), 0o644); err != nil {
			return fmt.Errorf("write url for %s: %w", n, err)
		}
	}
	return nil
}
