// Package env composes the environment handed to launched recorder servers.
package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Compose applies, in order: base (usually os.Environ()), the KEY=VALUE
// lines of every file in files, then overrides. ${VAR} references are
// expanded once against the composed map. The result is sorted.
func Compose(base []string, files []string, overrides []string) ([]string, error) {
	m := make(Var)
	setPairs(m, base)
	for _, p := range files {
		pairs, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	setPairs(m, overrides)

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out, nil
}

// ParseFile reads a .env file: KEY=VALUE lines, no export, no quotes.
// Lines starting with # are ignored.
func ParseFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok && strings.TrimSpace(k) != "" {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return m, nil
}

func setPairs(m Var, kvs []string) {
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string { return m[k] })
}
