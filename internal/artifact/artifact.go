// Package artifact stores the requests captured by recorder servers, one
// JSON document per request.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/hexanator/internal/ledger"
)

// Artifact is one recorded request.
type Artifact struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Body       string            `json:"body"`
	JSON       json.RawMessage   `json:"json"`
	Headers    map[string]string `json:"headers,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Entry locates a stored artifact without reading it.
type Entry struct {
	Path       string    `json:"path"`
	ReceivedAt time.Time `json:"received_at"`
}

// Store writes artifacts as <dir>/<name>-<unix seconds>.<nanoseconds>.json.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store { return &Store{Dir: dir} }

// Ensure creates the data directory.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", s.Dir, err)
	}
	return nil
}

// ParseBody returns body as JSON when it parses, nil otherwise.
func ParseBody(body []byte) json.RawMessage {
	if len(body) == 0 || !json.Valid(body) {
		return nil
	}
	return json.RawMessage(append([]byte(nil), body...))
}

func fileName(name string, t time.Time, suffix string) string {
	ts := strconv.FormatInt(t.Unix(), 10) + "." + fmt.Sprintf("%09d", t.Nanosecond())
	if suffix != "" {
		ts += "-" + suffix
	}
	return name + "-" + ts + ".json"
}

var tsPattern = regexp.MustCompile(`^(\d+)\.(\d{9})(?:-[0-9a-f]{8})?\.json$`)

// Write stores a, filling ID and ReceivedAt when unset, and returns the file
// path. Files are created exclusively; a clash on the timestamp falls back to
// a name carrying part of the artifact id.
func (s *Store) Write(a *Artifact) (string, error) {
	if err := ledger.ValidateName(a.Name); err != nil {
		return "", err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = time.Now()
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	p := filepath.Join(s.Dir, fileName(a.Name, a.ReceivedAt, ""))
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		p = filepath.Join(s.Dir, fileName(a.Name, a.ReceivedAt, strings.ReplaceAll(a.ID, "-", "")[:8]))
		f, err = os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write artifact %s: %w", p, err)
	}
	return p, f.Close()
}

// List returns the artifacts recorded for name, oldest first.
func (s *Store) List(name string) ([]Entry, error) {
	if err := ledger.ValidateName(name); err != nil {
		return nil, err
	}
	des, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	prefix := name + "-"
	var out []Entry
	for _, de := range des {
		fn := de.Name()
		if de.IsDir() || !strings.HasPrefix(fn, prefix) {
			continue
		}
		// "a-1.2.json" must not be listed for "a" when "a-1" exists, so the
		// remainder has to be exactly a timestamp.
		m := tsPattern.FindStringSubmatch(fn[len(prefix):])
		if m == nil {
			continue
		}
		sec, _ := strconv.ParseInt(m[1], 10, 64)
		nsec, _ := strconv.ParseInt(m[2], 10, 64)
		out = append(out, Entry{Path: filepath.Join(s.Dir, fn), ReceivedAt: time.Unix(sec, nsec)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].Path < out[j].Path
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

// Read loads one artifact file.
func (s *Store) Read(path string) (Artifact, error) {
	var a Artifact
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return a, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	return a, nil
}

// Load reads every artifact recorded for name, oldest first.
func (s *Store) Load(name string) ([]Artifact, error) {
	entries, err := s.List(name)
	if err != nil {
		return nil, err
	}
	out := make([]Artifact, 0, len(entries))
	for _, e := range entries {
		a, err := s.Read(e.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
