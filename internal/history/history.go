package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	// EventStart is emitted once a server answered its health check.
	EventStart EventType = "start"
	// EventStop is emitted after a confirmed shutdown.
	EventStop EventType = "stop"
	// EventStale is emitted when a record whose process was gone is discarded.
	EventStale EventType = "stale"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	PID        int       `json:"pid,omitempty"`
	Port       int       `json:"port,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Fanout delivers every event to all sinks. Delivery is best-effort: errors
// are logged and never returned to the caller.
type Fanout struct {
	Sinks  []Sink
	Logger *slog.Logger
}

func NewFanout(lg *slog.Logger, sinks ...Sink) *Fanout {
	return &Fanout{Sinks: sinks, Logger: lg}
}

func (f *Fanout) Emit(ctx context.Context, e Event) {
	if f == nil || len(f.Sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range f.Sinks {
		if err := s.Send(ctx, e); err != nil && f.Logger != nil {
			f.Logger.Warn("history sink failed", "name", e.Name, "type", string(e.Type), "error", err)
		}
	}
}

// Close closes every sink that implements io.Closer.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.Sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
