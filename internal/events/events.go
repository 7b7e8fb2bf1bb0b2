package events

import (
	"context"
	"sync"
	"time"
)

// Type names a lifecycle event. Keep stable; consumers key on these.
type Type string

const (
	TypeCallStarted Type = "call.started"
	TypeCallEnded   Type = "call.ended"
)

// Event is the wire shape published for call lifecycle changes.
type Event struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	ProspectID      int64     `json:"prospect_id"`
	CallAttemptID   string    `json:"call_attempt_id"`
	CallerID        int64     `json:"caller_id"`
	State           string    `json:"state"`
	Outcome         string    `json:"outcome,omitempty"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Publisher delivers lifecycle events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
