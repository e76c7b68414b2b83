package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind names a notification type.
type EventKind string

const (
	// EventRegistered is emitted after a successful Register.
	EventRegistered EventKind = "registered"
	// EventOwnerConfirmed is emitted after a successful Verify.
	EventOwnerConfirmed EventKind = "owner_confirmed"
)

// Registered is the payload of an EventRegistered notification.
type Registered struct {
	Caller Identity  `json:"caller"`
	Key    RecordKey `json:"key"`
}

// OwnerConfirmed is the payload of an EventOwnerConfirmed notification.
type OwnerConfirmed struct {
	Owner []byte `json:"owner"`
}

// Event is the envelope handed to an EventSink. Exactly one of Registered and
// OwnerConfirmed is set, matching Kind.
type Event struct {
	ID             string          `json:"id"`
	Kind           EventKind       `json:"kind"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Registered     *Registered     `json:"registered,omitempty"`
	OwnerConfirmed *OwnerConfirmed `json:"owner_confirmed,omitempty"`
}

func newRegisteredEvent(caller Identity, key RecordKey, now time.Time) Event {
	return Event{
		ID:         uuid.New().String(),
		Kind:       EventRegistered,
		OccurredAt: now,
		Registered: &Registered{Caller: caller, Key: RecordKey(cloneBytes(key))},
	}
}

func newOwnerConfirmedEvent(owner []byte, now time.Time) Event {
	return Event{
		ID:             uuid.New().String(),
		Kind:           EventOwnerConfirmed,
		OccurredAt:     now,
		OwnerConfirmed: &OwnerConfirmed{Owner: cloneBytes(owner)},
	}
}

// EventSink receives notifications from the Registry. Hosts provide it.
type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

// NopSink drops every event.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(context.Context, Event) error { return nil }

// MemorySink keeps emitted events in order. It is safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements EventSink.
func (s *MemorySink) Emit(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// LogSink writes one structured log line per event.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements EventSink.
func (s LogSink) Emit(ctx context.Context, event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"event_id", event.ID, "kind", string(event.Kind)}
	switch {
	case event.Registered != nil:
		attrs = append(attrs, "caller", string(event.Registered.Caller), "key", event.Registered.Key.Abbrev())
	case event.OwnerConfirmed != nil:
		attrs = append(attrs, "owner", string(event.OwnerConfirmed.Owner))
	}
	logger.InfoContext(ctx, "Land registry event", attrs...)
	return nil
}

// MultiSink fans an event out to every sink. All sinks run; the errors are joined.
type MultiSink []EventSink

// Emit implements EventSink.
func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
