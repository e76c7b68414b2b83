package fabric

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360studio/landledger/registry"
)

// Chaincode event names, one per registry.EventKind.
const (
	EventLandRecordStored = "LandRecordStored"
	EventOwnerVerified    = "OwnerVerified"
)

// EventName maps an event kind to its chaincode event name.
func EventName(kind registry.EventKind) (string, error) {
	switch kind {
	case registry.EventRegistered:
		return EventLandRecordStored, nil
	case registry.EventOwnerConfirmed:
		return EventOwnerVerified, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", kind)
	}
}

// EventSink sets registry events as chaincode events on the transaction.
// Fabric keeps one event per transaction; each registry operation emits one.
type EventSink struct {
	stub Stub
}

// NewEventSink creates an EventSink over stub.
func NewEventSink(stub Stub) (*EventSink, error) {
	if stub == nil {
		return nil, fmt.Errorf("chaincode stub required")
	}
	return &EventSink{stub: stub}, nil
}

// Emit implements registry.EventSink. The event ID is replaced by the
// transaction ID so endorsers produce identical payloads.
func (s *EventSink) Emit(_ context.Context, event registry.Event) error {
	name, err := EventName(event.Kind)
	if err != nil {
		return err
	}
	event.ID = s.stub.GetTxID()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	if err := s.stub.SetEvent(name, payload); err != nil {
		return fmt.Errorf("set %s event: %w", name, err)
	}
	return nil
}
