// Package fabrictest provides an in-memory chaincode stub for tests.
package fabrictest

import (
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// Event is a chaincode event recorded by Stub.
type Event struct {
	Name    string
	Payload []byte
}

// Stub is an in-memory world state that builds composite keys the way the
// shim does. Set the *Err fields to make the matching call fail.
type Stub struct {
	mu     sync.Mutex
	State  map[string][]byte
	Events []Event
	TxID   string
	TxTime time.Time

	GetErr   error
	PutErr   error
	EventErr error
}

// NewStub returns an empty Stub with a fixed transaction ID and timestamp.
func NewStub() *Stub {
	return &Stub{
		State:  make(map[string][]byte),
		TxID:   "tx-0001",
		TxTime: time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC),
	}
}

// GetState returns a copy of the value under key, or nil.
func (s *Stub) GetState(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	v, ok := s.State[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// PutState stores a copy of value under key.
func (s *Stub) PutState(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	s.State[key] = append([]byte(nil), value...)
	return nil
}

// CreateCompositeKey joins objectType and attributes with U+0000 separators.
func (s *Stub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	var b strings.Builder
	b.WriteString("\x00")
	b.WriteString(objectType)
	b.WriteString("\x00")
	for _, a := range attributes {
		b.WriteString(a)
		b.WriteString("\x00")
	}
	return b.String(), nil
}

// SetEvent records a chaincode event.
func (s *Stub) SetEvent(name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EventErr != nil {
		return s.EventErr
	}
	s.Events = append(s.Events, Event{Name: name, Payload: append([]byte(nil), payload...)})
	return nil
}

// GetTxID returns TxID.
func (s *Stub) GetTxID() string { return s.TxID }

// GetTxTimestamp returns TxTime.
func (s *Stub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(s.TxTime), nil
}
