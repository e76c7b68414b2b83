// Package fabric hosts the land registry inside Hyperledger Fabric chaincode.
// It adapts the transaction stub to registry.Store and registry.EventSink.
package fabric

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/c360studio/landledger/registry"
)

// ObjectType is the composite key namespace of land records in world state.
const ObjectType = "land"

// Stub is the slice of shim.ChaincodeStubInterface the registry needs.
type Stub interface {
	GetState(key string) ([]byte, error)
	PutState(key string, value []byte) error
	CreateCompositeKey(objectType string, attributes []string) (string, error)
	SetEvent(name string, payload []byte) error
	GetTxID() string
	GetTxTimestamp() (*timestamppb.Timestamp, error)
}

// state is the world-state value of a land record.
type state struct {
	Owner        []byte    `json:"owner"`
	RegisteredBy string    `json:"registered_by"`
	RegisteredAt time.Time `json:"registered_at"`
}

// StateStore keeps land records in the world state of one transaction.
// Conflicting registrations of the same key in concurrent transactions are
// resolved by Fabric's read-set validation at commit.
type StateStore struct {
	// mu serializes stub access; shim stubs are not safe for concurrent use.
	mu   sync.Mutex
	stub Stub
}

// NewStateStore creates a StateStore over stub.
func NewStateStore(stub Stub) (*StateStore, error) {
	if stub == nil {
		return nil, fmt.Errorf("chaincode stub required")
	}
	return &StateStore{stub: stub}, nil
}

// StateKey returns the world-state key of a record key.
func (s *StateStore) StateKey(key registry.RecordKey) (string, error) {
	return s.stub.CreateCompositeKey(ObjectType, []string{hex.EncodeToString(key)})
}

// Insert implements registry.Store.
func (s *StateStore) Insert(ctx context.Context, key registry.RecordKey, record registry.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stateKey, err := s.StateKey(key)
	if err != nil {
		return fmt.Errorf("state key: %w", err)
	}

	owner := record.OwnerName
	if owner == nil {
		owner = []byte{}
	}
	data, err := json.Marshal(state{
		Owner:        owner,
		RegisteredBy: string(record.RegisteredBy),
		RegisteredAt: record.RegisteredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal land record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.stub.GetState(stateKey)
	if err != nil {
		return fmt.Errorf("read world state: %w", err)
	}
	if existing != nil {
		return registry.ErrAlreadyRegistered
	}
	if err := s.stub.PutState(stateKey, data); err != nil {
		return fmt.Errorf("write world state: %w", err)
	}
	return nil
}

// Get implements registry.Store.
func (s *StateStore) Get(ctx context.Context, key registry.RecordKey) (registry.Record, error) {
	if err := ctx.Err(); err != nil {
		return registry.Record{}, err
	}
	stateKey, err := s.StateKey(key)
	if err != nil {
		return registry.Record{}, fmt.Errorf("state key: %w", err)
	}

	s.mu.Lock()
	data, err := s.stub.GetState(stateKey)
	s.mu.Unlock()
	if err != nil {
		return registry.Record{}, fmt.Errorf("read world state: %w", err)
	}
	if data == nil {
		return registry.Record{}, registry.ErrNotFound
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return registry.Record{}, fmt.Errorf("unmarshal land record: %w", err)
	}
	owner := st.Owner
	if owner == nil {
		owner = []byte{}
	}
	return registry.Record{
		RecordValue: registry.RecordValue{
			OwnerName:    owner,
			RegisteredBy: registry.Identity(st.RegisteredBy),
		},
		RegisteredAt: st.RegisteredAt,
	}, nil
}

// TxClock returns a clock pinned to the transaction timestamp so every
// endorsing peer writes the same registration time.
func TxClock(stub Stub) func() time.Time {
	return func() time.Time {
		ts, err := stub.GetTxTimestamp()
		if err != nil || ts == nil {
			return time.Time{}
		}
		return ts.AsTime()
	}
}
