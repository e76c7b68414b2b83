package fabric

import (
	"fmt"

	"github.com/c360studio/landledger/registry"
)

// NewRegistry builds a Registry bound to one transaction: world-state
// storage, chaincode events and the transaction timestamp as its clock.
// Extra options are applied after those defaults.
func NewRegistry(stub Stub, opts ...registry.Option) (*registry.Registry, error) {
	store, err := NewStateStore(stub)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	sink, err := NewEventSink(stub)
	if err != nil {
		return nil, fmt.Errorf("event sink: %w", err)
	}
	base := []registry.Option{
		registry.WithEventSink(sink),
		registry.WithClock(TxClock(stub)),
	}
	return registry.New(store, append(base, opts...)...), nil
}
