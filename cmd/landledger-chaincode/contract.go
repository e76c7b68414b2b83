package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cid "github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/c360studio/landledger/fabric"
	"github.com/c360studio/landledger/registry"
)

// LandRegistryContract exposes the land registry as chaincode transactions.
// Coordinates are the record key and are stored byte for byte.
type LandRegistryContract struct {
	contractapi.Contract
}

// LandRecordView is the query result of GetLandRecord.
type LandRecordView struct {
	Coordinates  string `json:"coordinates"`
	Owner        string `json:"owner"`
	RegisteredBy string `json:"registeredBy"`
	RegisteredAt string `json:"registeredAt"`
}

// StoreLand registers owner under coordinates. It fails if the coordinates
// are already registered.
func (c *LandRegistryContract) StoreLand(ctx contractapi.TransactionContextInterface, coordinates string, owner string) error {
	caller, err := invokerID(ctx)
	if err != nil {
		return err
	}
	return storeLand(context.Background(), ctx.GetStub(), caller, coordinates, owner)
}

// VerifyLand returns the owner registered under coordinates.
func (c *LandRegistryContract) VerifyLand(ctx contractapi.TransactionContextInterface, coordinates string) (string, error) {
	caller, err := invokerID(ctx)
	if err != nil {
		return "", err
	}
	return verifyLand(context.Background(), ctx.GetStub(), caller, coordinates)
}

// GetLandRecord returns the full record under coordinates without emitting an event.
func (c *LandRegistryContract) GetLandRecord(ctx contractapi.TransactionContextInterface, coordinates string) (*LandRecordView, error) {
	return getLandRecord(context.Background(), ctx.GetStub(), coordinates)
}

func invokerID(ctx contractapi.TransactionContextInterface) (registry.Identity, error) {
	id, err := cid.GetID(ctx.GetStub())
	if err != nil {
		return "", fmt.Errorf("get invoker ID: %w", err)
	}
	return registry.Identity(id), nil
}

// storeLand fails the transaction on any error, including a failed event,
// so the write never commits without its notification.
func storeLand(ctx context.Context, stub fabric.Stub, caller registry.Identity, coordinates, owner string) error {
	reg, err := fabric.NewRegistry(stub)
	if err != nil {
		return err
	}
	return reg.Register(ctx, caller, registry.RecordKey(coordinates), []byte(owner))
}

func verifyLand(ctx context.Context, stub fabric.Stub, caller registry.Identity, coordinates string) (string, error) {
	reg, err := fabric.NewRegistry(stub)
	if err != nil {
		return "", err
	}
	owner, err := reg.Verify(ctx, caller, registry.RecordKey(coordinates))
	if err != nil {
		var notifyErr *registry.NotifyError
		if !errors.As(err, &notifyErr) {
			return "", err
		}
		slog.Warn("Owner verified without event", slog.String("error", err.Error()))
	}
	return string(owner), nil
}

func getLandRecord(ctx context.Context, stub fabric.Stub, coordinates string) (*LandRecordView, error) {
	reg, err := fabric.NewRegistry(stub)
	if err != nil {
		return nil, err
	}
	rec, err := reg.Lookup(ctx, registry.RecordKey(coordinates))
	if err != nil {
		return nil, err
	}
	return &LandRecordView{
		Coordinates:  coordinates,
		Owner:        string(rec.OwnerName),
		RegisteredBy: string(rec.RegisteredBy),
		RegisteredAt: rec.RegisteredAt.UTC().Format(time.RFC3339Nano),
	}, nil
}
