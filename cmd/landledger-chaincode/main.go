// Package main runs the land registry as Hyperledger Fabric chaincode.
package main

import (
	"log/slog"
	"os"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// Version is set at build time.
var Version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cc, err := contractapi.NewChaincode(new(LandRegistryContract))
	if err != nil {
		slog.Error("Failed to create chaincode", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cc.Info.Title = "LandRegistryChaincode"
	cc.Info.Version = Version

	if err := cc.Start(); err != nil {
		slog.Error("Failed to start chaincode", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
