package main

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/landledger/config"
	"github.com/c360studio/landledger/registry"
	"github.com/c360studio/landledger/storage"
)

func TestNewApp_RejectsInvalidConfig(t *testing.T) {
	if _, err := NewApp(nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}

	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "postgres"
	if _, err := NewApp(cfg, nil); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestAppStartStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NATS.StoreDir = filepath.Join(t.TempDir(), "jetstream")

	app, err := NewApp(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Start the app
	if err := app.Start(ctx); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}

	// Verify components are initialized
	if app.natsConn == nil {
		t.Error("NATS connection not initialized")
	}
	if app.js == nil {
		t.Error("JetStream not initialized")
	}
	if _, ok := app.store.(*storage.KVStore); !ok {
		t.Errorf("expected KV store, got %T", app.store)
	}
	if app.embeddedServer == nil {
		t.Error("Embedded NATS server not started")
	}

	// Shutdown
	app.Shutdown(5 * time.Second)

	// Verify cleanup
	if app.embeddedServer.Running() {
		t.Error("Embedded server still running after shutdown")
	}
}

func TestApp_PublishesEvents(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NATS.StoreDir = filepath.Join(t.TempDir(), "jetstream")

	app, err := NewApp(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Shutdown(5 * time.Second)

	sub, err := app.natsConn.SubscribeSync("landledger.events.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := app.natsConn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	reg := app.Registry()
	if err := reg.Register(ctx, "alice", registry.RecordKey("plot-42"), []byte("Alice")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	owner, err := reg.Verify(ctx, "bob", registry.RecordKey("plot-42"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if string(owner) != "Alice" {
		t.Errorf("owner = %q, want Alice", owner)
	}

	wantSubjects := []string{
		"landledger.events.record.registered",
		"landledger.events.owner.confirmed",
	}
	for _, want := range wantSubjects {
		msg, err := sub.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Subject != want {
			t.Errorf("subject = %s, want %s", msg.Subject, want)
		}
		var event registry.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.ID == "" {
			t.Error("event without ID")
		}
	}

	keys, err := app.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || string(keys[0]) != "plot-42" {
		t.Errorf("keys = %v, want [plot-42]", keys)
	}
}

func TestApp_RecordsSurviveRestart(t *testing.T) {
	storeDir := filepath.Join(t.TempDir(), "jetstream")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	start := func() *App {
		cfg := config.DefaultConfig()
		cfg.NATS.StoreDir = storeDir
		cfg.Events.Enabled = false
		app, err := NewApp(cfg, nil)
		if err != nil {
			t.Fatalf("failed to create app: %v", err)
		}
		if err := app.Start(ctx); err != nil {
			t.Fatalf("failed to start app: %v", err)
		}
		return app
	}

	first := start()
	if err := first.Registry().Register(ctx, "alice", registry.RecordKey("plot-9"), []byte("Alice")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	first.Shutdown(5 * time.Second)

	second := start()
	defer second.Shutdown(5 * time.Second)
	err := second.Registry().Register(ctx, "bob", registry.RecordKey("plot-9"), []byte("Bob"))
	if !registry.IsAlreadyRegistered(err) {
		t.Fatalf("Register after restart: err = %v, want already registered", err)
	}
}

func TestApp_MemoryBackendNeedsNoNATS(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = config.BackendMemory

	app, err := NewApp(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Shutdown(time.Second)

	if app.natsConn != nil || app.natsClient != nil || app.embeddedServer != nil {
		t.Error("memory backend should not start NATS")
	}
	if err := app.Registry().Register(context.Background(), "alice", registry.RecordKey("k"), []byte("A")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := app.Keys(context.Background()); err == nil {
		t.Error("expected memory backend to refuse listing")
	}
}

func TestWrapNATSError(t *testing.T) {
	tests := []struct {
		name     string
		err      string
		wantHint bool
	}{
		{"refused", "dial tcp: connection refused", true},
		{"no servers", "nats: no servers available for connection", true},
		{"auth", "nats: authorization violation", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapNATSError(errors.New(tt.err), "nats://ledger:4222")
			hasHint := strings.Contains(err.Error(), "NATS is not running at nats://ledger:4222")
			if hasHint != tt.wantHint {
				t.Errorf("hint present = %v, want %v: %v", hasHint, tt.wantHint, err)
			}
		})
	}
}
