package storage

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/landledger/registry"
	"github.com/c360studio/landledger/registry/storetest"
)

// startJetStream runs an in-process NATS server with JetStream and returns a
// JetStream context connected to it.
func startJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect to NATS: %v", err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("create JetStream context: %v", err)
	}
	return js
}

func TestKVStore_Conformance(t *testing.T) {
	js := startJetStream(t)
	n := 0
	storetest.Run(t, func(t *testing.T) registry.Store {
		n++
		store, err := NewKVStore(context.Background(), js, "RECORDS_"+string(rune('A'+n)))
		if err != nil {
			t.Fatalf("NewKVStore() error = %v", err)
		}
		return store
	})
}

func TestKVStore_ReopenSeesRecords(t *testing.T) {
	ctx := context.Background()
	js := startJetStream(t)

	first, err := NewKVStore(ctx, js, "")
	if err != nil {
		t.Fatalf("NewKVStore() error = %v", err)
	}
	reg := registry.New(first)
	if err := reg.Register(ctx, "alice", registry.RecordKey("plot-42"), []byte("Alice")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// A second store over the same bucket shares the insert-once guarantee.
	second, err := NewKVStore(ctx, js, BucketRecords)
	if err != nil {
		t.Fatalf("NewKVStore() error = %v", err)
	}
	other := registry.New(second)
	if err := other.Register(ctx, "bob", registry.RecordKey("plot-42"), []byte("Bob")); !registry.IsAlreadyRegistered(err) {
		t.Fatalf("Register() error = %v, want already registered", err)
	}
	owner, err := other.Verify(ctx, "carol", registry.RecordKey("plot-42"))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if string(owner) != "Alice" {
		t.Fatalf("owner = %q, want Alice", owner)
	}
}

func TestKVStore_Keys(t *testing.T) {
	ctx := context.Background()
	store, err := NewKVStore(ctx, startJetStream(t), "")
	if err != nil {
		t.Fatalf("NewKVStore() error = %v", err)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() on empty bucket error = %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("Keys() = %v, want none", keys)
	}

	for _, k := range []string{"plot-2", "plot-1"} {
		if err := store.Insert(ctx, registry.RecordKey(k), registry.Record{}); err != nil {
			t.Fatalf("Insert(%s) error = %v", k, err)
		}
	}
	keys, err = store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Keys() returned %d keys, want 2", len(keys))
	}
}

func TestNewKVStore_RequiresJetStream(t *testing.T) {
	if _, err := NewKVStore(context.Background(), nil, ""); err == nil {
		t.Fatal("expected error for nil JetStream")
	}
}

func TestEncodeKey(t *testing.T) {
	tests := []struct {
		name string
		key  registry.RecordKey
		want string
	}{
		{"text", registry.RecordKey("plot-42"), "cGxvdC00Mg"},
		{"binary", registry.RecordKey{0xfb, 0xff}, "-_8"},
		{"dots", registry.RecordKey("a.b"), "YS5i"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeKey(tt.key)
			if got != tt.want {
				t.Errorf("EncodeKey() = %q, want %q", got, tt.want)
			}
			back, err := DecodeKey(got)
			if err != nil {
				t.Fatalf("DecodeKey() error = %v", err)
			}
			if !back.Equal(tt.key) {
				t.Errorf("DecodeKey() = %v, want %v", back, tt.key)
			}
		})
	}

	if _, err := DecodeKey("not base64!"); err == nil {
		t.Error("expected error for invalid encoded key")
	}
}
