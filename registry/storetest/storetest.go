// Package storetest provides a conformance suite for registry.Store implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/landledger/registry"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) registry.Store

// Run exercises insert-once, lookup and isolation semantics against stores
// produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("get missing key", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(context.Background(), registry.RecordKey("absent"))
		if !errors.Is(err, registry.ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("insert then get", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		at := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
		want := record("Alice", "alice", at)

		if err := store.Insert(ctx, registry.RecordKey("plot-42"), want); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		got, err := store.Get(ctx, registry.RecordKey("plot-42"))
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		assertRecord(t, got, want)
	})

	t.Run("second insert rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		at := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
		first := record("Alice", "alice", at)

		if err := store.Insert(ctx, registry.RecordKey("plot-42"), first); err != nil {
			t.Fatalf("first Insert() error = %v", err)
		}
		err := store.Insert(ctx, registry.RecordKey("plot-42"), record("Bob", "bob", at.Add(time.Hour)))
		if !errors.Is(err, registry.ErrAlreadyRegistered) {
			t.Fatalf("second Insert() error = %v, want ErrAlreadyRegistered", err)
		}
		got, err := store.Get(ctx, registry.RecordKey("plot-42"))
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		assertRecord(t, got, first)
	})

	t.Run("binary keys are distinct", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		at := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
		keys := []registry.RecordKey{
			{0x00},
			{0x00, 0x00},
			{0xff, 0xfe},
			registry.RecordKey("a.b"),
			registry.RecordKey("a/b"),
			registry.RecordKey("A.B"),
		}
		for i, key := range keys {
			if err := store.Insert(ctx, key, record(fmt.Sprintf("owner-%d", i), "alice", at)); err != nil {
				t.Fatalf("Insert(%s) error = %v", key, err)
			}
		}
		for i, key := range keys {
			got, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get(%s) error = %v", key, err)
			}
			if want := fmt.Sprintf("owner-%d", i); string(got.OwnerName) != want {
				t.Errorf("Get(%s) owner = %q, want %q", key, got.OwnerName, want)
			}
		}
	})

	t.Run("max length key", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		at := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)

		key := make(registry.RecordKey, registry.MaxKeyLen)
		for i := range key {
			key[i] = byte(i)
		}
		want := record("", "alice", at)
		if err := store.Insert(ctx, key, want); err != nil {
			t.Fatalf("Insert(%s) error = %v", key.Abbrev(), err)
		}
		got, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", key.Abbrev(), err)
		}
		assertRecord(t, got, want)

		err = store.Insert(ctx, key, record("Bob", "bob", at))
		if !errors.Is(err, registry.ErrAlreadyRegistered) {
			t.Fatalf("second Insert() error = %v, want ErrAlreadyRegistered", err)
		}

		// A key differing only in its last byte is a different key.
		other := append(registry.RecordKey(nil), key...)
		other[len(other)-1] ^= 0xff
		if _, err := store.Get(ctx, other); !errors.Is(err, registry.ErrNotFound) {
			t.Fatalf("Get(neighbour) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("returned record is a copy", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		at := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
		if err := store.Insert(ctx, registry.RecordKey("plot-1"), record("Alice", "alice", at)); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		got, err := store.Get(ctx, registry.RecordKey("plot-1"))
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		got.OwnerName[0] = 'X'

		again, err := store.Get(ctx, registry.RecordKey("plot-1"))
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(again.OwnerName) != "Alice" {
			t.Errorf("owner = %q after mutating a previous read", again.OwnerName)
		}
	})

	t.Run("concurrent inserts have one winner", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		at := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)

		const writers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
			errs []error
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := store.Insert(ctx, registry.RecordKey("race"), record(fmt.Sprintf("owner-%d", i), "alice", at))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case !errors.Is(err, registry.ErrAlreadyRegistered):
					errs = append(errs, err)
				}
			}(i)
		}
		wg.Wait()

		if len(errs) > 0 {
			t.Fatalf("unexpected insert errors: %v", errs)
		}
		if wins != 1 {
			t.Fatalf("winners = %d, want 1", wins)
		}
	})
}

func record(owner string, caller registry.Identity, at time.Time) registry.Record {
	return registry.Record{
		RecordValue: registry.RecordValue{
			OwnerName:    []byte(owner),
			RegisteredBy: caller,
		},
		RegisteredAt: at,
	}
}

func assertRecord(t *testing.T, got, want registry.Record) {
	t.Helper()
	if string(got.OwnerName) != string(want.OwnerName) {
		t.Errorf("owner = %q, want %q", got.OwnerName, want.OwnerName)
	}
	if got.RegisteredBy != want.RegisteredBy {
		t.Errorf("registered_by = %q, want %q", got.RegisteredBy, want.RegisteredBy)
	}
	if !got.RegisteredAt.Equal(want.RegisteredAt) {
		t.Errorf("registered_at = %v, want %v", got.RegisteredAt, want.RegisteredAt)
	}
}
