// Package storage provides land record storage backed by NATS KV.
package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/landledger/registry"
)

// BucketRecords is the default KV bucket for land records.
const BucketRecords = "LANDLEDGER_RECORDS"

// Document is the JSON form of a record at rest. The same shape is used by
// every persistent backend.
type Document struct {
	Key          []byte    `json:"key"`
	Owner        []byte    `json:"owner"`
	RegisteredBy string    `json:"registered_by"`
	RegisteredAt time.Time `json:"registered_at"`
}

// NewDocument builds the at-rest form of record under key.
func NewDocument(key registry.RecordKey, record registry.Record) Document {
	return Document{
		Key:          key,
		Owner:        record.OwnerName,
		RegisteredBy: string(record.RegisteredBy),
		RegisteredAt: record.RegisteredAt.UTC(),
	}
}

// Record converts the document back into a registry.Record.
func (d Document) Record() registry.Record {
	return registry.Record{
		RecordValue: registry.RecordValue{
			OwnerName:    d.Owner,
			RegisteredBy: registry.Identity(d.RegisteredBy),
		},
		RegisteredAt: d.RegisteredAt,
	}
}

// EncodeKey maps a RecordKey onto a valid KV key.
// KV keys only allow [-/_=.a-zA-Z0-9]; raw URL base64 stays inside that set.
func EncodeKey(key registry.RecordKey) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// DecodeKey reverses EncodeKey.
func DecodeKey(s string) (registry.RecordKey, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode record key %q: %w", s, err)
	}
	return registry.RecordKey(b), nil
}

// KVStore stores land records in a JetStream KV bucket.
// Insert uses kv.Create, which the server rejects when the key already has a
// live value, so insert-once holds across every process sharing the bucket.
type KVStore struct {
	records jetstream.KeyValue
}

// NewKVStore creates a KVStore over bucket, creating the bucket if it doesn't exist.
// An empty bucket name selects BucketRecords.
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream context required")
	}
	if bucket == "" {
		bucket = BucketRecords
	}
	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		return nil, fmt.Errorf("create records bucket: %w", err)
	}
	return &KVStore{records: kv}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, err
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Land ledger %s storage", strings.ToLower(name)),
		History:     1, // Values are never rewritten
		Storage:     jetstream.FileStorage,
	})
}

// Insert implements registry.Store.
func (s *KVStore) Insert(ctx context.Context, key registry.RecordKey, record registry.Record) error {
	data, err := json.Marshal(NewDocument(key, record))
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if _, err := s.records.Create(ctx, EncodeKey(key), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return registry.ErrAlreadyRegistered
		}
		return fmt.Errorf("store record: %w", err)
	}
	return nil
}

// Get implements registry.Store.
func (s *KVStore) Get(ctx context.Context, key registry.RecordKey) (registry.Record, error) {
	entry, err := s.records.Get(ctx, EncodeKey(key))
	if err != nil {
		if isNotFound(err) {
			return registry.Record{}, registry.ErrNotFound
		}
		return registry.Record{}, fmt.Errorf("get record: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return registry.Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return doc.Record(), nil
}

// Keys returns every registered key in encoded-key order.
func (s *KVStore) Keys(ctx context.Context) ([]registry.RecordKey, error) {
	names, err := s.records.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list record keys: %w", err)
	}
	sort.Strings(names)

	keys := make([]registry.RecordKey, 0, len(names))
	for _, name := range names {
		key, err := DecodeKey(name)
		if err != nil {
			continue // Skip keys written by something else
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

var _ registry.Store = (*KVStore)(nil)
