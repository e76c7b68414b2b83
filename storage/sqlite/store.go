// Package sqlite provides a SQLite-backed land record store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/c360studio/landledger/registry"
	"github.com/c360studio/landledger/storage/sqlite/migrations"
)

// Store persists land records in SQLite. The record_key primary key makes
// Insert an atomic insert-if-absent.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Insert implements registry.Store.
func (s *Store) Insert(ctx context.Context, key registry.RecordKey, record registry.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	owner := record.OwnerName
	if owner == nil {
		owner = []byte{}
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO land_records (record_key, owner, registered_by, registered_at)
		 VALUES (?, ?, ?, ?)`,
		[]byte(key),
		owner,
		string(record.RegisteredBy),
		toMillis(record.RegisteredAt),
	)
	if err != nil {
		if isRecordKeyUniqueViolation(err) {
			return registry.ErrAlreadyRegistered
		}
		return fmt.Errorf("insert land record: %w", err)
	}
	return nil
}

// Get implements registry.Store.
func (s *Store) Get(ctx context.Context, key registry.RecordKey) (registry.Record, error) {
	if err := ctx.Err(); err != nil {
		return registry.Record{}, err
	}
	if s == nil || s.sqlDB == nil {
		return registry.Record{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT owner, registered_by, registered_at
		   FROM land_records
		  WHERE record_key = ?`,
		[]byte(key),
	)

	var (
		owner        []byte
		registeredBy string
		registeredAt int64
	)
	if err := row.Scan(&owner, &registeredBy, &registeredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Record{}, registry.ErrNotFound
		}
		return registry.Record{}, fmt.Errorf("get land record: %w", err)
	}

	return registry.Record{
		RecordValue: registry.RecordValue{
			OwnerName:    owner,
			RegisteredBy: registry.Identity(registeredBy),
		},
		RegisteredAt: fromMillis(registeredAt),
	}, nil
}

// Keys returns every registered key in byte order.
func (s *Store) Keys(ctx context.Context) ([]registry.RecordKey, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT record_key FROM land_records ORDER BY record_key`)
	if err != nil {
		return nil, fmt.Errorf("list land records: %w", err)
	}
	defer rows.Close()

	var keys []registry.RecordKey
	for rows.Next() {
		var key []byte
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan land record key: %w", err)
		}
		keys = append(keys, registry.RecordKey(key))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate land records: %w", err)
	}
	return keys, nil
}

func isRecordKeyUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "land_records.record_key")
}

var _ registry.Store = (*Store)(nil)
