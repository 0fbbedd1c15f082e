package localbus

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/sqlite"
)

// Storage is durable, single-device key/value storage holding JSON documents.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

const schema = `CREATE TABLE IF NOT EXISTS local_storage (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL
)`

// SQLiteStorage keeps keys in a local_storage table.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the storage file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStorage, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query, args, err := sq.Select("value").From("local_storage").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return nil, false, err
	}
	var v string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(v), true, nil
}

func (s *SQLiteStorage) Set(ctx context.Context, key string, value []byte) error {
	query, args, err := sq.Insert("local_storage").
		Columns("key", "value", "updated_at").
		Values(key, string(value), time.Now().UTC().Format(time.RFC3339Nano)).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// HealthPing implements health.Pinger.
func (s *SQLiteStorage) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStorage) Close() error { return s.db.Close() }

// MapStorage is an in-memory Storage for tests and ephemeral sessions.
type MapStorage struct {
	mu sync.Mutex
	m  map[string][]byte
}

func NewMapStorage() *MapStorage { return &MapStorage{m: make(map[string][]byte)} }

func (s *MapStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return append([]byte(nil), v...), ok, nil
}

func (s *MapStorage) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]byte(nil), value...)
	return nil
}
