// Package postgres implements store.Store on PostgreSQL. Changes are captured by
// row triggers and delivered through LISTEN/NOTIFY, so every service instance
// connected to the same database sees every write.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/hub"
)

// DefaultChannel is the NOTIFY channel used when none is configured.
const DefaultChannel = "admin_changes"

// Querier is the subset of *pgxpool.Pool used by the store.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Options configures New.
type Options struct {
	DSN     string
	Channel string
}

// Store is the Postgres-backed store.
type Store struct {
	q    Querier
	pool *pgxpool.Pool
	hub  *hub.Hub
	log  zerolog.Logger

	channel   string
	dsn       string
	listening atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ store.Store = (*Store)(nil)

// New connects, applies migrations and starts the notification listener.
func New(ctx context.Context, opts Options, log zerolog.Logger) (*Store, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if err := Migrate(ctx, opts.DSN); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := NewPool(ctx, opts.DSN, opts.Channel)
	if err != nil {
		return nil, err
	}
	s := NewWithQuerier(pool, log)
	s.pool = pool
	s.dsn = opts.DSN
	s.channel = opts.Channel

	lctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.listen(lctx)
	}()
	return s, nil
}

// NewPool creates a pool whose sessions tag trigger notifications with channel.
func NewPool(ctx context.Context, dsn, channel string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SELECT set_config('admin_sync.notify_channel', $1, false)", channel)
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewWithQuerier wires a store without a listener. Subscriptions only receive
// what is published through the hub; used with pgxmock.
func NewWithQuerier(q Querier, log zerolog.Logger) *Store {
	return &Store{q: q, hub: hub.New(log), log: log, channel: DefaultChannel}
}

// HealthPing implements health.Pinger. A store with a dead listener is unhealthy.
func (s *Store) HealthPing(ctx context.Context) error {
	if err := s.q.Ping(ctx); err != nil {
		return err
	}
	if s.cancel != nil && !s.listening.Load() {
		return fmt.Errorf("notification listener on %q not connected", s.channel)
	}
	return nil
}

// Close stops the listener, ends subscriptions and closes the pool.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	s.hub.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Create(ctx context.Context, table string, fields model.Fields) (model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	norm, err := t.NormalizeCreate(fields)
	if err != nil {
		return nil, err
	}
	cols := sortedKeys(norm)
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = norm[c]
	}
	query, args, err := psql.Insert(table).Columns(cols...).Values(vals...).
		Suffix("RETURNING " + strings.Join(t.ColumnNames(), ", ")).ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, t, "", query, args)
}

func (s *Store) Update(ctx context.Context, table, id string, fields model.Fields) (model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	norm, err := t.NormalizeUpdate(fields)
	if err != nil {
		return nil, err
	}
	if len(norm) == 0 {
		return s.Get(ctx, table, id)
	}
	query, args, err := psql.Update(table).SetMap(map[string]any(norm)).
		Where(sq.Eq{model.ColID: id}).
		Suffix("RETURNING " + strings.Join(t.ColumnNames(), ", ")).ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, t, id, query, args)
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if _, err := store.Table(table); err != nil {
		return err
	}
	query, args, err := psql.Delete(table).Where(sq.Eq{model.ColID: id}).ToSql()
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, table, id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", table, id, model.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, table, id string) (model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	query, args, err := psql.Select(t.ColumnNames()...).From(table).Where(sq.Eq{model.ColID: id}).ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, t, id, query, args)
}

func (s *Store) List(ctx context.Context, table string) ([]model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	query, args, err := psql.Select(t.ColumnNames()...).From(table).OrderBy("created_at DESC", "id DESC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, table, "")
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, mapError(err, table, "")
	}
	out := make([]model.Row, 0, len(maps))
	for _, m := range maps {
		row, err := t.CoerceRow(model.Row(m))
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, table string, fn store.Handler) (store.Subscription, error) {
	if _, err := store.Table(table); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, table, fn)
}

func (s *Store) queryOne(ctx context.Context, t model.Table, id, query string, args []any) (model.Row, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, t.Name, id)
	}
	m, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, mapError(err, t.Name, id)
	}
	return t.CoerceRow(model.Row(m))
}

func sortedKeys(f model.Fields) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mapError converts pgx/pgconn errors to model errors.
// context.DeadlineExceeded and context.Canceled are NOT mapped; they pass through.
func mapError(err error, table, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", table, id, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, model.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return fmt.Errorf("%s %s: %w: %s", table, id, model.ErrConflict, pgErr.Message)
		case pgErr.Code == "23514", pgErr.Code == "23502", pgErr.Code == "22P02", pgErr.Code == "22007":
			return fmt.Errorf("%s %s: %w: %s", table, id, model.ErrValidation, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return fmt.Errorf("%s %s: %w: %s", table, id, model.ErrUnavailable, pgErr.Message)
		}
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%s %s: %w: %v", table, id, model.ErrUnavailable, err)
	}
	return fmt.Errorf("%s %s: %w", table, id, err)
}
