// Package sqlite is a single-node store.Store backed by a modernc.org/sqlite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/hub"
)

// Store implements store.Store on a *sql.DB. Changes are fanned out after commit.
type Store struct {
	db     *sql.DB
	hub    *hub.Hub
	log    zerolog.Logger
	now    func() time.Time
	nextID func() string
}

var _ store.Store = (*Store)(nil)

// New opens path, ensures the schema and returns a ready store.
func New(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewWithDB(ctx, db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wires an existing connection (used by the factory and tests).
func NewWithDB(ctx context.Context, db *sql.DB, log zerolog.Logger) (*Store, error) {
	if err := EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	return &Store{
		db:     db,
		hub:    hub.New(log),
		log:    log,
		now:    time.Now,
		nextID: func() string { return uuid.New().String() },
	}, nil
}

// DB exposes the underlying connection.
func (s *Store) DB() *sql.DB { return s.db }

// HealthPing implements health.Pinger.
func (s *Store) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close ends subscriptions and closes the database.
func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
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

	now := s.now().UTC()
	row := model.Row(norm)
	row[model.ColID] = s.nextID()
	row[model.ColCreatedAt] = now
	row[model.ColUpdatedAt] = now

	cols := t.ColumnNames()
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = toSQL(row[c])
	}
	query, args, err := sq.Insert(table).Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, mapError(err, table, row.ID())
	}

	s.hub.Publish(store.Change{Table: table, Type: model.EventInsert, New: row.Clone(), CommitTime: now})
	return row, nil
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err, table, id)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := getRow(ctx, tx, t, id)
	if err != nil {
		return nil, err
	}
	next := old.Clone()
	if len(norm) > 0 {
		set := make(map[string]any, len(norm))
		for k, v := range norm {
			set[k] = toSQL(v)
			next[k] = v
		}
		query, args, err := sq.Update(table).SetMap(set).Where(sq.Eq{model.ColID: id}).ToSql()
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, mapError(err, table, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, mapError(err, table, id)
	}

	s.hub.Publish(store.Change{Table: table, Type: model.EventUpdate, New: next.Clone(), Old: old, CommitTime: s.now().UTC()})
	return next, nil
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	t, err := store.Table(table)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err, table, id)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := getRow(ctx, tx, t, id)
	if err != nil {
		return err
	}
	query, args, err := sq.Delete(table).Where(sq.Eq{model.ColID: id}).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return mapError(err, table, id)
	}
	if err := tx.Commit(); err != nil {
		return mapError(err, table, id)
	}

	s.hub.Publish(store.Change{Table: table, Type: model.EventDelete, Old: old, CommitTime: s.now().UTC()})
	return nil
}

func (s *Store) Get(ctx context.Context, table, id string) (model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	return getRow(ctx, s.db, t, id)
}

func (s *Store) List(ctx context.Context, table string) ([]model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	cols := t.ColumnNames()
	query, args, err := sq.Select(cols...).From(table).OrderBy("created_at DESC", "id DESC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, table, "")
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		row, err := scanRow(rows, t, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, table, "")
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, table string, fn store.Handler) (store.Subscription, error) {
	if _, err := store.Table(table); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, table, fn)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getRow(ctx context.Context, q rowQuerier, t model.Table, id string) (model.Row, error) {
	cols := t.ColumnNames()
	query, args, err := sq.Select(cols...).From(t.Name).Where(sq.Eq{model.ColID: id}).ToSql()
	if err != nil {
		return nil, err
	}
	return scanRow(q.QueryRowContext(ctx, query, args...), t, cols)
}

func scanRow(sc scanner, t model.Table, cols []string) (model.Row, error) {
	raw := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := sc.Scan(dest...); err != nil {
		return nil, mapError(err, t.Name, "")
	}
	row := make(model.Row, len(cols))
	for i, c := range cols {
		if raw[i].Valid {
			row[c] = raw[i].String
		} else {
			row[c] = nil
		}
	}
	return t.CoerceRow(row)
}

func toSQL(v any) any {
	switch tv := v.(type) {
	case time.Time:
		return tv.UTC().Format(timeLayout)
	default:
		return v
	}
}

// mapError converts driver errors to model errors. Context errors pass through.
func mapError(err error, table, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", table, id, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, model.ErrNotFound)
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s %s: %w: %v", table, id, model.ErrConflict, err)
		}
		switch code & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%s %s: %w: %v", table, id, model.ErrValidation, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s %s: %w: %v", table, id, model.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s %s: %w", table, id, err)
}
