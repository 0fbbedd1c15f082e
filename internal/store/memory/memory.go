// Package memory is an in-process store.Store. Changes are delivered
// asynchronously through a hub, the way a network channel would deliver them.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/hub"
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides the id generator.
func WithIDs(next func() string) Option {
	return func(s *Store) { s.nextID = next }
}

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Store keeps rows in per-table maps.
type Store struct {
	mu     sync.RWMutex
	rows   map[string]map[string]model.Row
	now    func() time.Time
	nextID func() string
	log    zerolog.Logger
	hub    *hub.Hub
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		rows:   make(map[string]map[string]model.Row),
		now:    time.Now,
		nextID: func() string { return uuid.New().String() },
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = hub.New(s.log)
	return s
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
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	row := model.Row(norm)
	row[model.ColID] = s.nextID()
	row[model.ColCreatedAt] = now
	row[model.ColUpdatedAt] = now

	s.mu.Lock()
	if s.rows[table] == nil {
		s.rows[table] = make(map[string]model.Row)
	}
	if _, dup := s.rows[table][row.ID()]; dup {
		s.mu.Unlock()
		return nil, model.ErrConflict
	}
	s.rows[table][row.ID()] = row
	s.mu.Unlock()

	s.hub.Publish(store.Change{Table: table, Type: model.EventInsert, New: row.Clone(), CommitTime: now})
	return row.Clone(), nil
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
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	cur, ok := s.rows[table][id]
	if !ok {
		s.mu.Unlock()
		return nil, model.ErrNotFound
	}
	old := cur.Clone()
	next := cur.Clone()
	for k, v := range norm {
		next[k] = v
	}
	s.rows[table][id] = next
	s.mu.Unlock()

	s.hub.Publish(store.Change{Table: table, Type: model.EventUpdate, New: next.Clone(), Old: old, CommitTime: s.now().UTC()})
	return next.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if _, err := store.Table(table); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	cur, ok := s.rows[table][id]
	if !ok {
		s.mu.Unlock()
		return model.ErrNotFound
	}
	delete(s.rows[table], id)
	s.mu.Unlock()

	s.hub.Publish(store.Change{Table: table, Type: model.EventDelete, Old: cur.Clone(), CommitTime: s.now().UTC()})
	return nil
}

func (s *Store) Get(ctx context.Context, table, id string) (model.Row, error) {
	if _, err := store.Table(table); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[table][id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return row.Clone(), nil
}

func (s *Store) List(ctx context.Context, table string) ([]model.Row, error) {
	if _, err := store.Table(table); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.Row, 0, len(s.rows[table]))
	for _, row := range s.rows[table] {
		out = append(out, row.Clone())
	}
	s.mu.RUnlock()
	model.CreatedDesc(out)
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, table string, fn store.Handler) (store.Subscription, error) {
	if _, err := store.Table(table); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, table, fn)
}

// Close ends all subscriptions.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}
