package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
)

// ErrUnknownTable is returned for table names without a model.Table descriptor.
var ErrUnknownTable = fmt.Errorf("%w: unknown table", model.ErrValidation)

// Store exposes table-scoped CRUD plus the change channel.
// Implementations live under internal/store/<driver>/ (memory, sqlite, postgres),
// internal/remote (HTTP client) and internal/localbus (fallback).
type Store interface {
	// Create inserts a row. id, created_at and updated_at are assigned by the store;
	// updated_at starts equal to created_at.
	Create(ctx context.Context, table string, fields model.Fields) (model.Row, error)
	// Update applies a partial update. The store does not stamp updated_at; callers do.
	Update(ctx context.Context, table, id string, fields model.Fields) (model.Row, error)
	Delete(ctx context.Context, table, id string) error
	Get(ctx context.Context, table, id string) (model.Row, error)
	// List returns every row of table ordered by created_at descending.
	List(ctx context.Context, table string) ([]model.Row, error)
	// Close releases the store's resources.
	Close() error

	Channel
}

// Channel delivers row changes for a table to every connected subscriber,
// including the connection that caused the change.
type Channel interface {
	// Subscribe registers fn for changes on table. The subscription lives until
	// Close is called or ctx is cancelled. Delivery order across rows is not guaranteed.
	Subscribe(ctx context.Context, table string, fn Handler) (Subscription, error)
}

// Handler receives changes. It may be invoked from a goroutine other than the subscriber's.
type Handler func(Change)

// Subscription is a live channel registration. Close is idempotent.
// Done is closed once the subscription ends, whether by Close, ctx or the
// provider dropping it; events missed after that point need a full resync.
type Subscription interface {
	Table() string
	Done() <-chan struct{}
	Close() error
}

// Change is the provider-level change payload: {eventType, new, old}.
// New is nil on DELETE; Old carries at least the id on DELETE and may be nil on INSERT.
type Change struct {
	Table      string          `json:"table"`
	Type       model.EventType `json:"eventType"`
	New        model.Row       `json:"new,omitempty"`
	Old        model.Row       `json:"old,omitempty"`
	CommitTime time.Time       `json:"commitTime"`
}

// Key returns the id of the affected row, preferring New over Old.
func (c Change) Key() string {
	if id := c.New.ID(); id != "" {
		return id
	}
	return c.Old.ID()
}

// Table resolves a table descriptor or returns ErrUnknownTable.
func Table(name string) (model.Table, error) {
	t, ok := model.LookupTable(name)
	if !ok {
		return model.Table{}, fmt.Errorf("%w %q", ErrUnknownTable, name)
	}
	return t, nil
}
