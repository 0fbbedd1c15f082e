package syncclient

import (
	"context"
	"fmt"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/metrics"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

// Table is a typed view of one table. It turns provider rows and changes
// into T values and model.ChangeEvent[T], so nothing downstream sees maps.
type Table[T model.Record] struct {
	c    *Client
	name string
}

// NewTable binds T to table name.
func NewTable[T model.Record](c *Client, name string) (*Table[T], error) {
	if _, err := store.Table(name); err != nil {
		return nil, err
	}
	return &Table[T]{c: c, name: name}, nil
}

func (t *Table[T]) Name() string { return t.name }

// Create inserts a record and returns the INSERT event for the local merge path.
func (t *Table[T]) Create(ctx context.Context, fields model.Fields) (model.ChangeEvent[T], error) {
	row, err := t.c.Create(ctx, t.name, fields)
	if err != nil {
		return model.ChangeEvent[T]{}, err
	}
	rec, err := t.decode(row)
	if err != nil {
		return model.ChangeEvent[T]{}, err
	}
	return model.Inserted(rec), nil
}

// Update applies fields (which must include updated_at) and returns the UPDATE event.
func (t *Table[T]) Update(ctx context.Context, id string, fields model.Fields) (model.ChangeEvent[T], error) {
	row, err := t.c.Update(ctx, t.name, id, fields)
	if err != nil {
		return model.ChangeEvent[T]{}, err
	}
	rec, err := t.decode(row)
	if err != nil {
		return model.ChangeEvent[T]{}, err
	}
	return model.Updated(rec, nil), nil
}

// Delete removes id and returns the DELETE event.
func (t *Table[T]) Delete(ctx context.Context, id string) (model.ChangeEvent[T], error) {
	if err := t.c.Delete(ctx, t.name, id); err != nil {
		return model.ChangeEvent[T]{}, err
	}
	return model.Deleted[T](id, nil), nil
}

// List returns all records newest first. Rows that fail to decode are skipped.
func (t *Table[T]) List(ctx context.Context) ([]T, error) {
	rows, err := t.c.List(ctx, t.name)
	if err != nil {
		return nil, err
	}
	return t.decodeAll(rows), nil
}

// Resync is List for reconnect paths.
func (t *Table[T]) Resync(ctx context.Context) ([]T, error) {
	rows, err := t.c.Resync(ctx, t.name)
	if err != nil {
		return nil, err
	}
	return t.decodeAll(rows), nil
}

// Subscribe delivers typed events. Changes that cannot be decoded are logged
// and dropped; the stream continues.
func (t *Table[T]) Subscribe(ctx context.Context, fn func(model.ChangeEvent[T])) (*Subscription, error) {
	return t.c.Subscribe(ctx, t.name, func(ch store.Change) {
		ev, err := Event[T](ch)
		if err != nil {
			metrics.EventsDroppedTotal.WithLabelValues(t.name, "malformed").Inc()
			t.c.log.Warn().Err(err).Str("table", t.name).Msg("dropping change event")
			return
		}
		fn(ev)
	})
}

func (t *Table[T]) decode(row model.Row) (T, error) {
	rec, err := model.Decode[T](row)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: decode %s row: %v", ErrMalformedEvent, t.name, err)
	}
	return rec, nil
}

func (t *Table[T]) decodeAll(rows []model.Row) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		rec, err := t.decode(r)
		if err != nil {
			t.c.log.Warn().Err(err).Str("id", r.ID()).Msg("skipping undecodable row")
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Event converts a provider change into a typed event. The key may still be
// empty when the provider omitted ids; the reconciler drops such events.
func Event[T model.Record](ch store.Change) (model.ChangeEvent[T], error) {
	if !ch.Type.Valid() {
		return model.ChangeEvent[T]{}, fmt.Errorf("%w: event type %q", ErrMalformedEvent, ch.Type)
	}
	ev := model.ChangeEvent[T]{Type: ch.Type, Key: ch.Key()}
	if ch.New != nil {
		rec, err := model.Decode[T](ch.New)
		if err != nil {
			return model.ChangeEvent[T]{}, fmt.Errorf("%w: new: %v", ErrMalformedEvent, err)
		}
		ev.New = &rec
	}
	if ch.Old != nil {
		rec, err := model.Decode[T](ch.Old)
		if err != nil {
			return model.ChangeEvent[T]{}, fmt.Errorf("%w: old: %v", ErrMalformedEvent, err)
		}
		ev.Old = &rec
	}
	if ch.Type != model.EventDelete && ev.New == nil {
		return model.ChangeEvent[T]{}, fmt.Errorf("%w: %s without new row", ErrMalformedEvent, ch.Type)
	}
	return ev, nil
}
