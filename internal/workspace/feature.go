package workspace

import (
	"context"
	"sync"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/reconcile"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/syncclient"
)

// Feature pairs a typed table with its reconciled collection. Mutations only
// reach the collection through Apply, whether they come back from the store
// call or over the change channel.
type Feature[T model.Record] struct {
	client *syncclient.Client
	table  *syncclient.Table[T]
	coll   *reconcile.Collection[T]

	rmu sync.Mutex // one resync at a time

	mu        sync.Mutex
	buffering bool // channel events are held while a resync snapshot is in flight
	pending   []model.ChangeEvent[T]
}

func newFeature[T model.Record](c *syncclient.Client, name string, opts ...reconcile.Option) (*Feature[T], error) {
	tbl, err := syncclient.NewTable[T](c, name)
	if err != nil {
		return nil, err
	}
	opts = append([]reconcile.Option{reconcile.WithName(name)}, opts...)
	return &Feature[T]{client: c, table: tbl, coll: reconcile.New[T](opts...)}, nil
}

// Name returns the backing table name.
func (f *Feature[T]) Name() string { return f.table.Name() }

// Collection exposes the reconciled collection for reads and listeners.
func (f *Feature[T]) Collection() *reconcile.Collection[T] { return f.coll }

// Items returns the collection, newest first.
func (f *Feature[T]) Items() []T { return f.coll.Items() }

// Create inserts a record and merges the result. On error the collection is unchanged.
func (f *Feature[T]) Create(ctx context.Context, fields model.Fields) (T, error) {
	ev, err := f.table.Create(ctx, fields)
	if err != nil {
		var zero T
		return zero, err
	}
	f.coll.Apply(ev)
	return *ev.New, nil
}

// Update stamps updated_at with the client clock, applies fields and merges the result.
func (f *Feature[T]) Update(ctx context.Context, id string, fields model.Fields) (T, error) {
	if _, ok := fields[model.ColUpdatedAt]; !ok {
		fields = f.client.Stamp(fields)
	}
	ev, err := f.table.Update(ctx, id, fields)
	if err != nil {
		var zero T
		return zero, err
	}
	f.coll.Apply(ev)
	return *ev.New, nil
}

// Delete removes id and merges the removal.
func (f *Feature[T]) Delete(ctx context.Context, id string) error {
	ev, err := f.table.Delete(ctx, id)
	if err != nil {
		return err
	}
	f.coll.Apply(ev)
	return nil
}

func (f *Feature[T]) subscribe(ctx context.Context) (*syncclient.Subscription, error) {
	return f.table.Subscribe(ctx, f.deliver)
}

func (f *Feature[T]) deliver(ev model.ChangeEvent[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buffering {
		f.pending = append(f.pending, ev)
		return
	}
	f.coll.Apply(ev)
}

// resync replaces the collection with a fresh snapshot. Events delivered
// while the snapshot is fetched are replayed on top of it, so a change
// committed after the snapshot was read is not lost.
func (f *Feature[T]) resync(ctx context.Context) error {
	f.rmu.Lock()
	defer f.rmu.Unlock()

	f.mu.Lock()
	f.buffering = true
	f.pending = nil
	f.mu.Unlock()

	recs, err := f.table.Resync(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	pending := f.pending
	f.pending = nil
	f.buffering = false
	if err == nil {
		f.coll.Reset(recs)
	}
	for _, ev := range pending {
		f.coll.Apply(ev)
	}
	return err
}
