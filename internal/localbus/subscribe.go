package localbus

import (
	"context"
	"sync"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

type subscription struct {
	bus   *Bus
	table string
	fn    store.Handler
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) Table() string { return s.table }

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.smu.Lock()
		if set := s.bus.subs[s.table]; set != nil {
			delete(set, s)
		}
		s.bus.smu.Unlock()
		close(s.done)
	})
	return nil
}

// Subscribe registers fn. It is called synchronously from the mutating call.
func (b *Bus) Subscribe(ctx context.Context, table string, fn store.Handler) (store.Subscription, error) {
	if _, err := store.Table(table); err != nil {
		return nil, err
	}
	s := &subscription{bus: b, table: table, fn: fn, done: make(chan struct{})}
	b.smu.Lock()
	if b.subs[table] == nil {
		b.subs[table] = make(map[*subscription]struct{})
	}
	b.subs[table][s] = struct{}{}
	b.smu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Subscribers reports how many subscriptions are open for table.
func (b *Bus) Subscribers(table string) int {
	b.smu.Lock()
	defer b.smu.Unlock()
	return len(b.subs[table])
}

// Close ends every subscription.
func (b *Bus) Close() error {
	b.smu.Lock()
	var all []*subscription
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.smu.Unlock()
	for _, s := range all {
		_ = s.Close()
	}
	return nil
}

func (b *Bus) dispatch(c store.Change) {
	b.smu.Lock()
	targets := make([]*subscription, 0, len(b.subs[c.Table]))
	for s := range b.subs[c.Table] {
		targets = append(targets, s)
	}
	b.smu.Unlock()

	for _, s := range targets {
		b.deliver(s, c)
	}
}

func (b *Bus) deliver(s *subscription, c store.Change) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("table", c.Table).Msg("change handler panicked")
		}
	}()
	select {
	case <-s.done:
		return
	default:
	}
	ev := c
	ev.New = c.New.Clone()
	ev.Old = c.Old.Clone()
	s.fn(ev)
}
