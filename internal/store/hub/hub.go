// Package hub fans store changes out to in-process subscribers.
//
// Each subscriber owns an unbounded FIFO queue drained by its own goroutine,
// so Publish never blocks the writer and a slow handler only delays itself.
package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

// Hub routes changes to the subscribers registered for each table.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
	log    zerolog.Logger
}

// New constructs an empty hub.
func New(log zerolog.Logger) *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), log: log}
}

// Subscribe registers fn for table. The subscription ends on Close or when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, table string, fn store.Handler) (store.Subscription, error) {
	s := &subscriber{
		hub:   h,
		table: table,
		fn:    fn,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, context.Canceled
	}
	if h.subs[table] == nil {
		h.subs[table] = make(map[*subscriber]struct{})
	}
	h.subs[table][s] = struct{}{}
	h.mu.Unlock()

	go s.run()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Publish enqueues c for every subscriber of c.Table.
func (h *Hub) Publish(c store.Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[c.Table] {
		s.enqueue(c)
	}
}

// Subscribers reports how many subscriptions are open for table.
func (h *Hub) Subscribers(table string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[table])
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.Drop()
}

// Drop ends every current subscription but keeps accepting new ones.
// Providers call it when their upstream feed was interrupted.
func (h *Hub) Drop() {
	h.mu.Lock()
	var all []*subscriber
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()
	for _, s := range all {
		_ = s.Close()
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.subs[s.table]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.table)
		}
	}
}

type subscriber struct {
	hub   *Hub
	table string
	fn    store.Handler

	mu     sync.Mutex
	queue  []store.Change
	closed bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *subscriber) Table() string { return s.table }

func (s *subscriber) Done() <-chan struct{} { return s.done }

func (s *subscriber) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		s.hub.remove(s)
		close(s.done)
	})
	return nil
}

func (s *subscriber) enqueue(c store.Change) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) next() (store.Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return store.Change{}, false
	}
	c := s.queue[0]
	s.queue[0] = store.Change{}
	s.queue = s.queue[1:]
	return c, true
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			c, ok := s.next()
			if !ok {
				break
			}
			s.deliver(c)
		}
	}
}

func (s *subscriber) deliver(c store.Change) {
	defer func() {
		if r := recover(); r != nil {
			s.hub.log.Error().Interface("panic", r).Str("table", s.table).Msg("change handler panicked")
		}
	}()
	s.fn(c)
}
