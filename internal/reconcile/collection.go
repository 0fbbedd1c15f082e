// Package reconcile keeps one authoritative, newest-first in-memory copy of a
// table. Local CRUD results and channel events go through the same Apply, which
// is the only code path that mutates the collection.
package reconcile

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/metrics"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
)

// Outcome describes what Apply did with an event.
type Outcome string

const (
	Inserted       Outcome = "inserted"
	Duplicate      Outcome = "duplicate"
	ImplicitInsert Outcome = "implicit_insert"
	Replaced       Outcome = "replaced"
	Stale          Outcome = "stale"
	Removed        Outcome = "removed"
	Missing        Outcome = "missing"
	Malformed      Outcome = "malformed"
)

// Changed reports whether the visible collection changed.
func (o Outcome) Changed() bool {
	switch o {
	case Inserted, ImplicitInsert, Replaced, Removed:
		return true
	}
	return false
}

// Listener observes merges that changed the collection. prev is the record
// held before the merge, nil on inserts. Listeners run in merge order and must
// not call Apply on the same collection.
type Listener[T model.Record] func(ev model.ChangeEvent[T], prev *T)

// Option configures a Collection.
type Option func(*options)

type options struct {
	cap  int
	name string
	log  zerolog.Logger
}

// WithCap bounds the collection length; the oldest entries fall off. Zero means unbounded.
func WithCap(n int) Option { return func(o *options) { o.cap = n } }

// WithName labels metrics and logs.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithLogger sets the logger used for dropped events.
func WithLogger(log zerolog.Logger) Option { return func(o *options) { o.log = log } }

// Collection is safe for concurrent use.
type Collection[T model.Record] struct {
	opts options

	notify sync.Mutex // serializes Apply so listeners observe merge order
	mu     sync.RWMutex
	items  []T
	sel    string

	lmu       sync.Mutex
	listeners map[int]Listener[T]
	nextL     int
}

// New returns an empty collection.
func New[T model.Record](opts ...Option) *Collection[T] {
	o := options{name: "collection", log: zerolog.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	return &Collection[T]{opts: o, listeners: make(map[int]Listener[T])}
}

// Apply merges ev:
//   - INSERT prepends unless the id is already held.
//   - UPDATE replaces in place when not older than the held copy, and
//     materializes unseen ids.
//   - DELETE removes the id and clears the selection if it pointed there.
//
// Events without an id are dropped and logged.
func (c *Collection[T]) Apply(ev model.ChangeEvent[T]) Outcome {
	c.notify.Lock()
	defer c.notify.Unlock()

	out, prev := c.merge(ev)
	metrics.MergesTotal.WithLabelValues(c.opts.name, string(out)).Inc()
	if out == Malformed {
		c.opts.log.Warn().Str("collection", c.opts.name).Str("type", string(ev.Type)).Msg("dropping malformed event")
		return out
	}
	if out.Changed() {
		for _, fn := range c.snapshotListeners() {
			fn(ev, prev)
		}
	}
	return out
}

func (c *Collection[T]) merge(ev model.ChangeEvent[T]) (Outcome, *T) {
	if ev.Key == "" || !ev.Type.Valid() {
		return Malformed, nil
	}
	if ev.Type != model.EventDelete && (ev.New == nil || (*ev.New).RecordID() != ev.Key) {
		return Malformed, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(ev.Key)
	switch ev.Type {
	case model.EventInsert:
		if i >= 0 {
			return Duplicate, nil
		}
		c.prepend(*ev.New)
		return Inserted, nil

	case model.EventUpdate:
		if i < 0 {
			c.prepend(*ev.New)
			return ImplicitInsert, nil
		}
		held := c.items[i]
		if (*ev.New).Updated().Before(held.Updated()) {
			return Stale, nil
		}
		c.items[i] = *ev.New
		return Replaced, &held

	default:
		if i < 0 {
			return Missing, nil
		}
		held := c.items[i]
		c.items = append(c.items[:i], c.items[i+1:]...)
		if c.sel == ev.Key {
			c.sel = ""
		}
		return Removed, &held
	}
}

func (c *Collection[T]) indexOf(id string) int {
	for i := range c.items {
		if c.items[i].RecordID() == id {
			return i
		}
	}
	return -1
}

func (c *Collection[T]) prepend(rec T) {
	c.items = append(c.items, rec)
	copy(c.items[1:], c.items[:len(c.items)-1])
	c.items[0] = rec
	c.truncate()
}

func (c *Collection[T]) truncate() {
	if c.opts.cap <= 0 || len(c.items) <= c.opts.cap {
		return
	}
	for _, rec := range c.items[c.opts.cap:] {
		if rec.RecordID() == c.sel {
			c.sel = ""
		}
	}
	clear(c.items[c.opts.cap:])
	c.items = c.items[:c.opts.cap]
}

// Reset replaces the contents with recs, typically after a full resync.
// Records are ordered newest first by created_at and duplicate ids keep the
// most recently updated copy. Listeners are not called.
func (c *Collection[T]) Reset(recs []T) {
	c.notify.Lock()
	defer c.notify.Unlock()

	byID := make(map[string]int, len(recs))
	items := make([]T, 0, len(recs))
	for _, r := range recs {
		id := r.RecordID()
		if id == "" {
			c.opts.log.Warn().Str("collection", c.opts.name).Msg("reset: skipping record without id")
			continue
		}
		if j, ok := byID[id]; ok {
			if !r.Updated().Before(items[j].Updated()) {
				items[j] = r
			}
			continue
		}
		byID[id] = len(items)
		items = append(items, r)
	}
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := items[i].Created(), items[j].Created()
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return items[i].RecordID() > items[j].RecordID()
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
	c.truncate()
	if c.sel != "" && c.indexOf(c.sel) < 0 {
		c.sel = ""
	}
}

// Items returns a copy of the collection, newest first.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.items...)
}

// Len returns the number of held records.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns the held copy of id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexOf(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Select marks id as the open record. Selecting an id that is not held, or
// "", clears the selection; the result reports whether id is now selected.
func (c *Collection[T]) Select(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" || c.indexOf(id) < 0 {
		c.sel = ""
		return false
	}
	c.sel = id
	return true
}

// Selected returns the open record, if any.
func (c *Collection[T]) Selected() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero T
	if c.sel == "" {
		return zero, false
	}
	i := c.indexOf(c.sel)
	if i < 0 {
		return zero, false
	}
	return c.items[i], true
}

// Subscribe registers fn for merges that change the collection. Call the
// returned function to unregister; it is safe to call more than once.
func (c *Collection[T]) Subscribe(fn Listener[T]) func() {
	c.lmu.Lock()
	id := c.nextL
	c.nextL++
	c.listeners[id] = fn
	c.lmu.Unlock()
	return func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}
}

func (c *Collection[T]) snapshotListeners() []Listener[T] {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener[T], len(ids))
	for i, id := range ids {
		out[i] = c.listeners[id]
	}
	return out
}
