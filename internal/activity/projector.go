// Package activity derives the bounded admin activity feed from task and note merges.
package activity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
)

const (
	DefaultCap  = 10
	DefaultSkew = time.Second
)

// Store persists the feed between process restarts.
type Store interface {
	LoadActivities(ctx context.Context) ([]model.ActivityItem, error)
	SaveActivities(ctx context.Context, items []model.ActivityItem) error
}

// Option configures a Projector.
type Option func(*Projector)

// WithCap sets the feed length.
func WithCap(n int) Option {
	return func(p *Projector) {
		if n > 0 {
			p.cap = n
		}
	}
}

// WithHistory keeps up to n entries for the store while Items still returns
// only the cap. Values below the cap are ignored.
func WithHistory(n int) Option { return func(p *Projector) { p.history = n } }

// WithSkew sets how long after creation a note edit must land to count as note_updated.
func WithSkew(d time.Duration) Option { return func(p *Projector) { p.skew = d } }

// WithStore persists the feed after every change.
func WithStore(s Store) Option { return func(p *Projector) { p.sink = s } }

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option { return func(p *Projector) { p.log = log } }

// Projector holds the feed sorted newest first and truncated to its cap.
type Projector struct {
	cap     int
	history int
	skew    time.Duration
	sink    Store
	log     zerolog.Logger

	pub   sync.Mutex // orders persistence and listener calls with mutations
	mu    sync.Mutex
	items []model.ActivityItem

	lmu       sync.Mutex
	listeners map[int]func([]model.ActivityItem)
	nextL     int
}

func New(opts ...Option) *Projector {
	p := &Projector{cap: DefaultCap, skew: DefaultSkew, log: zerolog.Nop(), listeners: map[int]func([]model.ActivityItem){}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ItemID derives the feed id for an entry. Added entries have one id per
// object; completed and updated entries have one per occurrence, keyed by
// the updated_at that produced them, so a local result and its channel echo
// collapse into one entry.
func ItemID(objectID string, typ model.ActivityType, at time.Time) string {
	switch typ {
	case model.ActivityTaskAdded, model.ActivityNoteAdded:
		return fmt.Sprintf("%s:%s", objectID, typ)
	default:
		return fmt.Sprintf("%s:%s:%d", objectID, typ, at.UTC().UnixNano())
	}
}

// OnTask is a reconcile.Listener for the task collection.
func (p *Projector) OnTask(ev model.ChangeEvent[model.Task], prev *model.Task) {
	if item, ok := p.taskItem(ev, prev); ok {
		p.add(item)
	}
}

// OnNote is a reconcile.Listener for the note collection.
func (p *Projector) OnNote(ev model.ChangeEvent[model.Note], _ *model.Note) {
	if item, ok := p.noteItem(ev); ok {
		p.add(item)
	}
}

func (p *Projector) taskItem(ev model.ChangeEvent[model.Task], prev *model.Task) (model.ActivityItem, bool) {
	if ev.New == nil {
		return model.ActivityItem{}, false
	}
	t := *ev.New
	switch ev.Type {
	case model.EventInsert:
		return entry(t.Base, model.ActivityTaskAdded, t.CreatedAt, t.Title), true
	case model.EventUpdate:
		before := prev
		if before == nil {
			before = ev.Old
		}
		if t.Status != model.TaskCompleted || (before != nil && before.Status == model.TaskCompleted) {
			return model.ActivityItem{}, false
		}
		return entry(t.Base, model.ActivityTaskCompleted, t.UpdatedAt, t.Title), true
	}
	return model.ActivityItem{}, false
}

func (p *Projector) noteItem(ev model.ChangeEvent[model.Note]) (model.ActivityItem, bool) {
	if ev.New == nil {
		return model.ActivityItem{}, false
	}
	n := *ev.New
	switch ev.Type {
	case model.EventInsert:
		return entry(n.Base, model.ActivityNoteAdded, n.CreatedAt, n.Title), true
	case model.EventUpdate:
		if n.UpdatedAt.Sub(n.CreatedAt) < p.skew {
			return model.ActivityItem{}, false
		}
		return entry(n.Base, model.ActivityNoteUpdated, n.UpdatedAt, n.Title), true
	}
	return model.ActivityItem{}, false
}

func entry(b model.Base, typ model.ActivityType, at time.Time, title string) model.ActivityItem {
	return model.ActivityItem{
		ID:        ItemID(b.ID, typ, at),
		Type:      typ,
		Timestamp: at.UTC(),
		User:      b.CreatedBy,
		Title:     title,
		ObjectID:  b.ID,
	}
}

// Rebuild derives the feed from full table contents, as loaded from the store.
func (p *Projector) Rebuild(tasks []model.Task, notes []model.Note) {
	var items []model.ActivityItem
	for _, t := range tasks {
		items = append(items, entry(t.Base, model.ActivityTaskAdded, t.CreatedAt, t.Title))
		if t.Status == model.TaskCompleted {
			items = append(items, entry(t.Base, model.ActivityTaskCompleted, t.UpdatedAt, t.Title))
		}
	}
	for _, n := range notes {
		items = append(items, entry(n.Base, model.ActivityNoteAdded, n.CreatedAt, n.Title))
		if n.UpdatedAt.Sub(n.CreatedAt) >= p.skew {
			items = append(items, entry(n.Base, model.ActivityNoteUpdated, n.UpdatedAt, n.Title))
		}
	}
	p.replace(items)
}

// Load restores the feed from the configured store.
func (p *Projector) Load(ctx context.Context) error {
	if p.sink == nil {
		return nil
	}
	items, err := p.sink.LoadActivities(ctx)
	if err != nil {
		return err
	}
	p.replace(items)
	return nil
}

// Items returns the feed, newest first, at most cap entries.
func (p *Projector) Items() []model.ActivityItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible(p.items)
}

func (p *Projector) visible(items []model.ActivityItem) []model.ActivityItem {
	if len(items) > p.cap {
		items = items[:p.cap]
	}
	return append([]model.ActivityItem(nil), items...)
}

func (p *Projector) keep() int {
	if p.history > p.cap {
		return p.history
	}
	return p.cap
}

// Subscribe registers fn to receive the feed after every change.
func (p *Projector) Subscribe(fn func([]model.ActivityItem)) func() {
	p.lmu.Lock()
	id := p.nextL
	p.nextL++
	p.listeners[id] = fn
	p.lmu.Unlock()
	return func() {
		p.lmu.Lock()
		delete(p.listeners, id)
		p.lmu.Unlock()
	}
}

func (p *Projector) add(item model.ActivityItem) {
	p.pub.Lock()
	defer p.pub.Unlock()
	p.mu.Lock()
	next := make([]model.ActivityItem, 0, len(p.items)+1)
	next = append(next, item)
	for _, it := range p.items {
		if it.ID != item.ID {
			next = append(next, it)
		}
	}
	p.items = p.normalize(next)
	snapshot := append([]model.ActivityItem(nil), p.items...)
	p.mu.Unlock()
	p.publish(snapshot)
}

func (p *Projector) replace(items []model.ActivityItem) {
	p.pub.Lock()
	defer p.pub.Unlock()
	seen := make(map[string]bool, len(items))
	uniq := make([]model.ActivityItem, 0, len(items))
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		uniq = append(uniq, it)
	}
	p.mu.Lock()
	p.items = p.normalize(uniq)
	snapshot := append([]model.ActivityItem(nil), p.items...)
	p.mu.Unlock()
	p.publish(snapshot)
}

func (p *Projector) normalize(items []model.ActivityItem) []model.ActivityItem {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > p.keep() {
		items = items[:p.keep()]
	}
	return items
}

func (p *Projector) publish(items []model.ActivityItem) {
	if p.sink != nil {
		if err := p.sink.SaveActivities(context.Background(), items); err != nil {
			p.log.Error().Err(err).Msg("persist activity feed")
		}
	}
	p.lmu.Lock()
	fns := make([]func([]model.ActivityItem), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.lmu.Unlock()
	for _, fn := range fns {
		fn(p.visible(items))
	}
}
