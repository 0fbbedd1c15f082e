// Package localbus is the fallback store used when no network store is
// configured. Rows live as JSON arrays in durable local storage and changes are
// dispatched synchronously on the caller's goroutine: the write commits, every
// subscriber runs, and only then do Create, Update and Delete return.
package localbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/activity"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

// Storage keys.
const (
	KeyTasks      = "admin.tasks"
	KeyNotes      = "admin.notes"
	KeyActivities = "admin.activities"
	KeyLastSync   = "admin.last_sync"
)

// MaxActivities bounds the persisted activity history.
const MaxActivities = 50

// TableKey returns the storage key holding table's rows.
func TableKey(table string) string { return "admin." + table }

// Option configures a Bus.
type Option func(*Bus)

func WithClock(now func() time.Time) Option { return func(b *Bus) { b.now = now } }

func WithIDs(next func() string) Option { return func(b *Bus) { b.nextID = next } }

func WithLogger(log zerolog.Logger) Option { return func(b *Bus) { b.log = log } }

// Bus implements store.Store and activity.Store over a Storage.
type Bus struct {
	storage Storage
	now     func() time.Time
	nextID  func() string
	log     zerolog.Logger

	mu   sync.Mutex // guards read-modify-write of storage keys
	smu  sync.Mutex
	subs map[string]map[*subscription]struct{}
}

var (
	_ store.Store    = (*Bus)(nil)
	_ activity.Store = (*Bus)(nil)
)

// New returns a bus over storage.
func New(storage Storage, opts ...Option) *Bus {
	b := &Bus{
		storage: storage,
		now:     time.Now,
		nextID:  func() string { return uuid.New().String() },
		log:     zerolog.Nop(),
		subs:    make(map[string]map[*subscription]struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bus) Create(ctx context.Context, table string, fields model.Fields) (model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	norm, err := t.NormalizeCreate(fields)
	if err != nil {
		return nil, err
	}
	now := b.now().UTC()
	row := model.Row(norm)
	row[model.ColID] = b.nextID()
	row[model.ColCreatedAt] = now
	row[model.ColUpdatedAt] = now

	b.mu.Lock()
	rows, err := b.load(ctx, t)
	if err == nil {
		rows = append([]model.Row{row}, rows...)
		err = b.save(ctx, t, rows, now)
	}
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	b.dispatch(store.Change{Table: table, Type: model.EventInsert, New: row.Clone(), CommitTime: now})
	return row, nil
}

func (b *Bus) Update(ctx context.Context, table, id string, fields model.Fields) (model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	norm, err := t.NormalizeUpdate(fields)
	if err != nil {
		return nil, err
	}
	now := b.now().UTC()

	b.mu.Lock()
	rows, err := b.load(ctx, t)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	i := indexOf(rows, id)
	if i < 0 {
		b.mu.Unlock()
		return nil, fmt.Errorf("%s %s: %w", table, id, model.ErrNotFound)
	}
	old := rows[i].Clone()
	next := rows[i].Clone()
	for k, v := range norm {
		next[k] = v
	}
	rows[i] = next
	err = b.save(ctx, t, rows, now)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	b.dispatch(store.Change{Table: table, Type: model.EventUpdate, New: next.Clone(), Old: old, CommitTime: now})
	return next, nil
}

func (b *Bus) Delete(ctx context.Context, table, id string) error {
	t, err := store.Table(table)
	if err != nil {
		return err
	}
	now := b.now().UTC()

	b.mu.Lock()
	rows, err := b.load(ctx, t)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	i := indexOf(rows, id)
	if i < 0 {
		b.mu.Unlock()
		return fmt.Errorf("%s %s: %w", table, id, model.ErrNotFound)
	}
	old := rows[i]
	rows = append(rows[:i], rows[i+1:]...)
	err = b.save(ctx, t, rows, now)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.dispatch(store.Change{Table: table, Type: model.EventDelete, Old: old, CommitTime: now})
	return nil
}

func (b *Bus) Get(ctx context.Context, table, id string) (model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	rows, err := b.load(ctx, t)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if i := indexOf(rows, id); i >= 0 {
		return rows[i], nil
	}
	return nil, fmt.Errorf("%s %s: %w", table, id, model.ErrNotFound)
}

func (b *Bus) List(ctx context.Context, table string) ([]model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	rows, err := b.load(ctx, t)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	model.CreatedDesc(rows)
	return rows, nil
}

// LastSync returns the time of the last local mutation.
func (b *Bus) LastSync(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := b.storage.Get(ctx, KeyLastSync)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	var ts time.Time
	if err := json.Unmarshal(raw, &ts); err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s: %w", KeyLastSync, err)
	}
	return ts, true, nil
}

// LoadActivities implements activity.Store.
func (b *Bus) LoadActivities(ctx context.Context) ([]model.ActivityItem, error) {
	raw, ok, err := b.storage.Get(ctx, KeyActivities)
	if err != nil || !ok {
		return nil, err
	}
	var items []model.ActivityItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyActivities, err)
	}
	return items, nil
}

// SaveActivities implements activity.Store, keeping the newest MaxActivities.
func (b *Bus) SaveActivities(ctx context.Context, items []model.ActivityItem) error {
	items = append([]model.ActivityItem(nil), items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp.After(items[j].Timestamp) })
	if len(items) > MaxActivities {
		items = items[:MaxActivities]
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return b.storage.Set(ctx, KeyActivities, raw)
}

func (b *Bus) load(ctx context.Context, t model.Table) ([]model.Row, error) {
	raw, ok, err := b.storage.Get(ctx, TableKey(t.Name))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrUnavailable, t.Name, err)
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var rows []model.Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", TableKey(t.Name), err)
	}
	for i := range rows {
		if rows[i], err = t.CoerceRow(rows[i]); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (b *Bus) save(ctx context.Context, t model.Table, rows []model.Row, at time.Time) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	if err := b.storage.Set(ctx, TableKey(t.Name), raw); err != nil {
		return fmt.Errorf("%w: write %s: %v", model.ErrUnavailable, t.Name, err)
	}
	stamp, _ := json.Marshal(at)
	if err := b.storage.Set(ctx, KeyLastSync, stamp); err != nil {
		b.log.Warn().Err(err).Msg("update last sync marker")
	}
	return nil
}

func indexOf(rows []model.Row, id string) int {
	for i, r := range rows {
		if r.ID() == id {
			return i
		}
	}
	return -1
}
