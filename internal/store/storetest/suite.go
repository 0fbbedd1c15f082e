package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

// Run exercises a minimal compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store and return it from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	// Subscribe before mutating so the echo of our own writes is observed.
	events := &collector{}
	sub, err := s.Subscribe(ctx, model.TableTasks, events.add)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() { _ = sub.Close() }()
	if sub.Table() != model.TableTasks {
		t.Fatalf("Subscription.Table: got %q", sub.Table())
	}

	// Create
	a, err := s.Create(ctx, model.TableTasks, model.Fields{"title": "A", "created_by": "alice"})
	if err != nil {
		t.Fatalf("Create A: %v", err)
	}
	if a.ID() == "" {
		t.Fatalf("Create A: empty id")
	}
	if a["status"] != "not_started" {
		t.Fatalf("Create A: default status not applied, got %v", a["status"])
	}
	ca, err := model.ParseTime(a[model.ColCreatedAt])
	if err != nil {
		t.Fatalf("Create A: created_at: %v", err)
	}
	ua, err := model.ParseTime(a[model.ColUpdatedAt])
	if err != nil || !ua.Equal(ca) {
		t.Fatalf("Create A: updated_at=%v want %v (err=%v)", ua, ca, err)
	}

	time.Sleep(5 * time.Millisecond)
	b, err := s.Create(ctx, model.TableTasks, model.Fields{"title": "B", "created_by": "bob"})
	if err != nil {
		t.Fatalf("Create B: %v", err)
	}

	// Rejected payloads
	if _, err := s.Create(ctx, model.TableTasks, model.Fields{"title": "X", "id": "forced"}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("Create with id: expected ErrValidation, got %v", err)
	}
	if _, err := s.Create(ctx, "materials", model.Fields{"title": "X"}); !errors.Is(err, store.ErrUnknownTable) {
		t.Fatalf("Create unknown table: expected ErrUnknownTable, got %v", err)
	}

	// Get
	if got, err := s.Get(ctx, model.TableTasks, a.ID()); err != nil || got["title"] != "A" || got[model.ColCreatedBy] != "alice" {
		t.Fatalf("Get A: got=%v err=%v", got, err)
	}
	if _, err := s.Get(ctx, model.TableTasks, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get missing: expected ErrNotFound, got %v", err)
	}

	// List newest first
	lst, err := s.List(ctx, model.TableTasks)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	order := ids(lst, a.ID(), b.ID())
	if len(order) != 2 || order[0] != b.ID() || order[1] != a.ID() {
		t.Fatalf("List order: got %v want [%s %s]", order, b.ID(), a.ID())
	}

	// Update is partial and does not stamp updated_at
	stamp := ca.Add(5 * time.Minute)
	up, err := s.Update(ctx, model.TableTasks, a.ID(), model.Fields{"status": "completed", model.ColUpdatedAt: stamp})
	if err != nil {
		t.Fatalf("Update A: %v", err)
	}
	if up["status"] != "completed" || up["title"] != "A" {
		t.Fatalf("Update A: got %v", up)
	}
	if got, _ := model.ParseTime(up[model.ColUpdatedAt]); !got.Equal(stamp) {
		t.Fatalf("Update A: updated_at=%v want %v", got, stamp)
	}
	if _, err := s.Update(ctx, model.TableTasks, a.ID(), model.Fields{model.ColCreatedBy: "mallory"}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("Update immutable: expected ErrValidation, got %v", err)
	}
	if _, err := s.Update(ctx, model.TableTasks, "00000000-0000-0000-0000-000000000000", model.Fields{"title": "Z"}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Update missing: expected ErrNotFound, got %v", err)
	}

	// Delete
	if err := s.Delete(ctx, model.TableTasks, b.ID()); err != nil {
		t.Fatalf("Delete B: %v", err)
	}
	if _, err := s.Get(ctx, model.TableTasks, b.ID()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get deleted: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, model.TableTasks, b.ID()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Delete twice: expected ErrNotFound, got %v", err)
	}

	// Channel: own writes are echoed; DELETE carries the old id.
	if !events.waitFor(4, 5*time.Second) {
		t.Fatalf("Channel: got %d events, want 4", events.len())
	}
	got := events.snapshot()
	seen := map[model.EventType]int{}
	for _, c := range got {
		if c.Table != model.TableTasks {
			t.Fatalf("Channel: change for table %q", c.Table)
		}
		seen[c.Type]++
		switch c.Type {
		case model.EventInsert:
			if c.New.ID() == "" {
				t.Fatalf("Channel: INSERT without new id")
			}
		case model.EventUpdate:
			if c.New.ID() != a.ID() || c.New["status"] != "completed" {
				t.Fatalf("Channel: UPDATE new=%v", c.New)
			}
		case model.EventDelete:
			if c.New != nil || c.Old.ID() != b.ID() {
				t.Fatalf("Channel: DELETE new=%v old=%v", c.New, c.Old)
			}
		}
	}
	if seen[model.EventInsert] != 2 || seen[model.EventUpdate] != 1 || seen[model.EventDelete] != 1 {
		t.Fatalf("Channel: unexpected mix %v", seen)
	}

	// Close is idempotent and stops delivery.
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close twice: %v", err)
	}
	before := events.len()
	if _, err := s.Create(ctx, model.TableTasks, model.Fields{"title": "C"}); err != nil {
		t.Fatalf("Create C: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if events.len() != before {
		t.Fatalf("Channel: delivery after Close")
	}

	// Other tables are isolated.
	notes := &collector{}
	nsub, err := s.Subscribe(ctx, model.TableNotes, notes.add)
	if err != nil {
		t.Fatalf("Subscribe notes: %v", err)
	}
	defer func() { _ = nsub.Close() }()
	n, err := s.Create(ctx, model.TableNotes, model.Fields{"title": "N", "content": "hello"})
	if err != nil {
		t.Fatalf("Create note: %v", err)
	}
	if !notes.waitFor(1, 5*time.Second) {
		t.Fatalf("Channel notes: no INSERT delivered")
	}
	if c := notes.snapshot()[0]; c.Type != model.EventInsert || c.New.ID() != n.ID() || c.New["content"] != "hello" {
		t.Fatalf("Channel notes: got %+v", c)
	}
}

type collector struct {
	mu  sync.Mutex
	got []store.Change
}

func (c *collector) add(ch store.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ch)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *collector) snapshot() []store.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]store.Change(nil), c.got...)
}

func (c *collector) waitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.len() >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return c.len() >= n
}

func ids(rows []model.Row, keep ...string) []string {
	want := map[string]bool{}
	for _, k := range keep {
		want[k] = true
	}
	var out []string
	for _, r := range rows {
		if want[r.ID()] {
			out = append(out, r.ID())
		}
	}
	return out
}
