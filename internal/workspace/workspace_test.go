package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/auth"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/localbus"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func sequence(prefix string) func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s%d", prefix, n.Add(1)) }
}

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEndToEnd_TaskCompletedOverChannel(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: t0}
	st := memory.New(memory.WithClock(clk.Now), memory.WithIDs(func() string { return "t1" }))
	defer st.Close()

	ws, err := Open(ctx, st, auth.Static("alice"))
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, ModeNetwork, ws.Mode())

	var merges atomic.Int32
	ws.Tasks.Collection().Subscribe(func(model.ChangeEvent[model.Task], *model.Task) { merges.Add(1) })

	task, err := ws.Tasks.Create(ctx, model.Fields{"title": "A", "status": "not_started"})
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, "alice", task.CreatedBy)
	assert.True(t, task.CreatedAt.Equal(t0))

	done := t0.Add(5 * time.Minute)
	_, err = ws.Tasks.Update(ctx, "t1", model.Fields{"status": "completed", model.ColUpdatedAt: done})
	require.NoError(t, err)

	// insert (local or echo), then the update from both paths
	require.Eventually(t, func() bool { return merges.Load() == 3 }, 2*time.Second, 5*time.Millisecond)

	items := ws.Tasks.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "t1", items[0].ID)
	assert.Equal(t, model.TaskCompleted, items[0].Status)

	feed := ws.Activity.Items()
	require.Len(t, feed, 2)
	assert.Equal(t, model.ActivityTaskCompleted, feed[0].Type)
	assert.True(t, feed[0].Timestamp.Equal(done))
	assert.Equal(t, model.ActivityTaskAdded, feed[1].Type)
}

func TestFailedMutationLeavesCollectionUnchanged(t *testing.T) {
	ctx := context.Background()
	ws, err := Open(ctx, localbus.New(localbus.NewMapStorage()), auth.Static("alice"))
	require.NoError(t, err)
	defer ws.Close()

	n, err := ws.Notes.Create(ctx, model.Fields{"title": "keep", "content": "x"})
	require.NoError(t, err)

	_, err = ws.Notes.Update(ctx, "missing", model.Fields{"title": "nope"})
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = ws.Tasks.Create(ctx, model.Fields{"title": "bad", "status": "done"})
	assert.True(t, errors.Is(err, model.ErrValidation))
	assert.Empty(t, ws.Tasks.Items())

	items := ws.Notes.Items()
	require.Len(t, items, 1)
	assert.Equal(t, n, items[0])
}

func TestUnauthenticatedCreateIsRejected(t *testing.T) {
	ctx := context.Background()
	ws, err := Open(ctx, localbus.New(localbus.NewMapStorage()), auth.Static(""))
	require.NoError(t, err)
	defer ws.Close()

	_, err = ws.Messages.Create(ctx, model.Fields{"content": "hi"})
	assert.True(t, errors.Is(err, model.ErrUnauthorized))
	assert.Empty(t, ws.Messages.Items())
}

func TestOpenLoadsExistingRowsAndRebuildsFeed(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: t0}
	st := memory.New(memory.WithClock(clk.Now), memory.WithIDs(sequence("r")))
	defer st.Close()

	_, err := st.Create(ctx, model.TableTasks, model.Fields{"title": "old"})
	require.NoError(t, err)
	clk.Set(t0.Add(time.Minute))
	_, err = st.Create(ctx, model.TableNotes, model.Fields{"title": "n", "content": "c"})
	require.NoError(t, err)

	ws, err := Open(ctx, st, auth.Static("alice"))
	require.NoError(t, err)
	defer ws.Close()

	require.Len(t, ws.Tasks.Items(), 1)
	require.Len(t, ws.Notes.Items(), 1)
	feed := ws.Activity.Items()
	require.Len(t, feed, 2)
	assert.Equal(t, model.ActivityNoteAdded, feed[0].Type)
	assert.Equal(t, model.ActivityTaskAdded, feed[1].Type)
}

// script runs the same mutations against any workspace, moving the store
// clock before each create so both backends see identical timestamps.
func script(t *testing.T, ws *Workspace, clk *clock) {
	t.Helper()
	ctx := context.Background()

	clk.Set(t0)
	a, err := ws.Tasks.Create(ctx, model.Fields{"title": "A", "assigned_to": "bob"})
	require.NoError(t, err)
	clk.Set(t0.Add(time.Minute))
	b, err := ws.Tasks.Create(ctx, model.Fields{"title": "B"})
	require.NoError(t, err)
	clk.Set(t0.Add(2 * time.Minute))
	n, err := ws.Notes.Create(ctx, model.Fields{"title": "N", "content": "draft"})
	require.NoError(t, err)
	clk.Set(t0.Add(3 * time.Minute))
	_, err = ws.Messages.Create(ctx, model.Fields{"content": "hello"})
	require.NoError(t, err)

	_, err = ws.Tasks.Update(ctx, a.ID, model.Fields{"status": "completed", model.ColUpdatedAt: t0.Add(4 * time.Minute)})
	require.NoError(t, err)
	_, err = ws.Notes.Update(ctx, n.ID, model.Fields{"content": "final", model.ColUpdatedAt: t0.Add(5 * time.Minute)})
	require.NoError(t, err)
	require.NoError(t, ws.Tasks.Delete(ctx, b.ID))
}

type snapshot struct {
	Tasks    []model.Task
	Notes    []model.Note
	Messages []model.Message
	Feed     []model.ActivityItem
}

func snap(ws *Workspace) snapshot {
	return snapshot{
		Tasks:    ws.Tasks.Items(),
		Notes:    ws.Notes.Items(),
		Messages: ws.Messages.Items(),
		Feed:     ws.Activity.Items(),
	}
}

func TestFallbackAndNetworkParity(t *testing.T) {
	ctx := context.Background()

	netClock := &clock{}
	net := memory.New(memory.WithClock(netClock.Now), memory.WithIDs(sequence("id-")))
	defer net.Close()
	netWS, err := Open(ctx, net, auth.Static("alice"))
	require.NoError(t, err)
	defer netWS.Close()

	busClock := &clock{}
	bus := localbus.New(localbus.NewMapStorage(), localbus.WithClock(busClock.Now), localbus.WithIDs(sequence("id-")))
	busWS, err := Open(ctx, bus, auth.Static("alice"))
	require.NoError(t, err)
	defer busWS.Close()
	assert.Equal(t, ModeFallback, busWS.Mode())

	script(t, netWS, netClock)
	script(t, busWS, busClock)

	want := snap(busWS)
	require.Len(t, want.Tasks, 1)
	require.Len(t, want.Feed, 5)
	assert.Equal(t, model.ActivityNoteUpdated, want.Feed[0].Type)

	// the network side converges once its echoes drain
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, snap(netWS))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFallbackFeedSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	storage, err := localbus.OpenSQLite(ctx, path)
	require.NoError(t, err)
	ws, err := Open(ctx, localbus.New(storage), auth.Static("alice"))
	require.NoError(t, err)
	_, err = ws.Tasks.Create(ctx, model.Fields{"title": "persisted"})
	require.NoError(t, err)
	require.NoError(t, ws.Close())
	require.NoError(t, storage.Close())

	storage, err = localbus.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer storage.Close()
	ws, err = Open(ctx, localbus.New(storage), auth.Static("alice"))
	require.NoError(t, err)
	defer ws.Close()

	require.Len(t, ws.Tasks.Items(), 1)
	feed := ws.Activity.Items()
	require.Len(t, feed, 1)
	assert.Equal(t, "persisted", feed[0].Title)
}

func TestReconnectAfterSubscriptionLoss(t *testing.T) {
	ctx := context.Background()
	bus := localbus.New(localbus.NewMapStorage())

	lost := make(chan string, 8)
	ws, err := Open(ctx, bus, auth.Static("alice"), WithDisconnectHandler(func(table string) { lost <- table }))
	require.NoError(t, err)
	defer ws.Close()

	// drop every subscription from underneath the workspace
	require.NoError(t, bus.Close())
	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("disconnect not reported")
	}

	// a write nobody hears about
	_, err = bus.Create(ctx, model.TableTasks, model.Fields{"title": "missed"})
	require.NoError(t, err)
	assert.Empty(t, ws.Tasks.Items())

	require.NoError(t, ws.Reconnect(ctx))
	require.Len(t, ws.Tasks.Items(), 1)
	assert.Equal(t, 1, bus.Subscribers(model.TableTasks))

	_, err = bus.Create(ctx, model.TableTasks, model.Fields{"title": "heard"})
	require.NoError(t, err)
	assert.Len(t, ws.Tasks.Items(), 2)
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := localbus.New(localbus.NewMapStorage())
	ws, err := Open(context.Background(), bus, auth.Static("alice"))
	require.NoError(t, err)
	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())
	assert.Equal(t, 0, bus.Subscribers(model.TableTasks))
	assert.ErrorIs(t, ws.Reconnect(context.Background()), ErrClosed)
}

// racingBus runs during once, right after a tasks List has read its rows and
// before they are returned.
type racingBus struct {
	*localbus.Bus
	armed  atomic.Bool
	during func(ctx context.Context)
}

func (b *racingBus) List(ctx context.Context, table string) ([]model.Row, error) {
	rows, err := b.Bus.List(ctx, table)
	if err == nil && table == model.TableTasks && b.armed.CompareAndSwap(true, false) {
		b.during(ctx)
	}
	return rows, err
}

func titles(tasks []model.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Title)
	}
	return out
}

func TestOpenKeepsChangesCommittedDuringInitialLoad(t *testing.T) {
	ctx := context.Background()
	rb := &racingBus{Bus: localbus.New(localbus.NewMapStorage())}
	rb.during = func(ctx context.Context) {
		_, err := rb.Bus.Create(ctx, model.TableTasks, model.Fields{"title": "late"})
		require.NoError(t, err)
	}
	rb.armed.Store(true)

	ws, err := Open(ctx, rb, auth.Static("alice"))
	require.NoError(t, err)
	defer ws.Close()

	rows, err := rb.Bus.List(ctx, model.TableTasks)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"late"}, titles(ws.Tasks.Items()))
}

func TestResyncKeepsChangesCommittedDuringSnapshot(t *testing.T) {
	ctx := context.Background()
	rb := &racingBus{Bus: localbus.New(localbus.NewMapStorage())}

	ws, err := Open(ctx, rb, auth.Static("alice"))
	require.NoError(t, err)
	defer ws.Close()

	keep, err := ws.Tasks.Create(ctx, model.Fields{"title": "keep"})
	require.NoError(t, err)
	gone, err := ws.Tasks.Create(ctx, model.Fields{"title": "gone"})
	require.NoError(t, err)

	rb.during = func(ctx context.Context) {
		_, err := rb.Bus.Create(ctx, model.TableTasks, model.Fields{"title": "fresh"})
		require.NoError(t, err)
		_, err = rb.Bus.Update(ctx, model.TableTasks, keep.ID, model.Fields{"title": "renamed", model.ColUpdatedAt: keep.UpdatedAt.Add(time.Minute)})
		require.NoError(t, err)
		require.NoError(t, rb.Bus.Delete(ctx, model.TableTasks, gone.ID))
	}
	rb.armed.Store(true)

	require.NoError(t, ws.Resync(ctx))
	assert.False(t, rb.armed.Load(), "snapshot window was not exercised")

	rows, err := rb.Bus.List(ctx, model.TableTasks)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.ElementsMatch(t, []string{"fresh", "renamed"}, titles(ws.Tasks.Items()))
	_, held := ws.Tasks.Collection().Get(gone.ID)
	assert.False(t, held, "deleted task came back after resync")
}
