package syncclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/auth"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/memory"
)

func newClient(t *testing.T, a auth.Authenticator, opts ...Option) (*Client, *memory.Store) {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })
	c, err := New(st, a, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, st
}

func TestCreate_StampsActorAndRejectsServerFields(t *testing.T) {
	c, _ := newClient(t, auth.Static("alice"))
	ctx := context.Background()

	row, err := c.Create(ctx, model.TableTasks, model.Fields{"title": "A"})
	require.NoError(t, err)
	assert.Equal(t, "alice", row[model.ColCreatedBy])
	assert.NotEmpty(t, row.ID())

	row, err = c.Create(ctx, model.TableTasks, model.Fields{"title": "B", "created_by": "import-job"})
	require.NoError(t, err)
	assert.Equal(t, "import-job", row[model.ColCreatedBy])

	for _, k := range []string{"id", "created_at", "updated_at"} {
		_, err := c.Create(ctx, model.TableTasks, model.Fields{"title": "X", k: "v"})
		assert.ErrorIs(t, err, ErrValidation, k)
	}
}

func TestUnauthenticated(t *testing.T) {
	c, _ := newClient(t, auth.Static(""))
	_, err := c.Create(context.Background(), model.TableNotes, model.Fields{"title": "n"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, IsRetryable(err))
}

func TestUpdate_RequiresUpdatedAt(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC)
	c, _ := newClient(t, auth.Static("alice"), WithClock(func() time.Time { return at }))
	ctx := context.Background()

	row, err := c.Create(ctx, model.TableTasks, model.Fields{"title": "A"})
	require.NoError(t, err)

	_, err = c.Update(ctx, model.TableTasks, row.ID(), model.Fields{"status": "completed"})
	assert.ErrorIs(t, err, ErrValidation)

	up, err := c.Update(ctx, model.TableTasks, row.ID(), c.Stamp(model.Fields{"status": "completed"}))
	require.NoError(t, err)
	assert.Equal(t, "completed", up["status"])
	assert.Equal(t, at, up[model.ColUpdatedAt])

	_, err = c.Update(ctx, model.TableTasks, "missing", c.Stamp(model.Fields{"title": "x"}))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.Delete(ctx, model.TableTasks, "missing"), ErrNotFound)
}

type slowStore struct {
	*memory.Store
}

func (s slowStore) Create(ctx context.Context, table string, fields model.Fields) (model.Row, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type brokenStore struct {
	*memory.Store
}

func (brokenStore) List(context.Context, string) ([]model.Row, error) {
	return nil, errors.New("connection reset by peer")
}

func TestTimeoutAndUntaggedErrorsAreUnavailable(t *testing.T) {
	st := memory.New()
	defer st.Close()

	c, err := New(slowStore{st}, auth.Static("alice"), WithOpTimeout(20*time.Millisecond))
	require.NoError(t, err)
	_, err = c.Create(context.Background(), model.TableTasks, model.Fields{"title": "A"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsRetryable(err))

	c, err = New(brokenStore{st}, auth.Static("alice"))
	require.NoError(t, err)
	_, err = c.List(context.Background(), model.TableTasks)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOptionsValidate(t *testing.T) {
	st := memory.New()
	defer st.Close()
	_, err := New(st, nil, WithOpTimeout(0))
	assert.Error(t, err)
	_, err = New(nil, nil)
	assert.Error(t, err)
}

func TestSubscribe_SelfEchoAndIdempotentUnsubscribe(t *testing.T) {
	c, _ := newClient(t, auth.Static("alice"))
	ctx := context.Background()

	got := make(chan store.Change, 8)
	sub, err := c.Subscribe(ctx, model.TableTasks, func(ch store.Change) { got <- ch })
	require.NoError(t, err)
	assert.Equal(t, 1, c.Subscriptions(model.TableTasks))

	row, err := c.Create(ctx, model.TableTasks, model.Fields{"title": "A"})
	require.NoError(t, err)
	select {
	case ch := <-got:
		assert.Equal(t, model.EventInsert, ch.Type)
		assert.Equal(t, row.ID(), ch.Key())
	case <-time.After(time.Second):
		t.Fatalf("own insert not echoed")
	}

	require.NoError(t, c.Unsubscribe(sub))
	require.NoError(t, c.Unsubscribe(sub))
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, c.Subscriptions(model.TableTasks))
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatalf("subscription not done after unsubscribe")
	}
}

func TestSubscribe_DuplicatesEachDeliver(t *testing.T) {
	c, _ := newClient(t, auth.Static("alice"))
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	h := func(store.Change) { mu.Lock(); count++; mu.Unlock() }
	_, err := c.Subscribe(ctx, model.TableNotes, h)
	require.NoError(t, err)
	_, err = c.Subscribe(ctx, model.TableNotes, h)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Subscriptions(model.TableNotes))

	_, err = c.Create(ctx, model.TableNotes, model.Fields{"title": "n"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return count == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Subscriptions(model.TableNotes))
	_, err = c.List(ctx, model.TableNotes)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResyncNewestFirst(t *testing.T) {
	c, _ := newClient(t, auth.Static("alice"))
	ctx := context.Background()
	for _, title := range []string{"1", "2", "3"} {
		_, err := c.Create(ctx, model.TableNotes, model.Fields{"title": title})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	rows, err := c.Resync(ctx, model.TableNotes)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "3", rows[0]["title"])
	assert.Equal(t, "1", rows[2]["title"])
}
