package syncclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/auth"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

func TestEvent(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ev, err := Event[model.Task](store.Change{Type: model.EventInsert, New: model.Row{
		"id": "t1", "created_at": ts, "updated_at": ts, "title": "A", "status": "not_started",
	}})
	require.NoError(t, err)
	assert.Equal(t, "t1", ev.Key)
	assert.Equal(t, "A", ev.New.Title)
	assert.Nil(t, ev.Old)

	ev, err = Event[model.Task](store.Change{Type: model.EventDelete, Old: model.Row{"id": "t1"}})
	require.NoError(t, err)
	assert.Equal(t, "t1", ev.Key)
	assert.Nil(t, ev.New)

	_, err = Event[model.Task](store.Change{Type: "TRUNCATE"})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Event[model.Task](store.Change{Type: model.EventUpdate, Old: model.Row{"id": "t1"}})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Event[model.Task](store.Change{Type: model.EventInsert, New: model.Row{"id": "t1", "created_at": "not a time"}})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	noteEv, err := Event[model.Note](store.Change{Type: model.EventInsert, New: model.Row{"title": "no id"}})
	require.NoError(t, err)
	assert.Empty(t, noteEv.Key)
}

func TestTable_TypedRoundTrip(t *testing.T) {
	c, _ := newClient(t, auth.Static("alice"))
	ctx := context.Background()

	tasks, err := NewTable[model.Task](c, model.TableTasks)
	require.NoError(t, err)
	_, err = NewTable[model.Task](c, "materials")
	assert.ErrorIs(t, err, store.ErrUnknownTable)

	events := make(chan model.ChangeEvent[model.Task], 4)
	_, err = tasks.Subscribe(ctx, func(ev model.ChangeEvent[model.Task]) { events <- ev })
	require.NoError(t, err)

	created, err := tasks.Create(ctx, model.Fields{"title": "A"})
	require.NoError(t, err)
	assert.Equal(t, model.EventInsert, created.Type)
	assert.Equal(t, "alice", created.New.CreatedBy)
	assert.Equal(t, model.TaskNotStarted, created.New.Status)

	updated, err := tasks.Update(ctx, created.Key, c.Stamp(model.Fields{"status": model.TaskCompleted}))
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, updated.New.Status)

	deleted, err := tasks.Delete(ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, model.EventDelete, deleted.Type)
	assert.Equal(t, created.Key, deleted.Key)

	var types []model.EventType
	for len(types) < 3 {
		select {
		case ev := <-events:
			assert.Equal(t, created.Key, ev.Key)
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("events: got %v", types)
		}
	}
	assert.ElementsMatch(t, []model.EventType{model.EventInsert, model.EventUpdate, model.EventDelete}, types)

	list, err := tasks.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
