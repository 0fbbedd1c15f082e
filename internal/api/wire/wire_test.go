package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

func TestChangeOverJSON(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC)
	in := store.Change{
		Table:      model.TableTasks,
		Type:       model.EventUpdate,
		New:        model.Row{"id": "t1", "status": "completed", "updated_at": at},
		Old:        model.Row{"id": "t1"},
		CommitTime: at,
	}
	raw, err := json.Marshal(FromChange(in))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"eventType":"UPDATE"`)

	var f Change
	require.NoError(t, json.Unmarshal(raw, &f))
	out, err := ToChange(f)
	require.NoError(t, err)
	assert.Equal(t, "t1", out.Key())
	assert.Equal(t, at, out.New["updated_at"])
}

func TestToChangeRejectsUnknownTableAndType(t *testing.T) {
	_, err := ToChange(Change{Table: "materials", EventType: model.EventInsert})
	assert.True(t, errors.Is(err, model.ErrMalformedEvent))

	_, err = ToChange(Change{Table: model.TableNotes, EventType: "TRUNCATE"})
	assert.True(t, errors.Is(err, model.ErrMalformedEvent))
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "/api/tables/notes/rows", RowsURL(model.TableNotes))
	assert.Equal(t, "/api/tables/notes/rows/n1", RowURL(model.TableNotes, "n1"))
}
