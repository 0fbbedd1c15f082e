// Package wire holds the JSON shapes shared by the HTTP API and its remote client.
package wire

import (
	"fmt"
	"time"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

// Paths served by the API.
const (
	RowsPath     = "/api/tables/{table}/rows"
	RowPath      = "/api/tables/{table}/rows/{id}"
	RealtimePath = "/api/realtime"
	HealthPath   = "/api/health"
	MetricsPath  = "/metrics"
)

// ActorHeader names the dev-mode actor override.
const ActorHeader = "X-Admin-Actor"

// RowsURL and RowURL fill the path templates.
func RowsURL(table string) string { return fmt.Sprintf("/api/tables/%s/rows", table) }

func RowURL(table, id string) string { return fmt.Sprintf("/api/tables/%s/rows/%s", table, id) }

// Rows is the list response body.
type Rows struct {
	Rows  []model.Row `json:"rows"`
	Count int         `json:"count"`
}

// Change is one realtime frame.
type Change struct {
	Table      string          `json:"table"`
	EventType  model.EventType `json:"eventType"`
	New        model.Row       `json:"new,omitempty"`
	Old        model.Row       `json:"old,omitempty"`
	CommitTime time.Time       `json:"commitTime"`
}

// FromChange converts a store change into a frame.
func FromChange(c store.Change) Change {
	return Change{Table: c.Table, EventType: c.Type, New: c.New, Old: c.Old, CommitTime: c.CommitTime}
}

// ToChange validates a decoded frame and converts it back. Timestamps in the
// rows are restored to time.Time.
func ToChange(f Change) (store.Change, error) {
	t, err := store.Table(f.Table)
	if err != nil {
		return store.Change{}, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}
	if !f.EventType.Valid() {
		return store.Change{}, fmt.Errorf("%w: event type %q", model.ErrMalformedEvent, f.EventType)
	}
	out := store.Change{Table: f.Table, Type: f.EventType, CommitTime: f.CommitTime}
	if f.New != nil {
		if out.New, err = t.CoerceRow(f.New); err != nil {
			return store.Change{}, fmt.Errorf("%w: new: %v", model.ErrMalformedEvent, err)
		}
	}
	if f.Old != nil {
		if out.Old, err = t.CoerceRow(f.Old); err != nil {
			return store.Change{}, fmt.Errorf("%w: old: %v", model.ErrMalformedEvent, err)
		}
	}
	return out, nil
}
