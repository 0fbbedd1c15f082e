package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "admin.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSqliteStoreCompliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestCreateTableSQL_EnumCheck(t *testing.T) {
	tbl, _ := model.LookupTable(model.TableTasks)
	ddl := createTableSQL(tbl)
	if !strings.Contains(ddl, "CHECK (status IN ('not_started', 'in_progress', 'completed'))") {
		t.Fatalf("missing status check:\n%s", ddl)
	}
	if !strings.Contains(ddl, "due_date TEXT,") {
		t.Fatalf("due_date must be nullable:\n%s", ddl)
	}
}

func TestSqlite_DueDateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row, err := s.Create(ctx, model.TableTasks, model.Fields{"title": "ship", "due_date": "2025-02-01T10:00:00Z"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.Get(ctx, model.TableTasks, row.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	task, err := model.Decode[model.Task](got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.DueDate == nil || task.DueDate.Format("2006-01-02T15:04:05Z07:00") != "2025-02-01T10:00:00Z" {
		t.Fatalf("due_date: %v", task.DueDate)
	}
	if task.Description != "" || task.AssignedTo != "" {
		t.Fatalf("nullable text columns should decode empty: %+v", task)
	}
}

func TestMapError_NoRows(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), model.TableNotes, "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
