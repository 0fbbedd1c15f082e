package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"
)

// Shared column names.
const (
	ColID        = "id"
	ColCreatedBy = "created_by"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
)

// Table names.
const (
	TableTasks       = "tasks"
	TableNotes       = "notes"
	TableMessages    = "admin_messages"
	TableLinks       = "links"
	TableSuggestions = "suggestions"
)

// ColumnKind selects how a column value is validated and stored.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindTime
)

// Column describes one feature-specific column.
type Column struct {
	Name     string
	Kind     ColumnKind
	Enum     []string
	Default  any
	Nullable bool
}

// Table describes an admin table: the shared base columns plus Columns.
type Table struct {
	Name    string
	Columns []Column
}

var tables = map[string]Table{
	TableTasks: {Name: TableTasks, Columns: []Column{
		{Name: "title", Kind: KindText, Default: ""},
		{Name: "description", Kind: KindText, Nullable: true},
		{Name: "status", Kind: KindText, Enum: []string{string(TaskNotStarted), string(TaskInProgress), string(TaskCompleted)}, Default: string(TaskNotStarted)},
		{Name: "due_date", Kind: KindTime, Nullable: true},
		{Name: "assigned_to", Kind: KindText, Nullable: true},
	}},
	TableNotes: {Name: TableNotes, Columns: []Column{
		{Name: "title", Kind: KindText, Default: ""},
		{Name: "content", Kind: KindText, Default: ""},
	}},
	TableMessages: {Name: TableMessages, Columns: []Column{
		{Name: "content", Kind: KindText, Default: ""},
	}},
	TableLinks: {Name: TableLinks, Columns: []Column{
		{Name: "title", Kind: KindText, Default: ""},
		{Name: "url", Kind: KindText, Default: ""},
		{Name: "description", Kind: KindText, Nullable: true},
		{Name: "category", Kind: KindText, Nullable: true},
	}},
	TableSuggestions: {Name: TableSuggestions, Columns: []Column{
		{Name: "title", Kind: KindText, Default: ""},
		{Name: "description", Kind: KindText, Nullable: true},
		{Name: "status", Kind: KindText, Enum: []string{string(SuggestionPending), string(SuggestionAccepted), string(SuggestionRejected)}, Default: string(SuggestionPending)},
	}},
}

// LookupTable returns the descriptor for name.
func LookupTable(name string) (Table, bool) {
	t, ok := tables[name]
	return t, ok
}

// TableNames returns every known table name in a stable order.
func TableNames() []string {
	names := make([]string, 0, len(tables))
	for n := range tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ColumnNames returns base and feature column names in storage order.
func (t Table) ColumnNames() []string {
	out := []string{ColID, ColCreatedBy, ColCreatedAt, ColUpdatedAt}
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

func (t Table) column(name string) (Column, bool) {
	switch name {
	case ColCreatedBy:
		return Column{Name: name, Kind: KindText, Default: ""}, true
	case ColID:
		return Column{Name: name, Kind: KindText}, true
	case ColCreatedAt, ColUpdatedAt:
		return Column{Name: name, Kind: KindTime}, true
	}
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// IsTimeColumn reports whether name holds a timestamp.
func (t Table) IsTimeColumn(name string) bool {
	c, ok := t.column(name)
	return ok && c.Kind == KindTime
}

// NormalizeCreate validates a create payload and fills column defaults.
// Server-assigned columns (id, created_at, updated_at) are rejected.
func (t Table) NormalizeCreate(fields Fields) (Fields, error) {
	for _, k := range []string{ColID, ColCreatedAt, ColUpdatedAt} {
		if _, ok := fields[k]; ok {
			return nil, fmt.Errorf("%w: %s is server-assigned", ErrValidation, k)
		}
	}
	out, err := t.normalize(fields)
	if err != nil {
		return nil, err
	}
	if _, ok := out[ColCreatedBy]; !ok {
		out[ColCreatedBy] = ""
	}
	for _, c := range t.Columns {
		if _, ok := out[c.Name]; !ok {
			out[c.Name] = c.Default
		}
	}
	return out, nil
}

// NormalizeUpdate validates a partial update payload. Immutable columns are rejected.
func (t Table) NormalizeUpdate(fields Fields) (Fields, error) {
	for _, k := range []string{ColID, ColCreatedBy, ColCreatedAt} {
		if _, ok := fields[k]; ok {
			return nil, fmt.Errorf("%w: %s is immutable", ErrValidation, k)
		}
	}
	return t.normalize(fields)
}

func (t Table) normalize(fields Fields) (Fields, error) {
	out := make(Fields, len(fields))
	for k, v := range fields {
		c, ok := t.column(k)
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %s.%s", ErrValidation, t.Name, k)
		}
		nv, err := c.coerce(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrValidation, t.Name, k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func (c Column) coerce(v any) (any, error) {
	if v == nil {
		if c.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("must not be null")
	}
	switch c.Kind {
	case KindTime:
		ts, err := ParseTime(v)
		if err != nil {
			return nil, err
		}
		return ts, nil
	default:
		var s string
		switch tv := v.(type) {
		case string:
			s = tv
		case fmt.Stringer:
			s = tv.String()
		case TaskStatus:
			s = string(tv)
		case SuggestionStatus:
			s = string(tv)
		default:
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		if len(c.Enum) > 0 && !slices.Contains(c.Enum, s) {
			return nil, fmt.Errorf("%q is not one of %v", s, c.Enum)
		}
		return s, nil
	}
}

// ParseTime accepts time.Time, *time.Time or an RFC 3339 string and returns UTC.
func ParseTime(v any) (time.Time, error) {
	switch tv := v.(type) {
	case time.Time:
		return tv.UTC(), nil
	case *time.Time:
		if tv == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return tv.UTC(), nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, tv)
		if err != nil {
			return time.Time{}, err
		}
		return ts.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("expected timestamp, got %T", v)
	}
}

// CoerceRow converts string timestamps in a row (as read from JSON or sqlite) to time.Time.
func (t Table) CoerceRow(row Row) (Row, error) {
	for k, v := range row {
		if v == nil || !t.IsTimeColumn(k) {
			continue
		}
		ts, err := ParseTime(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, k, err)
		}
		row[k] = ts
	}
	return row, nil
}

// Decode converts a provider row into a typed record.
func Decode[T Record](row Row) (T, error) {
	var out T
	raw, err := json.Marshal(row)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// CreatedDesc orders rows newest first by created_at, then by id for a stable tie-break.
func CreatedDesc(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		ci, _ := ParseTime(rows[i][ColCreatedAt])
		cj, _ := ParseTime(rows[j][ColCreatedAt])
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return rows[i].ID() > rows[j].ID()
	})
}
