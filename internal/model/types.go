package model

import "time"

// Row is a provider-level record: column name to JSON-compatible value.
type Row map[string]any

// Fields is a create or update payload keyed by column name.
type Fields map[string]any

// ID returns the row's id column, or "" when absent or not a string.
func (r Row) ID() string {
	id, _ := r[ColID].(string)
	return id
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Record is implemented by every entity kept in a reconciled collection.
type Record interface {
	RecordID() string
	Created() time.Time
	Updated() time.Time
}

// Base carries the columns shared by every admin table.
type Base struct {
	ID        string    `json:"id"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b Base) RecordID() string   { return b.ID }
func (b Base) Created() time.Time { return b.CreatedAt }
func (b Base) Updated() time.Time { return b.UpdatedAt }

// TaskStatus is the three-valued task state.
type TaskStatus string

const (
	TaskNotStarted TaskStatus = "not_started"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is a unit of admin work.
type Task struct {
	Base
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
}

// Note is a free-form shared note.
type Note struct {
	Base
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Message is a short admin chat message.
type Message struct {
	Base
	Content string `json:"content"`
}

// Link is a bookmarked external resource.
type Link struct {
	Base
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// SuggestionStatus tracks review of a visitor suggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionAccepted SuggestionStatus = "accepted"
	SuggestionRejected SuggestionStatus = "rejected"
)

// Suggestion is a content suggestion submitted for review.
type Suggestion struct {
	Base
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Status      SuggestionStatus `json:"status"`
}
