package model

import "time"

// EventType is the kind of row mutation carried by a change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Valid reports whether t is one of the three known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventInsert, EventUpdate, EventDelete:
		return true
	}
	return false
}

// ChangeEvent is the normalized, typed form of a row mutation.
// Key is the id of the affected row; New is nil on DELETE and Old may be nil or partial.
type ChangeEvent[T Record] struct {
	Type EventType
	Key  string
	New  *T
	Old  *T
}

// Inserted builds an INSERT event for rec.
func Inserted[T Record](rec T) ChangeEvent[T] {
	return ChangeEvent[T]{Type: EventInsert, Key: rec.RecordID(), New: &rec}
}

// Updated builds an UPDATE event for rec. old is optional.
func Updated[T Record](rec T, old *T) ChangeEvent[T] {
	return ChangeEvent[T]{Type: EventUpdate, Key: rec.RecordID(), New: &rec, Old: old}
}

// Deleted builds a DELETE event for the row with the given id. old is optional.
func Deleted[T Record](id string, old *T) ChangeEvent[T] {
	return ChangeEvent[T]{Type: EventDelete, Key: id, Old: old}
}

// ActivityType names an entry kind in the activity feed.
type ActivityType string

const (
	ActivityTaskAdded     ActivityType = "task_added"
	ActivityTaskCompleted ActivityType = "task_completed"
	ActivityNoteAdded     ActivityType = "note_added"
	ActivityNoteUpdated   ActivityType = "note_updated"
)

// ActivityItem is a derived, human-readable feed entry.
type ActivityItem struct {
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	User      string       `json:"user"`
	Title     string       `json:"title"`
	ObjectID  string       `json:"objectId"`
}
