package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
)

var (
	faint  = color.New(color.Faint)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	blue   = color.New(color.FgBlue)
	red    = color.New(color.FgRed)
)

const stampLayout = "2006-01-02 15:04"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusLabel(s model.TaskStatus) string {
	switch s {
	case model.TaskCompleted:
		return green.Sprint("done   ")
	case model.TaskInProgress:
		return yellow.Sprint("doing  ")
	default:
		return faint.Sprint("todo   ")
	}
}

func printTask(w io.Writer, t model.Task) {
	fmt.Fprintf(w, "%s %s  %s", statusLabel(t.Status), faint.Sprint(t.ID), t.Title)
	if t.AssignedTo != "" {
		fmt.Fprintf(w, " @%s", t.AssignedTo)
	}
	if t.DueDate != nil {
		fmt.Fprintf(w, " due %s", t.DueDate.Format("2006-01-02"))
	}
	fmt.Fprintln(w)
}

func printNote(w io.Writer, n model.Note) {
	fmt.Fprintf(w, "%s  %s  %s\n", faint.Sprint(n.ID), blue.Sprint(n.Title), faint.Sprintf("(%s, %s)", n.CreatedBy, n.UpdatedAt.Local().Format(stampLayout)))
	if n.Content != "" {
		fmt.Fprintf(w, "    %s\n", n.Content)
	}
}

func printMessage(w io.Writer, m model.Message) {
	fmt.Fprintf(w, "%s %s: %s\n", faint.Sprint(m.CreatedAt.Local().Format(stampLayout)), blue.Sprint(m.CreatedBy), m.Content)
}

func activityLabel(t model.ActivityType) string {
	switch t {
	case model.ActivityTaskCompleted:
		return green.Sprint(string(t))
	case model.ActivityTaskAdded:
		return yellow.Sprint(string(t))
	default:
		return blue.Sprint(string(t))
	}
}

func printActivity(w io.Writer, it model.ActivityItem, now time.Time) {
	fmt.Fprintf(w, "%-8s %s %s %q\n", faint.Sprint(ago(now, it.Timestamp)), activityLabel(it.Type), it.User, it.Title)
}

// ago renders a coarse relative time.
func ago(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}

func eventLabel(t model.EventType) string {
	switch t {
	case model.EventInsert:
		return green.Sprint("+")
	case model.EventDelete:
		return red.Sprint("-")
	default:
		return yellow.Sprint("~")
	}
}
