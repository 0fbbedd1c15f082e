package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
)

func newTasksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Shared admin tasks",
	}
	cmd.AddCommand(newTasksAddCmd(a), newTasksListCmd(a), newTasksStatusCmd(a), newTasksRmCmd(a))
	return cmd
}

func newTasksAddCmd(a *app) *cobra.Command {
	var description, due, assign string

	cmd := &cobra.Command{
		Use:   "add TITLE",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := model.Fields{"title": strings.Join(args, " ")}
			if description != "" {
				fields["description"] = description
			}
			if assign != "" {
				fields["assigned_to"] = assign
			}
			if due != "" {
				at, err := parseDue(due)
				if err != nil {
					return err
				}
				fields["due_date"] = at
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			t, err := s.Tasks.Create(cmd.Context(), fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Task created: %s\n", t.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&assign, "assign", "", "Assignee")
	return cmd
}

func newTasksListCmd(a *app) *cobra.Command {
	var status string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			tasks := s.Tasks.Items()
			if status != "" {
				kept := tasks[:0]
				for _, t := range tasks {
					if string(t.Status) == status {
						kept = append(kept, t)
					}
				}
				tasks = kept
			}
			if asJSON {
				return writeJSON(out(cmd), tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(out(cmd), "No tasks.")
				return nil
			}
			for _, t := range tasks {
				printTask(out(cmd), t)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only tasks with this status (not_started, in_progress, completed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newTasksStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID STATUS",
		Short: "Move a task to not_started, in_progress or completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := resolveID(s.Tasks.Items(), args[0])
			if err != nil {
				return err
			}
			t, err := s.Tasks.Update(cmd.Context(), id, model.Fields{"status": args[1]})
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Task %s is now %s\n", t.ID, t.Status)
			return nil
		},
	}
}

func newTasksRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := resolveID(s.Tasks.Items(), args[0])
			if err != nil {
				return err
			}
			if err := s.Tasks.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Task deleted: %s\n", id)
			return nil
		},
	}
}

func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t.UTC(), nil
}

// resolveID accepts a full id or a unique prefix of one in items.
func resolveID[T model.Record](items []T, ref string) (string, error) {
	var match string
	for _, it := range items {
		id := it.RecordID()
		if id == ref {
			return id, nil
		}
		if strings.HasPrefix(id, ref) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", ref)
			}
			match = id
		}
	}
	if match == "" {
		// let the store report not-found for ids outside the loaded window
		return ref, nil
	}
	return match, nil
}
