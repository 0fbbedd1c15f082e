package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
)

func newNotesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notes",
		Aliases: []string{"note"},
		Short:   "Shared admin notes",
	}
	cmd.AddCommand(newNotesAddCmd(a), newNotesListCmd(a), newNotesEditCmd(a), newNotesRmCmd(a))
	return cmd
}

func newNotesAddCmd(a *app) *cobra.Command {
	var title, content string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a note",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.Notes.Create(cmd.Context(), model.Fields{"title": title, "content": content})
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Note created: %s\n", n.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Note title (required)")
	cmd.Flags().StringVar(&content, "content", "", "Note body")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newNotesListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			notes := s.Notes.Items()
			if asJSON {
				return writeJSON(out(cmd), notes)
			}
			if len(notes) == 0 {
				fmt.Fprintln(out(cmd), "No notes.")
				return nil
			}
			for _, n := range notes {
				printNote(out(cmd), n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newNotesEditCmd(a *app) *cobra.Command {
	var title, content string

	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change a note's title or content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := model.Fields{}
			if cmd.Flags().Changed("title") {
				fields["title"] = title
			}
			if cmd.Flags().Changed("content") {
				fields["content"] = content
			}
			if len(fields) == 0 {
				return fmt.Errorf("nothing to change: pass --title or --content")
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := resolveID(s.Notes.Items(), args[0])
			if err != nil {
				return err
			}
			n, err := s.Notes.Update(cmd.Context(), id, fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Note updated: %s\n", n.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&content, "content", "", "New content")
	return cmd
}

func newNotesRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a note",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := resolveID(s.Notes.Items(), args[0])
			if err != nil {
				return err
			}
			if err := s.Notes.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Note deleted: %s\n", id)
			return nil
		},
	}
}
