package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
)

func newMessagesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"msg"},
		Short:   "Admin chat messages",
	}
	cmd.AddCommand(newMessagesSendCmd(a), newMessagesListCmd(a))
	return cmd
}

func newMessagesSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send TEXT",
		Short: "Post a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := s.Messages.Create(cmd.Context(), model.Fields{"content": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Message sent: %s\n", m.ID)
			return nil
		},
	}
}

func newMessagesListCmd(a *app) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent messages, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			msgs := s.Messages.Items()
			if limit > 0 && len(msgs) > limit {
				msgs = msgs[:limit]
			}
			// collections are newest first; a chat log reads top to bottom
			slices.Reverse(msgs)
			if asJSON {
				return writeJSON(out(cmd), msgs)
			}
			if len(msgs) == 0 {
				fmt.Fprintln(out(cmd), "No messages.")
				return nil
			}
			for _, m := range msgs {
				printMessage(out(cmd), m)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of messages (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
