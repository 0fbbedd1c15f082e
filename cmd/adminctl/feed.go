package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newFeedCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the recent activity feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			items := s.Activity.Items()
			if asJSON {
				return writeJSON(out(cmd), items)
			}
			if len(items) == 0 {
				fmt.Fprintln(out(cmd), "No recent activity.")
				return nil
			}
			now := time.Now()
			for _, it := range items {
				printActivity(out(cmd), it, now)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
