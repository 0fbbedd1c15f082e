package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var secret, issuer string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token ACTOR",
		Short: "Mint a bearer token for ACTOR (shared-secret deployments)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("ADMIN_SYNC_JWT_SECRET")
			}
			j, err := auth.NewJWT(secret, issuer)
			if err != nil {
				return err
			}
			tok, err := j.Mint(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (default $ADMIN_SYNC_JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", "admin-sync", "Token issuer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
