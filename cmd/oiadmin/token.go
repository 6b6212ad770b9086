package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"comicsdb/api/internal/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for an indexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			ctx := cmd.Context()
			return withEnv(ctx, func(e env) error {
				if e.cfg.JWTSecret == "" {
					return fmt.Errorf("OI_JWT_SECRET is not set")
				}
				indexer, err := e.store.GetIndexer(ctx, userID)
				if err != nil {
					return fmt.Errorf("loading indexer %d: %w", userID, err)
				}
				if ttl <= 0 {
					ttl = e.cfg.AccessTTL
				}
				token, err := auth.IssueToken([]byte(e.cfg.JWTSecret), auth.NewClaims(indexer.UserID, indexer.Name, indexer.Role, ttl))
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "User id of the indexer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default from OI_ACCESS_TTL_SECONDS)")

	return cmd
}
