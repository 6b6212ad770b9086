package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comicsdb/api/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withEnv(ctx, func(e env) error {
				if status {
					pending, err := store.PendingMigrations(ctx, e.db, e.cfg.MigrationsDir)
					if err != nil {
						return fmt.Errorf("listing migrations: %w", err)
					}
					if len(pending) == 0 {
						fmt.Println("Database is up to date.")
						return nil
					}
					for _, name := range pending {
						fmt.Printf("pending  %s\n", name)
					}
					return nil
				}
				if err := store.ApplyMigrations(ctx, e.db, e.cfg.MigrationsDir); err != nil {
					return fmt.Errorf("applying migrations: %w", err)
				}
				fmt.Println("Migrations applied.")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "List pending migrations without applying them")

	return cmd
}
