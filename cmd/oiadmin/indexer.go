package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comicsdb/api/internal/store"
)

func newIndexerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexer",
		Short: "Manage indexer accounts",
	}
	cmd.AddCommand(newIndexerAddCmd())
	return cmd
}

func newIndexerAddCmd() *cobra.Command {
	var (
		userID      int64
		name, email string
		role        string
		established bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an indexer",
		Long:  "Registers an indexer. New indexers start on the initial quota unless --established is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 || name == "" {
				return fmt.Errorf("--user and --name are required")
			}
			ctx := cmd.Context()
			return withEnv(ctx, func(e env) error {
				engine, closeFn, err := e.engine()
				if err != nil {
					return err
				}
				defer closeFn()
				indexer := store.Indexer{UserID: userID, Name: name, Email: email, Role: role}
				if established {
					indexer.MaxReservations = e.cfg.OI.Quotas.Default
					indexer.MaxOngoing = e.cfg.OI.Quotas.OngoingDefault
				}
				created, err := engine.RegisterIndexer(ctx, indexer)
				if err != nil {
					return err
				}
				fmt.Printf("Registered %s (%d) as %s, %d reservations, %d ongoing.\n",
					created.Name, created.UserID, created.Role, created.MaxReservations, created.MaxOngoing)
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "User id")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address for notifications")
	cmd.Flags().StringVarP(&role, "role", "r", "indexer", "Role: viewer, indexer, editor or admin")
	cmd.Flags().BoolVar(&established, "established", false, "Skip the new indexer quota")

	return cmd
}
