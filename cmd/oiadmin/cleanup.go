package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Housekeeping jobs",
	}
	cmd.AddCommand(newCleanupStaleCmd())
	return cmd
}

func newCleanupStaleCmd() *cobra.Command {
	var weeks int

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "Discard open reservations without recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if weeks < 0 {
				return fmt.Errorf("weeks must not be negative")
			}
			ctx := cmd.Context()
			return withEnv(ctx, func(e env) error {
				engine, closeFn, err := e.engine()
				if err != nil {
					return err
				}
				defer closeFn()
				cleared, err := engine.ClearStaleReservations(ctx, time.Duration(weeks)*7*24*time.Hour)
				if err != nil {
					return fmt.Errorf("clearing reservations: %w", err)
				}
				fmt.Printf("Discarded %d stale reservations.\n", cleared)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&weeks, "weeks", "w", 0, "Inactivity window in weeks (default from OI_STALE_WEEKS)")

	return cmd
}
