// Package main provides oiadmin, the operator tool for the online indexer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:           "oiadmin",
		Short:         "Operator tasks for the online indexer",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newMigrateCmd(),
		newStatsCmd(),
		newCleanupCmd(),
		newTokenCmd(),
		newIndexerCmd(),
		newReindexCmd(),
	)

	return rootCmd.ExecuteContext(ctx)
}
