package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"comicsdb/api/internal/stats"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Inspect and rebuild aggregate counts",
	}
	cmd.AddCommand(newStatsRebuildCmd(), newStatsShowCmd())
	return cmd
}

func newStatsRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recount the global bucket and every language and country bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withEnv(ctx, func(e env) error {
				if err := stats.Rebuild(ctx, e.store); err != nil {
					return fmt.Errorf("rebuilding stats: %w", err)
				}
				fmt.Println("Stats rebuilt.")
				return nil
			})
		},
	}
}

func newStatsShowCmd() *cobra.Command {
	var language, country string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the counts of one bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if language != "" && country != "" {
				return fmt.Errorf("use --language or --country, not both")
			}
			ctx := cmd.Context()
			return withEnv(ctx, func(e env) error {
				rows, err := e.store.ListCountStats(ctx, language, country)
				if err != nil {
					return fmt.Errorf("listing stats: %w", err)
				}
				if len(rows) == 0 {
					fmt.Println("No stats for this bucket.")
					return nil
				}
				sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				for _, row := range rows {
					fmt.Fprintf(w, "%s\t%d\n", row.Name, row.Count)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Language code")
	cmd.Flags().StringVarP(&country, "country", "c", "", "Country code")

	return cmd
}
