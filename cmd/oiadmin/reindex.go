package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comicsdb/api/internal/search"
	"comicsdb/api/internal/store"
)

func newReindexCmd() *cobra.Command {
	var (
		kinds []string
		batch int
	)

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Push every record into the search index",
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := store.AllKinds
			if len(kinds) > 0 {
				selected = nil
				for _, raw := range kinds {
					kind := store.Kind(raw)
					if !kind.Valid() {
						return fmt.Errorf("invalid kind %q, valid kinds: %v", raw, store.AllKinds)
					}
					selected = append(selected, kind)
				}
			}
			ctx := cmd.Context()
			return withEnv(ctx, func(e env) error {
				if e.cfg.MeiliURL == "" {
					return fmt.Errorf("MEILI_URL is not set")
				}
				meili := search.NewMeili(e.cfg.MeiliURL, e.cfg.MeiliMasterKey, e.cfg.MeiliIndex)
				defer meili.Close()
				if !meili.Healthy() {
					return fmt.Errorf("meilisearch at %s is not reachable", e.cfg.MeiliURL)
				}
				n, err := search.NewService(meili).Reindex(ctx, e.store, selected, batch)
				if err != nil {
					return fmt.Errorf("reindexing: %w", err)
				}
				fmt.Printf("Indexed %d records.\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "Record kinds to index (default all)")
	cmd.Flags().IntVar(&batch, "batch", 500, "Documents per request")

	return cmd
}
