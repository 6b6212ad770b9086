package oi

import (
	"context"
	"fmt"
	"log"
	"time"

	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/store"
)

const staleNote = "reservation expired after a period of inactivity"

// ClearStaleReservations discards open changesets untouched for longer
// than olderThan, in the name of the anonymous user, and tells their
// indexers. A zero olderThan uses the configured default. Each changeset
// is discarded in its own transaction; one failure does not stop the run.
func (s *Service) ClearStaleReservations(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.StaleAfter
	}
	cutoff := s.now().Add(-olderThan)
	stale, err := s.store.ListChangesets(ctx, store.ChangesetFilter{
		States:        []store.State{store.StateOpen},
		UpdatedBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale changesets: %w", err)
	}

	cleared := 0
	for _, candidate := range stale {
		if err := ctx.Err(); err != nil {
			return cleared, err
		}
		_, err := s.transition(ctx, candidate.ID, func(tx store.Tx, cs *store.Changeset, fx *effects) error {
			if cs.State != store.StateOpen || !cs.UpdatedAt.Before(cutoff) {
				return nil
			}
			if err := s.discard(ctx, tx, cs, s.cfg.AnonymousUserID, staleNote); err != nil {
				return err
			}
			fx.notify(s.message(ctx, tx, notify.EventExpired, cs.IndexerID, *cs,
				fmt.Sprintf("your reservation in changeset %d expired", cs.ID), staleNote))
			cleared++
			return nil
		})
		if err != nil {
			log.Printf("oi: clear stale changeset %d: %v", candidate.ID, err)
		}
	}
	log.Printf("oi: cleared %d of %d stale reservations older than %s", cleared, len(stale), cutoff.Format(time.RFC3339))
	return cleared, nil
}
