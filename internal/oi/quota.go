package oi

import (
	"context"
	"fmt"

	"comicsdb/api/internal/store"
)

// canReserveAnother applies the reservation quota. New indexers count
// everything they have in flight except cover changes; established
// indexers only count what they still have open.
func canReserveAnother(ctx context.Context, r store.Reader, indexer store.Indexer) (bool, error) {
	filter := store.ChangesetFilter{IndexerID: &indexer.UserID}
	if indexer.IsNew {
		filter.States = store.ActiveStates
		filter.ExcludeChangeTypes = []store.ChangeType{store.ChangeCover}
	} else {
		filter.States = []store.State{store.StateOpen}
	}
	count, err := r.CountChangesets(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("count reservations: %w", err)
	}
	return count < indexer.MaxReservations, nil
}

func quotaExceeded(indexer store.Indexer) *DomainError {
	return domainError(KindQuota, CodeQuotaExceeded,
		fmt.Sprintf("you may hold at most %d changesets at a time; submit or discard one before reserving another", indexer.MaxReservations),
		map[string]int{"maxReservations": indexer.MaxReservations})
}

// checkQuota is skipped for cover changes, and for deletions by indexers
// who are past probation.
func checkQuota(ctx context.Context, r store.Reader, indexer store.Indexer, changeType store.ChangeType, deleting bool) error {
	if changeType == store.ChangeCover {
		return nil
	}
	if deleting && !indexer.IsNew {
		return nil
	}
	ok, err := canReserveAnother(ctx, r, indexer)
	if err != nil {
		return err
	}
	if !ok {
		return quotaExceeded(indexer)
	}
	return nil
}

func (s *Service) canHoldAnotherOngoing(ctx context.Context, r store.Reader, indexer store.Indexer) (bool, error) {
	count, err := r.CountOngoingReservations(ctx, indexer.UserID)
	if err != nil {
		return false, fmt.Errorf("count ongoing reservations: %w", err)
	}
	return count < indexer.MaxOngoing, nil
}

// creditApproval does the indexer bookkeeping of an approval: imps for
// both sides, and quota promotion for new indexers.
func (s *Service) creditApproval(ctx context.Context, tx store.Tx, cs store.Changeset, approverID int64) error {
	q := s.cfg.Quotas
	indexer, err := tx.GetIndexer(ctx, cs.IndexerID)
	if err != nil {
		return fmt.Errorf("load indexer: %w", err)
	}
	if indexer.IsNew && indexer.MaxReservations == q.Initial && cs.ChangeType != store.ChangeCover {
		indexer.MaxReservations = q.Probation
		indexer.MaxOngoing = q.OngoingProbation
	}
	indexer.Imps += cs.Imps
	if indexer.IsNew && indexer.MaxReservations == q.Probation && indexer.Imps >= q.DefaultQuotaImps {
		indexer.IsNew = false
		indexer.MaxReservations = q.Default
		indexer.MaxOngoing = q.OngoingDefault
	}
	if err := tx.UpdateIndexer(ctx, indexer); err != nil {
		return fmt.Errorf("update indexer: %w", err)
	}

	approver, err := tx.GetIndexer(ctx, approverID)
	if err != nil {
		return fmt.Errorf("load approver: %w", err)
	}
	approver.Imps += q.ImpsForApproval
	if err := tx.UpdateIndexer(ctx, approver); err != nil {
		return fmt.Errorf("update approver: %w", err)
	}
	return nil
}
