package oi

import (
	"context"
	"fmt"

	"comicsdb/api/internal/rbac"
	"comicsdb/api/internal/store"
)

// RequestOngoing gives the user a standing reservation on a current
// series: every issue later added to it is reserved for them.
func (s *Service) RequestOngoing(ctx context.Context, userID, seriesID int64) (store.OngoingReservation, error) {
	var result store.OngoingReservation
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		indexer, err := s.reserver(ctx, tx, userID)
		if err != nil {
			return err
		}
		series, err := tx.GetEntity(ctx, store.KindSeries, seriesID)
		if err != nil {
			return lookup(err, "series")
		}
		data := series.Data.(*store.SeriesData)
		if series.Deleted || !data.IsCurrent || data.IsSingleton {
			return invalid(CodeOngoingUnavailable, fmt.Sprintf("%q is not an ongoing series", data.Name), nil)
		}
		allowed, err := s.canHoldAnotherOngoing(ctx, tx, indexer)
		if err != nil {
			return err
		}
		if !allowed {
			return domainError(KindQuota, CodeOngoingQuota,
				fmt.Sprintf("you may hold at most %d ongoing reservations", indexer.MaxOngoing),
				map[string]int{"maxOngoing": indexer.MaxOngoing})
		}

		result = store.OngoingReservation{SeriesID: seriesID, IndexerID: indexer.UserID}
		created, err := tx.CreateOngoingReservation(ctx, result)
		if err != nil {
			return fmt.Errorf("create ongoing reservation: %w", err)
		}
		if !created {
			return conflict(CodeAlreadyReserved, fmt.Sprintf("%q already has an ongoing reservation", data.Name), nil)
		}
		res, _, err := tx.GetOngoingReservation(ctx, seriesID)
		result = res
		return err
	})
	if err != nil {
		return store.OngoingReservation{}, err
	}
	return result, nil
}

// DeleteOngoing drops a standing reservation. Admins may drop anyone's.
func (s *Service) DeleteOngoing(ctx context.Context, userID, seriesID int64) error {
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		actor, err := s.actor(ctx, tx, userID)
		if err != nil {
			return err
		}
		res, ok, err := tx.GetOngoingReservation(ctx, seriesID)
		if err != nil {
			return fmt.Errorf("load ongoing reservation: %w", err)
		}
		if !ok {
			return domainError(KindNotFound, CodeNotFound, "no ongoing reservation for this series", nil)
		}
		if res.IndexerID != userID && !can(actor, rbac.ActionAdmin) {
			return forbidden("this ongoing reservation belongs to someone else")
		}
		if err := tx.DeleteOngoingReservation(ctx, seriesID); err != nil {
			return fmt.Errorf("delete ongoing reservation: %w", err)
		}
		return nil
	})
}
