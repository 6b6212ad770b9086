package oi

import (
	"context"
	"fmt"

	"comicsdb/api/internal/store"
)

// OpenByIndexer lists the changesets an indexer is still editing.
func (s *Service) OpenByIndexer(ctx context.Context, indexerID int64) ([]store.Changeset, error) {
	return s.queue(ctx, store.ChangesetFilter{IndexerID: &indexerID, States: []store.State{store.StateOpen}})
}

// Pending lists the changesets waiting for an approver, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]store.Changeset, error) {
	return s.queue(ctx, store.ChangesetFilter{States: []store.State{store.StatePending}, Limit: limit})
}

// ReviewingByApprover lists the changesets an approver has claimed.
func (s *Service) ReviewingByApprover(ctx context.Context, approverID int64) ([]store.Changeset, error) {
	return s.queue(ctx, store.ChangesetFilter{ApproverID: &approverID, States: []store.State{store.StateReviewing}})
}

// ActiveByIndexer lists everything an indexer has in flight.
func (s *Service) ActiveByIndexer(ctx context.Context, indexerID int64) ([]store.Changeset, error) {
	return s.queue(ctx, store.ChangesetFilter{IndexerID: &indexerID, States: store.ActiveStates})
}

func (s *Service) queue(ctx context.Context, filter store.ChangesetFilter) ([]store.Changeset, error) {
	changesets, err := s.store.ListChangesets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list changesets: %w", err)
	}
	return changesets, nil
}
