package oi

import (
	"context"
	"fmt"

	"comicsdb/api/internal/rbac"
	"comicsdb/api/internal/store"
)

type ReserveOptions struct {
	Delete bool
	Notes  string
}

type AddOptions struct {
	Notes string
	// RequestOngoing asks for an ongoing reservation on an added series
	// once it is approved.
	RequestOngoing bool
}

// Reserve opens a changeset editing (or deleting) one existing record.
// Reserving an issue pulls its stories into the same changeset.
func (s *Service) Reserve(ctx context.Context, userID int64, kind store.Kind, entityID int64, opts ReserveOptions) (store.Changeset, error) {
	h, err := handlerFor(kind)
	if err != nil {
		return store.Changeset{}, err
	}
	if !h.reservable {
		return store.Changeset{}, invalid(CodeNotReservable, fmt.Sprintf("a %s is edited through its parent", kind), nil)
	}

	var result store.Changeset
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		indexer, err := s.reserver(ctx, tx, userID)
		if err != nil {
			return err
		}
		rec, err := tx.GetEntity(ctx, kind, entityID)
		if err != nil {
			return lookup(err, string(kind))
		}
		if rec.Deleted {
			return invalid(CodeNotReservable, fmt.Sprintf("%s %d is deleted", kind, entityID), nil)
		}
		if rec.Reserved {
			return alreadyReserved(rec)
		}
		if opts.Delete {
			if err := s.checkDeletable(ctx, tx, rec, 0); err != nil {
				return err
			}
		}
		if err := checkQuota(ctx, tx, indexer, h.changeType, opts.Delete); err != nil {
			return err
		}

		cs, err := s.openChangeset(ctx, tx, indexer.UserID, h.changeType, opts.Notes)
		if err != nil {
			return err
		}
		if _, err := s.reserveRecord(ctx, tx, cs, rec, opts.Delete, nil); err != nil {
			return err
		}
		result, err = tx.GetChangeset(ctx, cs.ID)
		return err
	})
	if err != nil {
		return store.Changeset{}, err
	}
	return result, nil
}

// ReserveTwoIssues opens one changeset over two issues, typically to swap
// data between them.
func (s *Service) ReserveTwoIssues(ctx context.Context, userID, firstID, secondID int64, notes string) (store.Changeset, error) {
	if firstID == secondID {
		return store.Changeset{}, invalid(CodeNotReservable, "two different issues are required", nil)
	}

	var result store.Changeset
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		indexer, err := s.reserver(ctx, tx, userID)
		if err != nil {
			return err
		}
		var records []store.Record
		for _, id := range []int64{firstID, secondID} {
			rec, err := tx.GetEntity(ctx, store.KindIssue, id)
			if err != nil {
				return lookup(err, "issue")
			}
			if rec.Deleted {
				return invalid(CodeNotReservable, fmt.Sprintf("issue %d is deleted", id), nil)
			}
			if rec.Reserved {
				return alreadyReserved(rec)
			}
			records = append(records, rec)
		}
		if err := checkQuota(ctx, tx, indexer, store.ChangeTwoIssues, false); err != nil {
			return err
		}

		cs, err := s.openChangeset(ctx, tx, indexer.UserID, store.ChangeTwoIssues, notes)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if _, err := s.reserveRecord(ctx, tx, cs, rec, false, nil); err != nil {
				return err
			}
		}
		result, err = tx.GetChangeset(ctx, cs.ID)
		return err
	})
	if err != nil {
		return store.Changeset{}, err
	}
	return result, nil
}

// Add opens a changeset creating a new record from data. Stories are
// added to an issue changeset with AddStory instead.
func (s *Service) Add(ctx context.Context, userID int64, data store.Data, opts AddOptions) (store.Changeset, error) {
	if data == nil {
		return store.Changeset{}, invalid(CodeInvalidRevision, "payload is required", nil)
	}
	if data.Kind() == store.KindStory {
		return store.Changeset{}, invalid(CodeNotReservable, "stories are added to an issue changeset", nil)
	}
	h, err := handlerFor(data.Kind())
	if err != nil {
		return store.Changeset{}, err
	}
	if issue, ok := data.(*store.IssueData); ok && issue.IsIndexed != store.IndexSkeleton {
		return store.Changeset{}, derivedIndexing()
	}
	rev := store.Revision{
		Kind:                 data.Kind(),
		Added:                true,
		ReservationRequested: opts.RequestOngoing && data.Kind() == store.KindSeries,
		Data:                 data.Clone(),
	}
	return s.add(ctx, userID, h.addType, rev, opts.Notes)
}

// AddVariant opens a changeset adding a variant of an existing issue.
func (s *Service) AddVariant(ctx context.Context, userID, baseIssueID int64, data *store.IssueData, notes string) (store.Changeset, error) {
	if data == nil {
		data = &store.IssueData{}
	}
	var variant *store.IssueData
	err := func() error {
		base, err := s.store.GetEntity(ctx, store.KindIssue, baseIssueID)
		if err != nil {
			return lookup(err, "issue")
		}
		baseData := base.Data.(*store.IssueData)
		if base.Deleted {
			return invalid(CodeNotReservable, "cannot add a variant of a deleted issue", nil)
		}
		if baseData.VariantOfID != nil {
			return invalid(CodeNotReservable, "cannot add a variant of a variant", nil)
		}
		variant = data.Clone().(*store.IssueData)
		variant.IsIndexed = store.IndexSkeleton
		variant.SeriesID = baseData.SeriesID
		variant.VariantOfID = &base.ID
		if variant.Number == "" {
			variant.Number = baseData.Number
		}
		return nil
	}()
	if err != nil {
		return store.Changeset{}, err
	}
	rev := store.Revision{Kind: store.KindIssue, Added: true, Data: variant}
	return s.add(ctx, userID, store.ChangeVariantAdd, rev, notes)
}

func (s *Service) add(ctx context.Context, userID int64, changeType store.ChangeType, rev store.Revision, notes string) (store.Changeset, error) {
	prepare(rev.Data)

	var result store.Changeset
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		indexer, err := s.reserver(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := validateRevision(ctx, tx, rev); err != nil {
			return err
		}
		if err := checkQuota(ctx, tx, indexer, changeType, false); err != nil {
			return err
		}
		cs, err := s.openChangeset(ctx, tx, indexer.UserID, changeType, notes)
		if err != nil {
			return err
		}
		rev.ChangesetID = cs.ID
		if err := tx.CreateRevision(ctx, &rev); err != nil {
			return fmt.Errorf("create revision: %w", err)
		}
		result, err = tx.GetChangeset(ctx, cs.ID)
		return err
	})
	if err != nil {
		return store.Changeset{}, err
	}
	return result, nil
}

func (s *Service) reserver(ctx context.Context, r store.Reader, userID int64) (store.Indexer, error) {
	indexer, err := s.actor(ctx, r, userID)
	if err != nil {
		return store.Indexer{}, err
	}
	if !can(indexer, rbac.ActionReserve) {
		return store.Indexer{}, forbidden("you may not reserve records")
	}
	return indexer, nil
}

func (s *Service) openChangeset(ctx context.Context, tx store.Tx, indexerID int64, changeType store.ChangeType, notes string) (store.Changeset, error) {
	cs := store.Changeset{
		IndexerID:  indexerID,
		State:      store.StateOpen,
		ChangeType: changeType,
	}
	if err := tx.CreateChangeset(ctx, &cs); err != nil {
		return store.Changeset{}, fmt.Errorf("create changeset: %w", err)
	}
	comment := store.Comment{
		ChangesetID: cs.ID,
		CommenterID: indexerID,
		Text:        notes,
		OldState:    store.StateUnreserved,
		NewState:    store.StateOpen,
	}
	if err := tx.AddComment(ctx, &comment); err != nil {
		return store.Changeset{}, fmt.Errorf("add comment: %w", err)
	}
	return cs, nil
}

// reserveRecord locks rec for cs and clones it, then recurses into the
// children the kind pulls along.
func (s *Service) reserveRecord(ctx context.Context, tx store.Tx, cs store.Changeset, rec store.Record, deleted bool, parentRevisionID *int64) (store.Revision, error) {
	acquired, err := tx.AcquireLock(ctx, store.Lock{Kind: rec.Kind, EntityID: rec.ID, ChangesetID: cs.ID})
	if err != nil {
		return store.Revision{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return store.Revision{}, alreadyReserved(rec)
	}
	if err := tx.SetReserved(ctx, rec.Kind, rec.ID, true); err != nil {
		return store.Revision{}, fmt.Errorf("mark reserved: %w", err)
	}

	rev, err := clone(ctx, tx, cs, rec)
	if err != nil {
		return store.Revision{}, err
	}
	rev.Deleted = deleted
	rev.ParentRevisionID = parentRevisionID
	if err := tx.CreateRevision(ctx, &rev); err != nil {
		return store.Revision{}, fmt.Errorf("create revision: %w", err)
	}

	h, err := handlerFor(rec.Kind)
	if err != nil {
		return store.Revision{}, err
	}
	for _, child := range h.children {
		records, err := tx.ListChildren(ctx, child.kind, child.field, rec.ID)
		if err != nil {
			return store.Revision{}, fmt.Errorf("list %s children: %w", child.kind, err)
		}
		for _, childRec := range records {
			if _, err := s.reserveRecord(ctx, tx, cs, childRec, deleted, &rev.ID); err != nil {
				return store.Revision{}, err
			}
		}
	}
	return rev, nil
}

func alreadyReserved(rec store.Record) *DomainError {
	return conflict(CodeAlreadyReserved,
		fmt.Sprintf("%s %q is being edited by someone else", rec.Kind, rec.Data.Label()),
		map[string]any{"kind": rec.Kind, "id": rec.ID})
}

// checkDeletable refuses records that still have live children, either
// committed or proposed by another active changeset.
func (s *Service) checkDeletable(ctx context.Context, r store.Reader, rec store.Record, changesetID int64) error {
	h, err := handlerFor(rec.Kind)
	if err != nil {
		return err
	}
	for _, blocker := range h.blockers {
		children, err := r.ListChildren(ctx, blocker.kind, blocker.field, rec.ID)
		if err != nil {
			return fmt.Errorf("list %s children: %w", blocker.kind, err)
		}
		if len(children) > 0 {
			return notDeletable(rec, blocker.kind)
		}
		pending, err := r.ListActiveRevisions(ctx, blocker.kind, blocker.field, rec.ID)
		if err != nil {
			return fmt.Errorf("list active %s revisions: %w", blocker.kind, err)
		}
		for _, rev := range pending {
			if rev.ChangesetID != changesetID && !rev.Deleted {
				return notDeletable(rec, blocker.kind)
			}
		}
	}
	if rec.Kind == store.KindIssue && s.covers != nil {
		has, err := s.covers.HasCovers(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("check cover files: %w", err)
		}
		if has {
			return notDeletable(rec, store.KindCover)
		}
	}
	return nil
}

func notDeletable(rec store.Record, child store.Kind) *DomainError {
	return invalid(CodeNotDeletable,
		fmt.Sprintf("%s %q still has %s records", rec.Kind, rec.Data.Label(), child),
		map[string]any{"kind": rec.Kind, "id": rec.ID, "blocking": child})
}
