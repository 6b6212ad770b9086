package oi

import (
	"context"
	"fmt"
	"log"
	"strings"

	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/rbac"
	"comicsdb/api/internal/store"
)

type transitionFunc func(tx store.Tx, cs *store.Changeset, fx *effects) error

// transition runs fn against a row-locked changeset inside one transaction
// and dispatches its side effects once the transaction has committed.
func (s *Service) transition(ctx context.Context, changesetID int64, fn transitionFunc) (store.Changeset, error) {
	fx := &effects{}
	var result store.Changeset
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		cs, err := tx.GetChangesetForUpdate(ctx, changesetID)
		if err != nil {
			return lookup(err, "changeset")
		}
		if err := fn(tx, &cs, fx); err != nil {
			return err
		}
		result, err = tx.GetChangeset(ctx, cs.ID)
		return err
	})
	if err != nil {
		return store.Changeset{}, err
	}
	if fx.approved != nil {
		fx.approved = &result
	}
	s.dispatch(ctx, fx)
	return result, nil
}

func moveState(ctx context.Context, tx store.Tx, cs *store.Changeset, actorID int64, to store.State, notes string) error {
	from := cs.State
	cs.State = to
	if err := tx.UpdateChangeset(ctx, *cs); err != nil {
		return fmt.Errorf("update changeset: %w", err)
	}
	comment := store.Comment{
		ChangesetID: cs.ID,
		CommenterID: actorID,
		Text:        notes,
		OldState:    from,
		NewState:    to,
	}
	if err := tx.AddComment(ctx, &comment); err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

func requireIndexer(cs store.Changeset, userID int64, action Action) error {
	if cs.IndexerID != userID {
		return forbidden(fmt.Sprintf("only the indexer may %s this changeset", action))
	}
	return nil
}

func requireApprover(cs store.Changeset, userID int64, action Action) error {
	if cs.ApproverID == nil || *cs.ApproverID != userID {
		return forbidden(fmt.Sprintf("only the assigned approver may %s this changeset", action))
	}
	return nil
}

// Submit sends an open changeset for review. A changeset that was
// disapproved goes straight back to its approver.
func (s *Service) Submit(ctx context.Context, userID, changesetID int64, notes string) (store.Changeset, error) {
	return s.transition(ctx, changesetID, func(tx store.Tx, cs *store.Changeset, fx *effects) error {
		if err := checkTransition(*cs, ActionSubmit); err != nil {
			return err
		}
		if err := requireIndexer(*cs, userID, ActionSubmit); err != nil {
			return err
		}

		revisions, err := tx.ListRevisions(ctx, cs.ID)
		if err != nil {
			return fmt.Errorf("list revisions: %w", err)
		}
		changed := false
		for _, rev := range revisions {
			if err := validateRevision(ctx, tx, rev); err != nil {
				return err
			}
			if !changed {
				if changed, err = s.revisionChanged(ctx, tx, rev); err != nil {
					return err
				}
			}
		}
		if !changed && strings.TrimSpace(notes) == "" {
			return invalid(CodeNothingToSubmit, "nothing was changed; add a note to submit anyway", nil)
		}
		if err := checkIssueNumbers(ctx, tx, *cs, revisions, true); err != nil {
			return err
		}

		if cs.ApproverID != nil {
			if err := moveState(ctx, tx, cs, userID, store.StateReviewing, notes); err != nil {
				return err
			}
			fx.notify(s.message(ctx, tx, notify.EventResubmitted, *cs.ApproverID, *cs,
				fmt.Sprintf("changeset %d was resubmitted for your review", cs.ID), notes))
			return nil
		}
		if err := moveState(ctx, tx, cs, userID, store.StatePending, notes); err != nil {
			return err
		}
		fx.notify(s.message(ctx, tx, notify.EventSubmitted, 0, *cs,
			fmt.Sprintf("changeset %d is waiting for review", cs.ID), notes))
		return nil
	})
}

// Retract pulls a pending changeset back to open. Once claimed, only the
// approver can hand it back with Release.
func (s *Service) Retract(ctx context.Context, userID, changesetID int64, notes string) (store.Changeset, error) {
	return s.transition(ctx, changesetID, func(tx store.Tx, cs *store.Changeset, fx *effects) error {
		if err := checkTransition(*cs, ActionRetract); err != nil {
			return err
		}
		if err := requireIndexer(*cs, userID, ActionRetract); err != nil {
			return err
		}
		return moveState(ctx, tx, cs, userID, store.StateOpen, notes)
	})
}

// Discard ends a changeset without committing it and releases every lock
// it holds. Revisions of a changeset that was never submitted are deleted;
// the others are kept as history.
func (s *Service) Discard(ctx context.Context, userID, changesetID int64, notes string) (store.Changeset, error) {
	return s.transition(ctx, changesetID, func(tx store.Tx, cs *store.Changeset, fx *effects) error {
		if err := checkTransition(*cs, ActionDiscard); err != nil {
			return err
		}
		byApprover := cs.State == store.StateReviewing && cs.ApproverID != nil && *cs.ApproverID == userID
		if cs.IndexerID != userID && !byApprover {
			return forbidden("only the indexer or the reviewing approver may discard this changeset")
		}
		if byApprover && strings.TrimSpace(notes) == "" {
			return invalid(CodeNotesRequired, "explain to the indexer why the changeset is discarded", nil)
		}

		if err := s.discard(ctx, tx, cs, userID, notes); err != nil {
			return err
		}

		switch {
		case byApprover:
			fx.notify(s.message(ctx, tx, notify.EventDiscarded, cs.IndexerID, *cs,
				fmt.Sprintf("changeset %d was discarded by the approver", cs.ID), notes))
		case cs.ApproverID != nil:
			fx.notify(s.message(ctx, tx, notify.EventDiscarded, *cs.ApproverID, *cs,
				fmt.Sprintf("changeset %d was discarded by its indexer", cs.ID), notes))
		}
		return nil
	})
}

func (s *Service) discard(ctx context.Context, tx store.Tx, cs *store.Changeset, actorID int64, notes string) error {
	if err := releaseLocks(ctx, tx, cs.ID); err != nil {
		return err
	}
	submitted, err := wasSubmitted(ctx, tx, cs.ID)
	if err != nil {
		return err
	}
	if submitted {
		revisions, err := tx.ListRevisions(ctx, cs.ID)
		if err != nil {
			return fmt.Errorf("list revisions: %w", err)
		}
		discarded := false
		for _, rev := range revisions {
			rev.Committed = &discarded
			if err := tx.UpdateRevision(ctx, rev); err != nil {
				return fmt.Errorf("update revision: %w", err)
			}
		}
	} else if err := tx.DeleteRevisions(ctx, cs.ID); err != nil {
		return fmt.Errorf("delete revisions: %w", err)
	}
	return moveState(ctx, tx, cs, actorID, store.StateDiscarded, notes)
}

func wasSubmitted(ctx context.Context, r store.Reader, changesetID int64) (bool, error) {
	comments, err := r.ListComments(ctx, changesetID)
	if err != nil {
		return false, fmt.Errorf("list comments: %w", err)
	}
	for _, comment := range comments {
		if comment.NewState == store.StatePending || comment.NewState == store.StateReviewing {
			return true, nil
		}
	}
	return false, nil
}

func releaseLocks(ctx context.Context, tx store.Tx, changesetID int64) error {
	locks, err := tx.ListLocks(ctx, changesetID)
	if err != nil {
		return fmt.Errorf("list locks: %w", err)
	}
	for _, lock := range locks {
		if err := tx.SetReserved(ctx, lock.Kind, lock.EntityID, false); err != nil {
			return fmt.Errorf("clear reserved: %w", err)
		}
		if err := tx.ReleaseLock(ctx, lock.Kind, lock.EntityID); err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
	}
	return nil
}

// Assign claims a pending changeset for review. The claim is a
// compare-and-set on the state, so of two approvers racing for the same
// changeset exactly one wins and the other gets a conflict.
func (s *Service) Assign(ctx context.Context, userID, changesetID int64, notes string) (store.Changeset, error) {
	return s.transition(ctx, changesetID, func(tx store.Tx, cs *store.Changeset, fx *effects) error {
		if cs.State == store.StateReviewing && cs.ApproverID != nil {
			return alreadyAssigned(ctx, tx, *cs)
		}
		if err := checkTransition(*cs, ActionAssign); err != nil {
			return err
		}
		approver, err := s.actor(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !can(approver, rbac.ActionApprove) {
			return forbidden("you may not review changesets")
		}
		if cs.IndexerID == userID {
			return domainError(KindPermission, CodeSelfReview, "you cannot review your own changeset", nil)
		}

		claimed, err := tx.ClaimChangeset(ctx, cs.ID, userID)
		if err != nil {
			return fmt.Errorf("claim changeset: %w", err)
		}
		if !claimed {
			current, err := tx.GetChangeset(ctx, cs.ID)
			if err != nil {
				return fmt.Errorf("reload changeset: %w", err)
			}
			if current.ApproverID != nil {
				return alreadyAssigned(ctx, tx, current)
			}
			return conflict(CodeAlreadyAssigned, "the changeset is no longer pending; please return to the queue", nil)
		}
		comment := store.Comment{
			ChangesetID: cs.ID,
			CommenterID: userID,
			Text:        notes,
			OldState:    store.StatePending,
			NewState:    store.StateReviewing,
		}
		if err := tx.AddComment(ctx, &comment); err != nil {
			return fmt.Errorf("add comment: %w", err)
		}
		cs.State = store.StateReviewing
		cs.ApproverID = &userID

		return s.mentor(ctx, tx, *cs, approver)
	})
}

// mentor makes the approver the mentor of a new indexer on their first
// reviewed change and claims the rest of their pending queue.
func (s *Service) mentor(ctx context.Context, tx store.Tx, cs store.Changeset, approver store.Indexer) error {
	if cs.ChangeType == store.ChangeCover || !can(approver, rbac.ActionMentor) {
		return nil
	}
	indexer, err := tx.GetIndexer(ctx, cs.IndexerID)
	if err != nil {
		return fmt.Errorf("load indexer: %w", err)
	}
	if !indexer.IsNew || indexer.MentorID != nil {
		return nil
	}
	mentorID := approver.UserID
	indexer.MentorID = &mentorID
	if err := tx.UpdateIndexer(ctx, indexer); err != nil {
		return fmt.Errorf("set mentor: %w", err)
	}

	pending, err := tx.ListChangesets(ctx, store.ChangesetFilter{
		IndexerID: &indexer.UserID,
		States:    []store.State{store.StatePending},
	})
	if err != nil {
		return fmt.Errorf("list pending changesets: %w", err)
	}
	for _, other := range pending {
		claimed, err := tx.ClaimChangeset(ctx, other.ID, approver.UserID)
		if err != nil {
			return fmt.Errorf("claim changeset %d: %w", other.ID, err)
		}
		if !claimed {
			continue
		}
		comment := store.Comment{
			ChangesetID: other.ID,
			CommenterID: approver.UserID,
			OldState:    store.StatePending,
			NewState:    store.StateReviewing,
		}
		if err := tx.AddComment(ctx, &comment); err != nil {
			return fmt.Errorf("add comment: %w", err)
		}
	}
	log.Printf("oi: indexer %d is mentored by %d", indexer.UserID, approver.UserID)
	return nil
}

func alreadyAssigned(ctx context.Context, r store.Reader, cs store.Changeset) error {
	name := fmt.Sprintf("user %d", *cs.ApproverID)
	if approver, err := r.GetIndexer(ctx, *cs.ApproverID); err == nil && approver.Name != "" {
		name = approver.Name
	}
	return conflict(CodeAlreadyAssigned,
		fmt.Sprintf("this changeset is already assigned to %s; please return to the queue", name),
		map[string]any{"approverId": *cs.ApproverID})
}

// Release hands a changeset under review back to the pending queue.
func (s *Service) Release(ctx context.Context, userID, changesetID int64, notes string) (store.Changeset, error) {
	return s.transition(ctx, changesetID, func(tx store.Tx, cs *store.Changeset, fx *effects) error {
		if err := checkTransition(*cs, ActionRelease); err != nil {
			return err
		}
		if err := requireApprover(*cs, userID, ActionRelease); err != nil {
			return err
		}
		cs.ApproverID = nil
		return moveState(ctx, tx, cs, userID, store.StatePending, notes)
	})
}

// Disapprove returns a changeset to its indexer for more work. The
// approver stays attached so that the next submit comes straight back.
func (s *Service) Disapprove(ctx context.Context, userID, changesetID int64, notes string) (store.Changeset, error) {
	return s.transition(ctx, changesetID, func(tx store.Tx, cs *store.Changeset, fx *effects) error {
		if err := checkTransition(*cs, ActionDisapprove); err != nil {
			return err
		}
		if err := requireApprover(*cs, userID, ActionDisapprove); err != nil {
			return err
		}
		if strings.TrimSpace(notes) == "" {
			return invalid(CodeNotesRequired, "a disapproval must explain what needs to change", nil)
		}
		if err := moveState(ctx, tx, cs, userID, store.StateOpen, notes); err != nil {
			return err
		}
		fx.notify(s.message(ctx, tx, notify.EventDisapproved, cs.IndexerID, *cs,
			fmt.Sprintf("changeset %d needs more work", cs.ID), notes))
		return nil
	})
}

// Approve commits every revision of the changeset onto the canonical
// records. See commit.go.
func (s *Service) Approve(ctx context.Context, userID, changesetID int64, notes string) (store.Changeset, error) {
	return s.transition(ctx, changesetID, func(tx store.Tx, cs *store.Changeset, fx *effects) error {
		if err := checkTransition(*cs, ActionApprove); err != nil {
			return err
		}
		if err := requireApprover(*cs, userID, ActionApprove); err != nil {
			return err
		}
		return s.approve(ctx, tx, cs, userID, notes, fx)
	})
}
