package oi

import (
	"context"
	"fmt"
	"strings"

	"comicsdb/api/internal/rbac"
	"comicsdb/api/internal/store"
)

// ChangesetView is a changeset with everything it owns.
type ChangesetView struct {
	Changeset store.Changeset
	Revisions []store.Revision
	Comments  []store.Comment
	Locks     []store.Lock
}

func clone(ctx context.Context, r store.Reader, cs store.Changeset, rec store.Record) (store.Revision, error) {
	source := rec.ID
	rev := store.Revision{
		ChangesetID: cs.ID,
		Kind:        rec.Kind,
		SourceID:    &source,
		Data:        rec.Data.Clone(),
	}
	prev, ok, err := r.LatestCommittedRevision(ctx, rec.Kind, rec.ID)
	if err != nil {
		return store.Revision{}, fmt.Errorf("load previous revision: %w", err)
	}
	if ok {
		rev.PreviousRevisionID = &prev.ID
	} else {
		rev.Baseline = rec.Data.Clone()
	}
	return rev, nil
}

// prepare fills derived fields of a payload.
func prepare(data store.Data) {
	switch d := data.(type) {
	case *store.SeriesData:
		d.Name = strings.TrimSpace(d.Name)
		if strings.TrimSpace(d.SortName) == "" {
			d.SortName = store.StripArticle(d.Name)
		}
	case *store.StoryData:
		if d.Type == "" {
			d.Type = "comic story"
		}
	}
}

// NewPayload returns a blank payload of kind with the defaults an add form
// starts from.
func NewPayload(kind store.Kind) (store.Data, error) {
	data, err := store.NewData(kind)
	if err != nil {
		return nil, invalid(CodeInvalidRevision, err.Error(), nil)
	}
	switch d := data.(type) {
	case *store.SeriesData:
		d.IsComicsPublication = true
		d.IsCurrent = true
	case *store.StoryData:
		d.Type = "comic story"
	}
	return data, nil
}

func (s *Service) Changeset(ctx context.Context, id int64) (ChangesetView, error) {
	cs, err := s.store.GetChangeset(ctx, id)
	if err != nil {
		return ChangesetView{}, lookup(err, "changeset")
	}
	revisions, err := s.store.ListRevisions(ctx, id)
	if err != nil {
		return ChangesetView{}, fmt.Errorf("list revisions: %w", err)
	}
	comments, err := s.store.ListComments(ctx, id)
	if err != nil {
		return ChangesetView{}, fmt.Errorf("list comments: %w", err)
	}
	locks, err := s.store.ListLocks(ctx, id)
	if err != nil {
		return ChangesetView{}, fmt.Errorf("list locks: %w", err)
	}
	return ChangesetView{Changeset: cs, Revisions: revisions, Comments: comments, Locks: locks}, nil
}

// UpdateRevision replaces the payload of a revision in an open changeset.
// References to the owning issue cannot be changed this way.
func (s *Service) UpdateRevision(ctx context.Context, userID, revisionID int64, data store.Data) (store.Revision, error) {
	if data == nil {
		return store.Revision{}, invalid(CodeInvalidRevision, "payload is required", nil)
	}
	var result store.Revision
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		rev, err := tx.GetRevision(ctx, revisionID)
		if err != nil {
			return lookup(err, "revision")
		}
		if _, err := editable(ctx, tx, userID, rev.ChangesetID); err != nil {
			return err
		}
		if data.Kind() != rev.Kind {
			return invalid(CodeInvalidRevision, fmt.Sprintf("revision holds a %s, not a %s", rev.Kind, data.Kind()), nil)
		}

		if err := requireLiveParent(ctx, tx, rev); err != nil {
			return err
		}

		updated := data.Clone()
		switch d := updated.(type) {
		case *store.StoryData:
			d.IssueID = rev.Data.(*store.StoryData).IssueID
		case *store.CoverData:
			d.IssueID = rev.Data.(*store.CoverData).IssueID
		case *store.IssueData:
			current := rev.Data.(*store.IssueData)
			if d.IsIndexed != store.IndexSkeleton && d.IsIndexed != current.IsIndexed {
				return derivedIndexing()
			}
			d.IsIndexed = current.IsIndexed
			d.VariantOfID = current.VariantOfID
		}
		prepare(updated)
		rev.Data = updated
		if err := validateRevision(ctx, tx, rev); err != nil {
			return err
		}
		if err := tx.UpdateRevision(ctx, rev); err != nil {
			return fmt.Errorf("update revision: %w", err)
		}
		result, err = tx.GetRevision(ctx, rev.ID)
		return err
	})
	if err != nil {
		return store.Revision{}, err
	}
	return result, nil
}

// AddStory adds a story revision under an issue revision of an open
// changeset. The issue may itself be an add.
func (s *Service) AddStory(ctx context.Context, userID, issueRevisionID int64, data *store.StoryData) (store.Revision, error) {
	if data == nil {
		data = &store.StoryData{}
	}
	var result store.Revision
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		issueRev, err := tx.GetRevision(ctx, issueRevisionID)
		if err != nil {
			return lookup(err, "revision")
		}
		if issueRev.Kind != store.KindIssue {
			return invalid(CodeInvalidRevision, "stories belong to an issue revision", nil)
		}
		if _, err := editable(ctx, tx, userID, issueRev.ChangesetID); err != nil {
			return err
		}
		if issueRev.Deleted {
			return invalid(CodeParentDeleted, "stories cannot be added to an issue that is being deleted", nil)
		}

		story := data.Clone().(*store.StoryData)
		story.IssueID = 0
		if issueRev.SourceID != nil {
			story.IssueID = *issueRev.SourceID
		}
		prepare(story)
		rev := store.Revision{
			ChangesetID:      issueRev.ChangesetID,
			Kind:             store.KindStory,
			ParentRevisionID: &issueRev.ID,
			Added:            true,
			Data:             story,
		}
		if err := validateRevision(ctx, tx, rev); err != nil {
			return err
		}
		if err := tx.CreateRevision(ctx, &rev); err != nil {
			return fmt.Errorf("create revision: %w", err)
		}
		result = rev
		return nil
	})
	if err != nil {
		return store.Revision{}, err
	}
	return result, nil
}

// ToggleDeleted flips the delete marker of a story revision inside an
// issue changeset.
func (s *Service) ToggleDeleted(ctx context.Context, userID, revisionID int64) (store.Revision, error) {
	var result store.Revision
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		rev, err := tx.GetRevision(ctx, revisionID)
		if err != nil {
			return lookup(err, "revision")
		}
		if rev.Kind != store.KindStory || rev.ParentRevisionID == nil {
			return invalid(CodeInvalidRevision, "only stories inside an issue changeset can be toggled", nil)
		}
		if _, err := editable(ctx, tx, userID, rev.ChangesetID); err != nil {
			return err
		}
		if err := requireLiveParent(ctx, tx, rev); err != nil {
			return err
		}
		rev.Deleted = !rev.Deleted
		if err := tx.UpdateRevision(ctx, rev); err != nil {
			return fmt.Errorf("update revision: %w", err)
		}
		result, err = tx.GetRevision(ctx, rev.ID)
		return err
	})
	if err != nil {
		return store.Revision{}, err
	}
	return result, nil
}

// Comment attaches a note to a changeset without changing its state.
func (s *Service) Comment(ctx context.Context, userID, changesetID int64, text string) (store.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Comment{}, invalid(CodeNotesRequired, "comment text is required", nil)
	}
	var result store.Comment
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		cs, err := tx.GetChangesetForUpdate(ctx, changesetID)
		if err != nil {
			return lookup(err, "changeset")
		}
		actor, err := s.actor(ctx, tx, userID)
		if err != nil {
			return err
		}
		isApprover := cs.ApproverID != nil && *cs.ApproverID == userID
		if cs.IndexerID != userID && !isApprover && !can(actor, rbac.ActionApprove) {
			return forbidden("you may not comment on this changeset")
		}
		result = store.Comment{
			ChangesetID: cs.ID,
			CommenterID: userID,
			Text:        text,
			OldState:    cs.State,
			NewState:    cs.State,
		}
		if err := tx.AddComment(ctx, &result); err != nil {
			return fmt.Errorf("add comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.Comment{}, err
	}
	return result, nil
}

// requireLiveParent refuses changes to a child whose issue revision is
// marked for deletion; such children are deleted with it.
func requireLiveParent(ctx context.Context, r store.Reader, rev store.Revision) error {
	if rev.ParentRevisionID == nil {
		return nil
	}
	parent, err := r.GetRevision(ctx, *rev.ParentRevisionID)
	if err != nil {
		return fmt.Errorf("load parent revision: %w", err)
	}
	if parent.Deleted {
		return invalid(CodeParentDeleted,
			fmt.Sprintf("the %s is being deleted together with this %s", parent.Kind, rev.Kind), nil)
	}
	return nil
}

func derivedIndexing() *DomainError {
	return invalid(CodeInvalidRevision, "the indexing level is derived from the issue's stories",
		map[string]string{"is_indexed": "cannot be set directly"})
}

func editable(ctx context.Context, tx store.Tx, userID, changesetID int64) (store.Changeset, error) {
	cs, err := tx.GetChangesetForUpdate(ctx, changesetID)
	if err != nil {
		return store.Changeset{}, lookup(err, "changeset")
	}
	if cs.IndexerID != userID {
		return store.Changeset{}, forbidden("only the indexer may edit this changeset")
	}
	if cs.State != store.StateOpen {
		return store.Changeset{}, invalid(CodeInvalidRevision,
			fmt.Sprintf("changeset is %s; revisions can only be edited while it is open", cs.State), nil)
	}
	return cs, nil
}
