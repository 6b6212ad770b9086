package oi

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/store"
)

func TestAllowedTable(t *testing.T) {
	legal := map[Action][]store.State{
		ActionSubmit:     {store.StateOpen},
		ActionRetract:    {store.StatePending},
		ActionDiscard:    {store.StateOpen, store.StatePending, store.StateReviewing},
		ActionAssign:     {store.StatePending},
		ActionRelease:    {store.StateReviewing},
		ActionApprove:    {store.StateReviewing},
		ActionDisapprove: {store.StateReviewing},
	}
	states := []store.State{
		store.StateOpen, store.StatePending, store.StateReviewing,
		store.StateApproved, store.StateDiscarded, store.StateUnreserved,
	}
	for _, action := range Actions {
		for _, state := range states {
			want := false
			for _, from := range legal[action] {
				if from == state {
					want = true
				}
			}
			assert.Equal(t, want, Allowed(state, action), "%s from %s", action, state)
		}
	}
	assert.False(t, Allowed(store.StateOpen, Action("publish")))
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindPublisher, f.ids["publisher"], ReserveOptions{}))
	f.edit(indexerID, f.revisionOf(cs.ID, store.KindPublisher), func(d store.Data) {
		d.(*store.PublisherData).Name = "Marvel Comics"
	})

	cs = f.must(f.svc.Submit(f.ctx, indexerID, cs.ID, ""))
	assert.Equal(t, store.StatePending, cs.State)
	assert.Nil(t, cs.ApproverID)
	pending, err := f.svc.Pending(f.ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, cs.ID, pending[0].ID)
	assert.Equal(t, []notify.Event{notify.EventSubmitted}, f.sent.Events(0))

	cs = f.must(f.svc.Assign(f.ctx, editorID, cs.ID, ""))
	assert.Equal(t, store.StateReviewing, cs.State)
	require.NotNil(t, cs.ApproverID)
	assert.Equal(t, editorID, *cs.ApproverID)
	reviewing, err := f.svc.ReviewingByApprover(f.ctx, editorID)
	require.NoError(t, err)
	require.Len(t, reviewing, 1)

	cs = f.must(f.svc.Approve(f.ctx, editorID, cs.ID, ""))
	assert.Equal(t, store.StateApproved, cs.State)
	assert.Equal(t, 1, cs.Imps)

	pub := f.entity(store.KindPublisher, f.ids["publisher"])
	assert.Equal(t, "Marvel Comics", pub.Data.(*store.PublisherData).Name)
	assert.False(t, pub.Reserved)
	locks, err := f.store.ListLocks(f.ctx, cs.ID)
	require.NoError(t, err)
	assert.Empty(t, locks)

	rev := f.revisionOf(cs.ID, store.KindPublisher)
	require.NotNil(t, rev.Committed)
	assert.True(t, *rev.Committed)

	comments, err := f.store.ListComments(f.ctx, cs.ID)
	require.NoError(t, err)
	var path []store.State
	for _, comment := range comments {
		path = append(path, comment.NewState)
	}
	assert.Equal(t, []store.State{store.StateOpen, store.StatePending, store.StateReviewing, store.StateApproved}, path)

	indexer, err := f.store.GetIndexer(f.ctx, indexerID)
	require.NoError(t, err)
	assert.Equal(t, 1, indexer.Imps)
	approver, err := f.store.GetIndexer(f.ctx, editorID)
	require.NoError(t, err)
	assert.Equal(t, DefaultQuotas().ImpsForApproval, approver.Imps)

	_, err = f.svc.Discard(f.ctx, indexerID, cs.ID, "")
	requireCode(t, err, ErrValidation, CodeIllegalTransition)
}

func TestIllegalTransitions(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindPublisher, f.ids["publisher"], ReserveOptions{}))

	_, err := f.svc.Approve(f.ctx, editorID, cs.ID, "")
	requireCode(t, err, ErrValidation, CodeIllegalTransition)
	_, err = f.svc.Retract(f.ctx, indexerID, cs.ID, "")
	requireCode(t, err, ErrValidation, CodeIllegalTransition)
	_, err = f.svc.Assign(f.ctx, editorID, cs.ID, "")
	requireCode(t, err, ErrValidation, CodeIllegalTransition)
	_, err = f.svc.Release(f.ctx, editorID, cs.ID, "")
	requireCode(t, err, ErrValidation, CodeIllegalTransition)

	_, err = f.svc.Submit(f.ctx, otherID, cs.ID, "not mine")
	requireCode(t, err, ErrPermission, CodeForbidden)

	_, err = f.svc.Submit(f.ctx, indexerID, 9999, "")
	requireCode(t, err, ErrNotFound, CodeNotFound)
}

func TestSubmitWithoutChangesNeedsNotes(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindPublisher, f.ids["publisher"], ReserveOptions{}))

	_, err := f.svc.Submit(f.ctx, indexerID, cs.ID, "  ")
	requireCode(t, err, ErrValidation, CodeNothingToSubmit)
	assert.Equal(t, store.StateOpen, f.changeset(cs.ID).State)

	cs = f.must(f.svc.Submit(f.ctx, indexerID, cs.ID, "checked against my copy, nothing to fix"))
	assert.Equal(t, store.StatePending, cs.State)
}

func TestDisapprovedChangesetReturnsToItsApprover(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindBrand, f.ids["brand"], ReserveOptions{}))
	f.edit(indexerID, f.revisionOf(cs.ID, store.KindBrand), func(d store.Data) {
		d.(*store.BrandData).YearBegan = 1961
	})
	f.must(f.svc.Submit(f.ctx, indexerID, cs.ID, ""))
	f.must(f.svc.Assign(f.ctx, editorID, cs.ID, ""))

	_, err := f.svc.Disapprove(f.ctx, editorID, cs.ID, "")
	requireCode(t, err, ErrValidation, CodeNotesRequired)
	_, err = f.svc.Disapprove(f.ctx, otherEditor, cs.ID, "not yours")
	requireCode(t, err, ErrPermission, CodeForbidden)

	cs = f.must(f.svc.Disapprove(f.ctx, editorID, cs.ID, "the brand emblem dates from 1963"))
	assert.Equal(t, store.StateOpen, cs.State)
	require.NotNil(t, cs.ApproverID)
	assert.Equal(t, editorID, *cs.ApproverID)
	assert.Contains(t, f.sent.Events(indexerID), notify.EventDisapproved)

	f.edit(indexerID, f.revisionOf(cs.ID, store.KindBrand), func(d store.Data) {
		d.(*store.BrandData).YearBegan = 1963
	})
	cs = f.must(f.svc.Submit(f.ctx, indexerID, cs.ID, "fixed"))
	assert.Equal(t, store.StateReviewing, cs.State)
	assert.Equal(t, editorID, *cs.ApproverID)
	assert.Contains(t, f.sent.Events(editorID), notify.EventResubmitted)

	pending, err := f.svc.Pending(f.ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	f.must(f.svc.Approve(f.ctx, editorID, cs.ID, ""))
	assert.Equal(t, 1963, f.entity(store.KindBrand, f.ids["brand"]).Data.(*store.BrandData).YearBegan)
}

func TestAssignRules(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindBrand, f.ids["brand"], ReserveOptions{}))
	f.must(f.svc.Submit(f.ctx, indexerID, cs.ID, "please"))

	_, err := f.svc.Assign(f.ctx, otherID, cs.ID, "")
	requireCode(t, err, ErrPermission, CodeForbidden)

	f.must(f.svc.Assign(f.ctx, editorID, cs.ID, ""))
	_, err = f.svc.Assign(f.ctx, otherEditor, cs.ID, "")
	requireCode(t, err, ErrConflict, CodeAlreadyAssigned)

	own := f.must(f.svc.Reserve(f.ctx, editorID, store.KindPublisher, f.ids["publisher"], ReserveOptions{}))
	f.must(f.svc.Submit(f.ctx, editorID, own.ID, "please"))
	_, err = f.svc.Assign(f.ctx, editorID, own.ID, "")
	requireCode(t, err, ErrPermission, CodeSelfReview)
}

func TestConcurrentAssignHasOneWinner(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindBrand, f.ids["brand"], ReserveOptions{}))
	f.must(f.svc.Submit(f.ctx, indexerID, cs.ID, "please"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, approver := range []int64{editorID, otherEditor} {
		wg.Add(1)
		go func(i int, approver int64) {
			defer wg.Done()
			_, errs[i] = f.svc.Assign(f.ctx, approver, cs.ID, "")
		}(i, approver)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, ErrConflict), "loser should get a conflict, got %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, store.StateReviewing, f.changeset(cs.ID).State)
}

func TestConcurrentReserveHasOneWinner(t *testing.T) {
	f := newFixture(t)
	indexers := []int64{indexerID, otherID, editorID, otherEditor, adminID}

	var wg sync.WaitGroup
	errs := make([]error, len(indexers))
	for i, userID := range indexers {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			_, errs[i] = f.svc.Reserve(f.ctx, userID, store.KindSeries, f.ids["series"], ReserveOptions{})
		}(i, userID)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		requireCode(t, err, ErrConflict, CodeAlreadyReserved)
	}
	assert.Equal(t, 1, wins)
	assert.True(t, f.entity(store.KindSeries, f.ids["series"]).Reserved)
}

func TestReleaseReturnsToQueue(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindBrand, f.ids["brand"], ReserveOptions{}))
	f.must(f.svc.Submit(f.ctx, indexerID, cs.ID, "please"))
	f.must(f.svc.Assign(f.ctx, editorID, cs.ID, ""))

	_, err := f.svc.Release(f.ctx, otherEditor, cs.ID, "")
	requireCode(t, err, ErrPermission, CodeForbidden)

	cs = f.must(f.svc.Release(f.ctx, editorID, cs.ID, "out of my depth"))
	assert.Equal(t, store.StatePending, cs.State)
	assert.Nil(t, cs.ApproverID)

	f.must(f.svc.Assign(f.ctx, otherEditor, cs.ID, ""))
}

func TestRetract(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindBrand, f.ids["brand"], ReserveOptions{}))
	f.must(f.svc.Submit(f.ctx, indexerID, cs.ID, "please"))

	cs = f.must(f.svc.Retract(f.ctx, indexerID, cs.ID, "one more thing"))
	assert.Equal(t, store.StateOpen, cs.State)

	f.must(f.svc.Submit(f.ctx, indexerID, cs.ID, "now"))
	f.must(f.svc.Assign(f.ctx, editorID, cs.ID, ""))
	_, err := f.svc.Retract(f.ctx, indexerID, cs.ID, "")
	requireCode(t, err, ErrValidation, CodeIllegalTransition)
}

func TestDiscardUnsubmittedDeletesRevisions(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindIssue, f.ids["issue1"], ReserveOptions{}))

	cs = f.must(f.svc.Discard(f.ctx, indexerID, cs.ID, ""))
	assert.Equal(t, store.StateDiscarded, cs.State)
	assert.Empty(t, f.revisions(cs.ID))
	assert.False(t, f.entity(store.KindIssue, f.ids["issue1"]).Reserved)
	assert.False(t, f.entity(store.KindStory, f.ids["story1"]).Reserved)
	locks, err := f.store.ListLocks(f.ctx, cs.ID)
	require.NoError(t, err)
	assert.Empty(t, locks)

	f.must(f.svc.Reserve(f.ctx, otherID, store.KindIssue, f.ids["issue1"], ReserveOptions{}))
}

func TestDiscardAfterSubmitKeepsRevisions(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindPublisher, f.ids["publisher"], ReserveOptions{}))
	f.must(f.svc.Submit(f.ctx, indexerID, cs.ID, "please"))
	f.must(f.svc.Retract(f.ctx, indexerID, cs.ID, ""))

	f.must(f.svc.Discard(f.ctx, indexerID, cs.ID, ""))
	revisions := f.revisions(cs.ID)
	require.Len(t, revisions, 1)
	require.NotNil(t, revisions[0].Committed)
	assert.False(t, *revisions[0].Committed)
	assert.False(t, f.entity(store.KindPublisher, f.ids["publisher"]).Reserved)
}

func TestDiscardDuringReview(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindPublisher, f.ids["publisher"], ReserveOptions{}))
	f.must(f.svc.Submit(f.ctx, indexerID, cs.ID, "please"))
	f.must(f.svc.Assign(f.ctx, editorID, cs.ID, ""))

	_, err := f.svc.Discard(f.ctx, otherID, cs.ID, "")
	requireCode(t, err, ErrPermission, CodeForbidden)
	_, err = f.svc.Discard(f.ctx, editorID, cs.ID, "")
	requireCode(t, err, ErrValidation, CodeNotesRequired)

	cs = f.must(f.svc.Discard(f.ctx, editorID, cs.ID, "duplicate of another change"))
	assert.Equal(t, store.StateDiscarded, cs.State)
	assert.Contains(t, f.sent.Events(indexerID), notify.EventDiscarded)

	other := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindBrand, f.ids["brand"], ReserveOptions{}))
	f.must(f.svc.Submit(f.ctx, indexerID, other.ID, "please"))
	f.must(f.svc.Assign(f.ctx, editorID, other.ID, ""))
	f.must(f.svc.Discard(f.ctx, indexerID, other.ID, ""))
	assert.Contains(t, f.sent.Events(editorID), notify.EventDiscarded)
}

func TestMentorClaimsNewIndexersQueue(t *testing.T) {
	f := newFixture(t)
	edit := f.must(f.svc.Reserve(f.ctx, newIndexerID, store.KindPublisher, f.ids["publisher"], ReserveOptions{}))
	cover := f.must(f.svc.Reserve(f.ctx, newIndexerID, store.KindCover, f.ids["cover"], ReserveOptions{}))
	f.must(f.svc.Submit(f.ctx, newIndexerID, edit.ID, "first"))
	f.must(f.svc.Submit(f.ctx, newIndexerID, cover.ID, "second"))

	f.must(f.svc.Assign(f.ctx, editorID, edit.ID, ""))

	indexer, err := f.store.GetIndexer(f.ctx, newIndexerID)
	require.NoError(t, err)
	require.NotNil(t, indexer.MentorID)
	assert.Equal(t, editorID, *indexer.MentorID)

	claimed := f.changeset(cover.ID)
	assert.Equal(t, store.StateReviewing, claimed.State)
	require.NotNil(t, claimed.ApproverID)
	assert.Equal(t, editorID, *claimed.ApproverID)
}

func TestCoverReviewDoesNotAssignMentor(t *testing.T) {
	f := newFixture(t)
	edit := f.must(f.svc.Reserve(f.ctx, newIndexerID, store.KindPublisher, f.ids["publisher"], ReserveOptions{}))
	cover := f.must(f.svc.Reserve(f.ctx, newIndexerID, store.KindCover, f.ids["cover"], ReserveOptions{}))
	f.must(f.svc.Submit(f.ctx, newIndexerID, edit.ID, "first"))
	f.must(f.svc.Submit(f.ctx, newIndexerID, cover.ID, "second"))

	f.must(f.svc.Assign(f.ctx, editorID, cover.ID, ""))

	indexer, err := f.store.GetIndexer(f.ctx, newIndexerID)
	require.NoError(t, err)
	assert.Nil(t, indexer.MentorID)
	assert.Equal(t, store.StatePending, f.changeset(edit.ID).State)
}
