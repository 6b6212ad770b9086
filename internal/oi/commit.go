package oi

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/stats"
	"comicsdb/api/internal/store"
)

// committer copies the revisions of one changeset onto the canonical
// records inside the approval transaction.
type committer struct {
	s  *Service
	tx store.Tx
	cs store.Changeset
	fx *effects
	// created maps the revision id of an add to the id of its new record.
	created map[int64]int64
	// newIssues are issues added by this changeset, for ongoing
	// reservation holders.
	newIssues []store.Record
}

func (s *Service) approve(ctx context.Context, tx store.Tx, cs *store.Changeset, approverID int64, notes string, fx *effects) error {
	if err := ensureGlobalStats(ctx, tx); err != nil {
		return err
	}

	revisions, err := tx.ListRevisions(ctx, cs.ID)
	if err != nil {
		return fmt.Errorf("list revisions: %w", err)
	}
	revisions = cascadeDeletes(revisions)
	imps := 0
	for _, rev := range revisions {
		if err := validateRevision(ctx, tx, rev); err != nil {
			return err
		}
		n, err := s.revisionImps(ctx, tx, rev)
		if err != nil {
			return err
		}
		imps += n
	}
	if err := lockIssueSeries(ctx, tx, revisions); err != nil {
		return err
	}
	if err := checkIssueNumbers(ctx, tx, *cs, revisions, false); err != nil {
		return err
	}

	c := &committer{s: s, tx: tx, cs: *cs, fx: fx, created: map[int64]int64{}}
	for _, rev := range commitOrder(revisions) {
		if err := c.commit(ctx, rev); err != nil {
			return fmt.Errorf("commit %s revision %d: %w", rev.Kind, rev.ID, err)
		}
	}
	for _, rev := range revisions {
		if rev.Kind == store.KindSeries && rev.Added && rev.ReservationRequested {
			if err := c.grantOngoing(ctx, rev); err != nil {
				return err
			}
		}
	}
	for _, issue := range c.newIssues {
		if err := c.autoReserve(ctx, issue); err != nil {
			return err
		}
	}
	if err := releaseLocks(ctx, tx, cs.ID); err != nil {
		return err
	}

	cs.Imps = imps
	if err := moveState(ctx, tx, cs, approverID, store.StateApproved, notes); err != nil {
		return err
	}
	if err := s.creditApproval(ctx, tx, *cs, approverID); err != nil {
		return err
	}

	indexer, err := tx.GetIndexer(ctx, cs.IndexerID)
	if err != nil {
		return fmt.Errorf("load indexer: %w", err)
	}
	if indexer.NotifyOnApprove || strings.TrimSpace(notes) != "" {
		fx.notify(s.message(ctx, tx, notify.EventApproved, cs.IndexerID, *cs,
			fmt.Sprintf("changeset %d was approved", cs.ID), notes))
	}
	approved := *cs
	fx.approved = &approved
	log.Printf("oi: changeset %d approved by %d (%d revisions, %d imps)", cs.ID, approverID, len(revisions), imps)
	return nil
}

// cascadeDeletes marks the children of a revision marked for deletion as
// deleted too, so no live story is left under a deleted issue.
func cascadeDeletes(revisions []store.Revision) []store.Revision {
	deleted := map[int64]bool{}
	for _, rev := range revisions {
		if rev.Deleted {
			deleted[rev.ID] = true
		}
	}
	for i, rev := range revisions {
		if !rev.Deleted && rev.ParentRevisionID != nil && deleted[*rev.ParentRevisionID] {
			revisions[i].Deleted = true
		}
	}
	return revisions
}

// lockIssueSeries holds the series rows of every issue the changeset
// numbers, so concurrent approvals check issue numbers one at a time.
func lockIssueSeries(ctx context.Context, tx store.Tx, revisions []store.Revision) error {
	seen := map[int64]bool{}
	var ids []int64
	for _, rev := range revisions {
		if rev.Kind != store.KindIssue || rev.Deleted {
			continue
		}
		id := rev.Data.(*store.IssueData).SeriesID
		if id != 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := tx.LockEntity(ctx, store.KindSeries, id); err != nil {
			return lookup(err, "series")
		}
	}
	return nil
}

func ensureGlobalStats(ctx context.Context, tx store.Tx) error {
	if _, err := stats.EnsureBucket(ctx, tx, "", ""); err != nil {
		return fmt.Errorf("ensure global stats: %w", err)
	}
	return nil
}

// commitOrder puts deletions first, children before parents, and then the
// remaining revisions parents before children. Each record is therefore
// counted against the state of its parent at the moment it changes.
func commitOrder(revisions []store.Revision) []store.Revision {
	ordered := append([]store.Revision(nil), revisions...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Deleted != b.Deleted {
			return a.Deleted
		}
		da, db := handlers[a.Kind].depth, handlers[b.Kind].depth
		if da != db {
			if a.Deleted {
				return da > db
			}
			return da < db
		}
		return a.ID < b.ID
	})
	return ordered
}

func (c *committer) commit(ctx context.Context, rev store.Revision) error {
	tx := c.tx
	committed := true

	if rev.Added && rev.Deleted {
		rev.Committed = &committed
		return tx.UpdateRevision(ctx, rev)
	}
	c.resolveParent(&rev)

	var (
		rec     store.Record
		oldT    tally
		oldData store.Data
		err     error
	)
	if rev.Added {
		rec = store.Record{Kind: rev.Kind, Data: rev.Data.Clone()}
		if err := tx.CreateEntity(ctx, &rec); err != nil {
			return fmt.Errorf("create entity: %w", err)
		}
		id := rec.ID
		rev.SourceID = &id
		c.created[rev.ID] = rec.ID
	} else {
		if rev.SourceID == nil {
			return fmt.Errorf("revision %d has no source", rev.ID)
		}
		rec, err = tx.GetEntity(ctx, rev.Kind, *rev.SourceID)
		if err != nil {
			return err
		}
		oldData = rec.Data
		oldT, err = tallyOf(ctx, tx, rec.Kind, rec.ID, rec.Data, rec.Deleted)
		if err != nil {
			return err
		}
		rec.Data = rev.Data.Clone()
		if issue, ok := rec.Data.(*store.IssueData); ok {
			issue.IsIndexed = oldData.(*store.IssueData).IsIndexed
		}
		rec.Deleted = rev.Deleted
		rec.Reserved = false
		if err := tx.UpdateEntity(ctx, rec); err != nil {
			return fmt.Errorf("update entity: %w", err)
		}
		if err := tx.ReleaseLock(ctx, rec.Kind, rec.ID); err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
	}

	newT, err := tallyOf(ctx, tx, rec.Kind, rec.ID, rec.Data, rec.Deleted)
	if err != nil {
		return err
	}
	if err := stats.Adjust(ctx, tx, oldT.counts, newT.counts, oldT.language, oldT.country, newT.language, newT.country); err != nil {
		return fmt.Errorf("adjust stats: %w", err)
	}
	if !rev.Added {
		if err := applyCached(ctx, tx, rec.Kind, oldT, -1); err != nil {
			return err
		}
	}
	if err := applyCached(ctx, tx, rec.Kind, newT, 1); err != nil {
		return err
	}

	rev.Committed = &committed
	if err := tx.UpdateRevision(ctx, rev); err != nil {
		return fmt.Errorf("update revision: %w", err)
	}

	if err := c.afterCommit(ctx, rev, oldData, rec); err != nil {
		return err
	}

	final, err := tx.GetEntity(ctx, rec.Kind, rec.ID)
	if err != nil {
		return err
	}
	c.fx.indexed = append(c.fx.indexed, final)
	return nil
}

// resolveParent points a child added under an added issue at the record
// the issue revision created.
func (c *committer) resolveParent(rev *store.Revision) {
	if rev.ParentRevisionID == nil {
		return
	}
	parentID, ok := c.created[*rev.ParentRevisionID]
	if !ok {
		return
	}
	switch d := rev.Data.(type) {
	case *store.StoryData:
		if d.IssueID == 0 {
			d.IssueID = parentID
		}
	case *store.CoverData:
		if d.IssueID == 0 {
			d.IssueID = parentID
		}
	}
}

// afterCommit applies the follow-on changes of a committed revision.
func (c *committer) afterCommit(ctx context.Context, rev store.Revision, oldData store.Data, rec store.Record) error {
	switch rec.Kind {
	case store.KindSeries:
		series := rec.Data.(*store.SeriesData)
		if rec.Deleted || (oldData != nil && oldData.(*store.SeriesData).IsCurrent && !series.IsCurrent) {
			if err := c.tx.DeleteOngoingReservation(ctx, rec.ID); err != nil {
				return fmt.Errorf("delete ongoing reservation: %w", err)
			}
		}
		if rev.Added && series.IsSingleton {
			return c.addSingletonIssue(ctx, rec)
		}
	case store.KindIssue:
		if rev.Added && !rec.Deleted && rec.Data.(*store.IssueData).VariantOfID == nil {
			c.newIssues = append(c.newIssues, rec)
		}
		if !rec.Deleted {
			return c.refreshIndexed(ctx, rec.ID)
		}
	case store.KindStory:
		return c.refreshIndexed(ctx, rec.Data.(*store.StoryData).IssueID)
	}
	return nil
}

// addSingletonIssue gives a new one-shot series its only issue.
func (c *committer) addSingletonIssue(ctx context.Context, series store.Record) error {
	seriesData := series.Data.(*store.SeriesData)
	issue := &store.IssueData{
		SeriesID:        series.ID,
		Number:          NoNumber,
		PublicationDate: yearText(seriesData.YearBegan),
		KeyDate:         yearText(seriesData.YearBegan),
	}
	rev := store.Revision{
		ChangesetID: c.cs.ID,
		Kind:        store.KindIssue,
		Added:       true,
		Data:        issue,
	}
	if err := c.tx.CreateRevision(ctx, &rev); err != nil {
		return fmt.Errorf("create singleton issue revision: %w", err)
	}
	return c.commit(ctx, rev)
}

func yearText(year int) string {
	if year == 0 {
		return ""
	}
	return fmt.Sprintf("%d", year)
}

// grantOngoing turns the ongoing reservation requested with a series add
// into a standing reservation. A refusal is reported to the indexer and
// does not affect the approval.
func (c *committer) grantOngoing(ctx context.Context, rev store.Revision) error {
	seriesID, ok := c.created[rev.ID]
	if !ok {
		return nil
	}
	series, err := c.tx.GetEntity(ctx, store.KindSeries, seriesID)
	if err != nil {
		return err
	}
	data := series.Data.(*store.SeriesData)
	indexer, err := c.tx.GetIndexer(ctx, c.cs.IndexerID)
	if err != nil {
		return fmt.Errorf("load indexer: %w", err)
	}

	reason := ""
	switch {
	case !data.IsCurrent || data.IsSingleton:
		reason = "the series is not ongoing"
	default:
		allowed, err := c.s.canHoldAnotherOngoing(ctx, c.tx, indexer)
		if err != nil {
			return err
		}
		if !allowed {
			reason = fmt.Sprintf("you already hold %d ongoing reservations", indexer.MaxOngoing)
			break
		}
		created, err := c.tx.CreateOngoingReservation(ctx, store.OngoingReservation{SeriesID: seriesID, IndexerID: indexer.UserID})
		if err != nil {
			return fmt.Errorf("create ongoing reservation: %w", err)
		}
		if !created {
			reason = "someone else already holds it"
		}
	}
	if reason != "" {
		c.fx.notify(c.s.message(ctx, c.tx, notify.EventOngoingDenied, indexer.UserID, c.cs,
			fmt.Sprintf("ongoing reservation for %q was not granted", data.Name), reason))
	}
	return nil
}

// autoReserve opens a changeset on a newly added issue for the holder of
// the series' ongoing reservation. Quota or lock failures are reported to
// the holder and skipped.
func (c *committer) autoReserve(ctx context.Context, issue store.Record) error {
	seriesID := issue.Data.(*store.IssueData).SeriesID
	holding, ok, err := c.tx.GetOngoingReservation(ctx, seriesID)
	if err != nil {
		return fmt.Errorf("load ongoing reservation: %w", err)
	}
	if !ok {
		return nil
	}
	holder, err := c.tx.GetIndexer(ctx, holding.IndexerID)
	if err != nil {
		return fmt.Errorf("load ongoing holder: %w", err)
	}

	subject := fmt.Sprintf("issue %s was added to a series you hold", issue.Data.Label())
	allowed, err := canReserveAnother(ctx, c.tx, holder)
	if err != nil {
		return err
	}
	if !allowed {
		c.fx.notify(c.s.message(ctx, c.tx, notify.EventAutoReserveFail, holder.UserID, c.cs, subject,
			quotaExceeded(holder).Message))
		return nil
	}

	current, err := c.tx.GetEntity(ctx, store.KindIssue, issue.ID)
	if err != nil {
		return err
	}
	cs, err := c.s.openChangeset(ctx, c.tx, holder.UserID, store.ChangeIssue, "automatic reservation from an ongoing series reservation")
	if err != nil {
		return err
	}
	if _, err := c.s.reserveRecord(ctx, c.tx, cs, current, false, nil); err != nil {
		return fmt.Errorf("auto reserve issue %d: %w", issue.ID, err)
	}
	c.fx.notify(c.s.message(ctx, c.tx, notify.EventAutoReserved, holder.UserID, cs, subject, ""))
	return nil
}
