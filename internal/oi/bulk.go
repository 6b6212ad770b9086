package oi

import (
	"context"
	"fmt"
	"strconv"

	"comicsdb/api/internal/store"
)

// Numbering schemes for AddIssues.
const (
	NumberWhole         = "number"
	NumberPerVolume     = "volume"
	NumberPerYear       = "year"
	NumberPerYearVolume = "year_volume"
)

// MaxBulkIssues caps how many issues one AddIssues call creates.
const MaxBulkIssues = 200

// BulkIssues describes a run of new issues. PerCycle is the number of
// issues per volume, per year or per year-and-volume, depending on Method.
// Template carries the fields every issue shares; its number and volume
// are ignored.
type BulkIssues struct {
	Method      string
	Count       int
	FirstNumber int
	PerCycle    int
	FirstVolume int
	FirstYear   int
	Volume      string
	Template    store.IssueData
	Notes       string
}

type issueNumber struct {
	number string
	volume string
}

// numberIssues expands a bulk request into issue numbers. Numbering in a
// cycle wraps from PerCycle back to 1, and the volume or year moves on
// when it does.
func numberIssues(b BulkIssues) ([]issueNumber, error) {
	p := problems{}
	if b.Count < 1 || b.Count > MaxBulkIssues {
		p["number_of_issues"] = fmt.Sprintf("must be between 1 and %d", MaxBulkIssues)
	}
	first := b.FirstNumber
	if first == 0 {
		first = 1
	}
	if first < 0 {
		p["first_number"] = "must be positive"
	}
	cyclic := b.Method != NumberWhole
	if cyclic && b.PerCycle < 1 {
		p["issues_per_cycle"] = "must be at least 1"
	}
	yearly := b.Method == NumberPerYear || b.Method == NumberPerYearVolume
	if yearly && b.FirstYear < 1 {
		p["first_year"] = "is required"
	}
	switch b.Method {
	case NumberWhole, NumberPerVolume, NumberPerYear, NumberPerYearVolume:
	default:
		p["method"] = fmt.Sprintf("unknown numbering %q", b.Method)
	}
	if err := p.err(); err != nil {
		return nil, err
	}

	volume, year := b.FirstVolume, b.FirstYear
	if volume == 0 {
		volume = 1
	}
	out := make([]issueNumber, 0, b.Count)
	for i := 0; i < b.Count; i++ {
		if !cyclic {
			out = append(out, issueNumber{number: strconv.Itoa(first + i), volume: b.Volume})
			continue
		}
		n := (first + i) % b.PerCycle
		if n == 0 {
			n = b.PerCycle
		}
		if i > 0 && n == 1 {
			volume++
			year++
		}
		switch b.Method {
		case NumberPerVolume:
			out = append(out, issueNumber{number: strconv.Itoa(n), volume: strconv.Itoa(volume)})
		case NumberPerYear:
			out = append(out, issueNumber{number: fmt.Sprintf("%d/%d", n, year), volume: b.Volume})
		case NumberPerYearVolume:
			out = append(out, issueNumber{number: fmt.Sprintf("%d/%d", n, year), volume: strconv.Itoa(volume)})
		}
	}
	return out, nil
}

// AddIssues opens one issue-add changeset holding a run of new issues of
// a series, numbered by b.Method.
func (s *Service) AddIssues(ctx context.Context, userID, seriesID int64, b BulkIssues) (store.Changeset, error) {
	if b.Template.IsIndexed != store.IndexSkeleton {
		return store.Changeset{}, derivedIndexing()
	}
	numbers, err := numberIssues(b)
	if err != nil {
		return store.Changeset{}, err
	}

	var result store.Changeset
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		indexer, err := s.reserver(ctx, tx, userID)
		if err != nil {
			return err
		}
		series, err := tx.GetEntity(ctx, store.KindSeries, seriesID)
		if err != nil {
			return lookup(err, "series")
		}
		deleting, err := pendingDeletion(ctx, tx, series)
		if err != nil {
			return err
		}
		if series.Deleted || deleting {
			return invalid(CodeNotReservable,
				fmt.Sprintf("cannot add issues since %q is deleted or pending deletion", series.Data.Label()), nil)
		}
		if err := checkQuota(ctx, tx, indexer, store.ChangeIssueAdd, false); err != nil {
			return err
		}

		revisions := make([]store.Revision, 0, len(numbers))
		for _, n := range numbers {
			issue := b.Template.Clone().(*store.IssueData)
			issue.SeriesID = series.ID
			issue.Number = n.number
			issue.Volume = n.volume
			issue.VariantOfID = nil
			rev := store.Revision{Kind: store.KindIssue, Added: true, Data: issue}
			prepare(rev.Data)
			if err := validateRevision(ctx, tx, rev); err != nil {
				return err
			}
			revisions = append(revisions, rev)
		}

		cs, err := s.openChangeset(ctx, tx, indexer.UserID, store.ChangeIssueAdd, b.Notes)
		if err != nil {
			return err
		}
		for i := range revisions {
			revisions[i].ChangesetID = cs.ID
		}
		if err := checkIssueNumbers(ctx, tx, cs, revisions, false); err != nil {
			return err
		}
		for i := range revisions {
			if err := tx.CreateRevision(ctx, &revisions[i]); err != nil {
				return fmt.Errorf("create revision: %w", err)
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

// pendingDeletion reports whether rec is reserved by a changeset that
// deletes it.
func pendingDeletion(ctx context.Context, r store.Reader, rec store.Record) (bool, error) {
	lock, ok, err := r.GetLock(ctx, rec.Kind, rec.ID)
	if err != nil {
		return false, fmt.Errorf("load lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	revisions, err := r.ListRevisions(ctx, lock.ChangesetID)
	if err != nil {
		return false, fmt.Errorf("list revisions: %w", err)
	}
	for _, rev := range revisions {
		if rev.Kind == rec.Kind && rev.SourceID != nil && *rev.SourceID == rec.ID {
			return rev.Deleted, nil
		}
	}
	return false, nil
}
