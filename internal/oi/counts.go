package oi

import (
	"context"
	"fmt"

	"comicsdb/api/internal/stats"
	"comicsdb/api/internal/store"
)

// tally is what one record contributes to the statistics, the bucket it
// contributes to, and the parents whose cached counts include it.
type tally struct {
	counts      stats.Counts
	language    string
	country     string
	seriesID    int64
	publisherID int64
	brandID     int64
	indiciaID   int64
}

func publisherTally(_ context.Context, _ store.Reader, _ int64, data store.Data, deleted bool) (tally, error) {
	d := data.(*store.PublisherData)
	t := tally{counts: stats.Counts{}, country: d.CountryCode}
	if !deleted {
		t.counts[stats.Publishers] = 1
	}
	return t, nil
}

func indiciaTally(_ context.Context, _ store.Reader, _ int64, data store.Data, deleted bool) (tally, error) {
	d := data.(*store.IndiciaPublisherData)
	t := tally{counts: stats.Counts{}, country: d.CountryCode}
	if !deleted {
		t.counts[stats.IndiciaPublishers] = 1
	}
	return t, nil
}

func brandTally(_ context.Context, _ store.Reader, _ int64, _ store.Data, deleted bool) (tally, error) {
	t := tally{counts: stats.Counts{}}
	if !deleted {
		t.counts[stats.Brands] = 1
	}
	return t, nil
}

// seriesTally counts the series together with everything under it, so a
// change of language, country or comics flag moves the whole subtree.
func seriesTally(ctx context.Context, r store.Reader, id int64, data store.Data, deleted bool) (tally, error) {
	d := data.(*store.SeriesData)
	t := tally{
		counts:      stats.Counts{},
		language:    d.LanguageCode,
		country:     d.CountryCode,
		publisherID: d.PublisherID,
	}
	if deleted {
		return t, nil
	}
	t.counts[stats.PublisherSeries] = 1
	if d.IsComicsPublication {
		t.counts[stats.Series] = 1
	}
	if id == 0 {
		return t, nil
	}

	issues, err := r.ListChildren(ctx, store.KindIssue, "series_id", id)
	if err != nil {
		return tally{}, fmt.Errorf("list series issues: %w", err)
	}
	for _, issue := range issues {
		issueData := issue.Data.(*store.IssueData)
		if issueData.VariantOfID != nil {
			if d.IsComicsPublication {
				t.counts[stats.VariantIssues]++
			}
		} else {
			t.counts[stats.SeriesIssues]++
			if d.IsComicsPublication {
				t.counts[stats.Issues]++
				if stats.Indexed(issueData.IsIndexed) {
					t.counts[stats.IssueIndexes]++
				}
			}
		}
		if err := addIssueChildren(ctx, r, issue.ID, t.counts); err != nil {
			return tally{}, err
		}
	}
	return t, nil
}

func issueTally(ctx context.Context, r store.Reader, id int64, data store.Data, deleted bool) (tally, error) {
	d := data.(*store.IssueData)
	series, err := r.GetEntity(ctx, store.KindSeries, d.SeriesID)
	if err != nil {
		return tally{}, fmt.Errorf("load series of issue: %w", err)
	}
	seriesData := series.Data.(*store.SeriesData)
	t := tally{
		counts:      stats.Counts{},
		language:    seriesData.LanguageCode,
		country:     seriesData.CountryCode,
		seriesID:    series.ID,
		publisherID: seriesData.PublisherID,
	}
	if d.BrandID != nil {
		t.brandID = *d.BrandID
	}
	if d.IndiciaPublisherID != nil {
		t.indiciaID = *d.IndiciaPublisherID
	}
	if deleted {
		return t, nil
	}

	comics := seriesData.IsComicsPublication
	if d.VariantOfID != nil {
		if comics {
			t.counts[stats.VariantIssues] = 1
		}
	} else {
		t.counts[stats.SeriesIssues] = 1
		if comics {
			t.counts[stats.Issues] = 1
			if stats.Indexed(d.IsIndexed) {
				t.counts[stats.IssueIndexes] = 1
			}
		}
	}
	if id != 0 {
		if err := addIssueChildren(ctx, r, id, t.counts); err != nil {
			return tally{}, err
		}
	}
	return t, nil
}

func storyTally(ctx context.Context, r store.Reader, _ int64, data store.Data, deleted bool) (tally, error) {
	return issueChildTally(ctx, r, data.(*store.StoryData).IssueID, stats.Stories, deleted)
}

func coverTally(ctx context.Context, r store.Reader, _ int64, data store.Data, deleted bool) (tally, error) {
	return issueChildTally(ctx, r, data.(*store.CoverData).IssueID, stats.Covers, deleted)
}

func issueChildTally(ctx context.Context, r store.Reader, issueID int64, name string, deleted bool) (tally, error) {
	issue, err := r.GetEntity(ctx, store.KindIssue, issueID)
	if err != nil {
		return tally{}, fmt.Errorf("load issue: %w", err)
	}
	series, err := r.GetEntity(ctx, store.KindSeries, issue.Data.(*store.IssueData).SeriesID)
	if err != nil {
		return tally{}, fmt.Errorf("load series of issue: %w", err)
	}
	seriesData := series.Data.(*store.SeriesData)
	t := tally{counts: stats.Counts{}, language: seriesData.LanguageCode, country: seriesData.CountryCode}
	if !deleted {
		t.counts[name] = 1
	}
	return t, nil
}

func addIssueChildren(ctx context.Context, r store.Reader, issueID int64, counts stats.Counts) error {
	stories, err := r.ListChildren(ctx, store.KindStory, "issue_id", issueID)
	if err != nil {
		return fmt.Errorf("list issue stories: %w", err)
	}
	covers, err := r.ListChildren(ctx, store.KindCover, "issue_id", issueID)
	if err != nil {
		return fmt.Errorf("list issue covers: %w", err)
	}
	counts[stats.Stories] += len(stories)
	counts[stats.Covers] += len(covers)
	return nil
}

func tallyOf(ctx context.Context, r store.Reader, kind store.Kind, id int64, data store.Data, deleted bool) (tally, error) {
	h, err := handlerFor(kind)
	if err != nil {
		return tally{}, err
	}
	return h.tally(ctx, r, id, data, deleted)
}

// applyCached moves the cached issue and series counts of the parents
// named in t by sign times the tally.
func applyCached(ctx context.Context, tx store.Tx, kind store.Kind, t tally, sign int) error {
	adjust := func(parentKind store.Kind, id int64, name string, delta int) error {
		if id == 0 || delta == 0 {
			return nil
		}
		if err := tx.AdjustCount(ctx, parentKind, id, name, delta); err != nil {
			return fmt.Errorf("adjust %s %d %s: %w", parentKind, id, name, err)
		}
		return nil
	}

	switch kind {
	case store.KindIssue:
		delta := sign * t.counts[stats.SeriesIssues]
		for _, parent := range []struct {
			kind store.Kind
			id   int64
		}{
			{store.KindSeries, t.seriesID},
			{store.KindPublisher, t.publisherID},
			{store.KindBrand, t.brandID},
			{store.KindIndiciaPublisher, t.indiciaID},
		} {
			if err := adjust(parent.kind, parent.id, store.CountIssues, delta); err != nil {
				return err
			}
		}
	case store.KindSeries:
		if err := adjust(store.KindPublisher, t.publisherID, store.CountSeries, sign*t.counts[stats.PublisherSeries]); err != nil {
			return err
		}
		if err := adjust(store.KindPublisher, t.publisherID, store.CountIssues, sign*t.counts[stats.SeriesIssues]); err != nil {
			return err
		}
	}
	return nil
}
