package oi

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"comicsdb/api/internal/stats"
	"comicsdb/api/internal/store"
)

// Sequence types that fill pages without being indexed content.
var fillerTypes = map[string]bool{
	"advertisement":                 true,
	"promo (ad from the publisher)": true,
	"in-house column":               true,
	"public service announcement":   true,
	"blank page(s)":                 true,
}

func pages(value string) float64 {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// indexLevel derives how completely an issue is indexed from its live
// stories. Content must cover 40% of the printed pages, or half of the
// pages that are not ads, to count as a full index; a tenth of the
// non-ad pages is a ten percent index.
func indexLevel(issue *store.IssueData, stories []store.Record) int {
	var content, filler float64
	hasComic := false
	for _, rec := range stories {
		story := rec.Data.(*store.StoryData)
		if fillerTypes[story.Type] {
			filler += pages(story.PageCount)
			continue
		}
		content += pages(story.PageCount)
		if story.Type == "comic story" {
			hasComic = true
		}
	}

	total := pages(issue.PageCount)
	if total > 0 && content > 0 {
		switch {
		case content >= 0.4*total, content >= 0.5*(total-filler):
			return store.IndexFull
		case content >= 0.1*(total-filler):
			return store.IndexTenPercent
		}
	}
	switch {
	case hasComic:
		return store.IndexPartial
	case len(stories) > 0:
		return store.IndexSomeData
	}
	return store.IndexSkeleton
}

// refreshIndexed recomputes the indexing level of an issue from its
// committed stories, moves the "issue indexes" statistic when the issue
// crosses the indexed threshold, and copies the level to its variants.
func (c *committer) refreshIndexed(ctx context.Context, issueID int64) error {
	issue, err := c.tx.GetEntity(ctx, store.KindIssue, issueID)
	if err != nil {
		return fmt.Errorf("load issue: %w", err)
	}
	if issue.Deleted {
		return nil
	}
	data := issue.Data.(*store.IssueData)

	if data.VariantOfID != nil {
		base, err := c.tx.GetEntity(ctx, store.KindIssue, *data.VariantOfID)
		if err != nil {
			return fmt.Errorf("load variant base: %w", err)
		}
		return setIndexed(ctx, c.tx, issue, base.Data.(*store.IssueData).IsIndexed)
	}

	stories, err := c.tx.ListChildren(ctx, store.KindStory, "issue_id", issueID)
	if err != nil {
		return fmt.Errorf("list issue stories: %w", err)
	}
	level := indexLevel(data, stories)
	if level == data.IsIndexed {
		return nil
	}

	wasIndexed := stats.Indexed(data.IsIndexed)
	// The record changes first so that a bucket initialized by recount
	// already sees the new level.
	if err := setIndexed(ctx, c.tx, issue, level); err != nil {
		return err
	}
	series, err := c.tx.GetEntity(ctx, store.KindSeries, data.SeriesID)
	if err != nil {
		return fmt.Errorf("load series of issue: %w", err)
	}
	seriesData := series.Data.(*store.SeriesData)
	if seriesData.IsComicsPublication && wasIndexed != stats.Indexed(level) {
		before, after := stats.Counts{}, stats.Counts{}
		if wasIndexed {
			before[stats.IssueIndexes] = 1
		} else {
			after[stats.IssueIndexes] = 1
		}
		if err := stats.Adjust(ctx, c.tx, before, after,
			seriesData.LanguageCode, seriesData.CountryCode, seriesData.LanguageCode, seriesData.CountryCode); err != nil {
			return fmt.Errorf("adjust issue indexes: %w", err)
		}
	}

	variants, err := c.tx.ListChildren(ctx, store.KindIssue, "variant_of_id", issueID)
	if err != nil {
		return fmt.Errorf("list variants: %w", err)
	}
	for _, variant := range variants {
		if err := setIndexed(ctx, c.tx, variant, level); err != nil {
			return err
		}
	}
	return nil
}

func setIndexed(ctx context.Context, tx store.Tx, issue store.Record, level int) error {
	data := issue.Data.(*store.IssueData)
	if data.IsIndexed == level {
		return nil
	}
	data.IsIndexed = level
	if err := tx.UpdateEntity(ctx, issue); err != nil {
		return fmt.Errorf("update indexing level of issue %d: %w", issue.ID, err)
	}
	return nil
}
