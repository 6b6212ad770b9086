package stats

import (
	"context"
	"fmt"

	"comicsdb/api/internal/store"
)

type seriesInfo struct {
	language string
	country  string
	comics   bool
}

func (s seriesInfo) in(language, country string) bool {
	return (language == "" || s.language == language) && (country == "" || s.country == country)
}

// Recount computes a bucket from scratch by scanning every entity. The
// predicates match the per-entity counters used for incremental updates.
func Recount(ctx context.Context, r store.Reader, language, country string) (map[string]int64, error) {
	if language != "" && country != "" {
		return nil, ErrBothAxes
	}
	counts := map[string]int64{}

	if language == "" {
		counts[Publishers] = 0
		counts[IndiciaPublishers] = 0
		err := r.ScanEntities(ctx, store.KindPublisher, func(rec store.Record) error {
			data := rec.Data.(*store.PublisherData)
			if !rec.Deleted && (country == "" || data.CountryCode == country) {
				counts[Publishers]++
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("recount publishers: %w", err)
		}
		err = r.ScanEntities(ctx, store.KindIndiciaPublisher, func(rec store.Record) error {
			data := rec.Data.(*store.IndiciaPublisherData)
			if !rec.Deleted && (country == "" || data.CountryCode == country) {
				counts[IndiciaPublishers]++
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("recount indicia publishers: %w", err)
		}
		if country == "" {
			// Creators are not moderated here; the global row is kept at zero.
			counts[Creators] = 0
			counts[Brands] = 0
			err = r.ScanEntities(ctx, store.KindBrand, func(rec store.Record) error {
				if !rec.Deleted {
					counts[Brands]++
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("recount brands: %w", err)
			}
		}
	}

	series := map[int64]seriesInfo{}
	counts[Series] = 0
	err := r.ScanEntities(ctx, store.KindSeries, func(rec store.Record) error {
		data := rec.Data.(*store.SeriesData)
		info := seriesInfo{language: data.LanguageCode, country: data.CountryCode, comics: data.IsComicsPublication}
		series[rec.ID] = info
		if !rec.Deleted && info.comics && info.in(language, country) {
			counts[Series]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recount series: %w", err)
	}

	issueSeries := map[int64]int64{}
	counts[Issues] = 0
	counts[VariantIssues] = 0
	counts[IssueIndexes] = 0
	err = r.ScanEntities(ctx, store.KindIssue, func(rec store.Record) error {
		data := rec.Data.(*store.IssueData)
		issueSeries[rec.ID] = data.SeriesID
		info, ok := series[data.SeriesID]
		if rec.Deleted || !ok || !info.comics || !info.in(language, country) {
			return nil
		}
		if data.VariantOfID != nil {
			counts[VariantIssues]++
			return nil
		}
		counts[Issues]++
		if Indexed(data.IsIndexed) {
			counts[IssueIndexes]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recount issues: %w", err)
	}

	inBucket := func(issueID int64) bool {
		info, ok := series[issueSeries[issueID]]
		return ok && info.in(language, country)
	}

	counts[Stories] = 0
	err = r.ScanEntities(ctx, store.KindStory, func(rec store.Record) error {
		if !rec.Deleted && inBucket(rec.Data.(*store.StoryData).IssueID) {
			counts[Stories]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recount stories: %w", err)
	}

	counts[Covers] = 0
	err = r.ScanEntities(ctx, store.KindCover, func(rec store.Record) error {
		if !rec.Deleted && inBucket(rec.Data.(*store.CoverData).IssueID) {
			counts[Covers]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recount covers: %w", err)
	}

	return counts, nil
}
