// Package stats maintains the aggregate CountStats rows: a global bucket
// plus lazily initialized per-language and per-country buckets.
package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"comicsdb/api/internal/store"
)

const (
	Series            = "series"
	Issues            = "issues"
	VariantIssues     = "variant issues"
	IssueIndexes      = "issue indexes"
	Covers            = "covers"
	Stories           = "stories"
	Publishers        = "publishers"
	IndiciaPublishers = "indicia publishers"
	Brands            = "brands"
	Creators          = "creators"

	// Local counts cached on entities; never written to CountStats.
	SeriesIssues    = "series issues"
	PublisherSeries = "publisher series"
)

var Vocabulary = []string{Series, Issues, VariantIssues, IssueIndexes, Covers, Stories, Publishers, IndiciaPublishers, Brands, Creators}

var ErrBothAxes = errors.New("stats bucket is either per language or per country")

// Counts maps statistic names to values.
type Counts map[string]int

// Equal reports whether two count sets hold the same non-zero values.
func (c Counts) Equal(other Counts) bool {
	for name, value := range c {
		if other[name] != value {
			return false
		}
	}
	for name, value := range other {
		if c[name] != value {
			return false
		}
	}
	return true
}

func (c Counts) Add(other Counts) {
	for name, value := range other {
		c[name] += value
	}
}

// Indexed reports whether an issue's indexing level counts as an index.
func Indexed(level int) bool {
	return level > store.IndexSomeData
}

func ignored(name string) bool {
	return name == SeriesIssues || name == PublisherSeries
}

// UpdateAllCounts applies deltas to the global bucket and to the given
// language and country buckets. A bucket that does not exist yet is
// initialized by a full recount instead, which already reflects the
// current state, and receives no delta.
func UpdateAllCounts(ctx context.Context, tx store.Tx, deltas Counts, negate bool, language, country string) error {
	return update(ctx, tx, deltas, negate, language, country, map[store.StatBucket]bool{})
}

// Adjust moves an entity's counts from its old classification to its new
// one. Buckets initialized during the first half are not touched again by
// the second half, so a recount is never followed by a delta it already
// includes.
func Adjust(ctx context.Context, tx store.Tx, oldCounts, newCounts Counts, oldLanguage, oldCountry, newLanguage, newCountry string) error {
	if oldCounts.Equal(newCounts) && oldLanguage == newLanguage && oldCountry == newCountry {
		return nil
	}
	fresh := map[store.StatBucket]bool{}
	if err := update(ctx, tx, oldCounts, true, oldLanguage, oldCountry, fresh); err != nil {
		return err
	}
	return update(ctx, tx, newCounts, false, newLanguage, newCountry, fresh)
}

func update(ctx context.Context, tx store.Tx, deltas Counts, negate bool, language, country string, fresh map[store.StatBucket]bool) error {
	var buckets []store.StatBucket
	if language != "" {
		buckets = append(buckets, store.StatBucket{Language: language})
	}
	if country != "" {
		buckets = append(buckets, store.StatBucket{Country: country})
	}

	var targets []store.StatBucket
	for _, bucket := range buckets {
		if fresh[bucket] {
			continue
		}
		created, err := EnsureBucket(ctx, tx, bucket.Language, bucket.Country)
		if err != nil {
			return err
		}
		if created {
			fresh[bucket] = true
			continue
		}
		targets = append(targets, bucket)
	}

	names := make([]string, 0, len(deltas))
	for name := range deltas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if ignored(name) {
			continue
		}
		delta := int64(deltas[name])
		if negate {
			delta = -delta
		}
		if delta == 0 {
			continue
		}
		if err := tx.IncrementCountStat(ctx, name, "", "", delta); err != nil {
			return err
		}
		for _, bucket := range targets {
			if err := tx.IncrementCountStat(ctx, name, bucket.Language, bucket.Country, delta); err != nil {
				return err
			}
		}
	}
	return nil
}

// EnsureBucket initializes a missing bucket by recount and reports whether
// it did. Concurrent callers for the same bucket are serialized, so only
// the first one recounts and the others see its rows.
func EnsureBucket(ctx context.Context, tx store.Tx, language, country string) (bool, error) {
	if err := tx.LockStatBucket(ctx, language, country); err != nil {
		return false, err
	}
	exists, err := tx.HasCountStats(ctx, language, country)
	if err != nil || exists {
		return false, err
	}
	return true, Init(ctx, tx, language, country)
}

// Init replaces a bucket's rows with a full recount.
func Init(ctx context.Context, tx store.Tx, language, country string) error {
	counts, err := Recount(ctx, tx, language, country)
	if err != nil {
		return err
	}
	if err := tx.ReplaceCountStats(ctx, language, country, counts); err != nil {
		return fmt.Errorf("init stats %q/%q: %w", language, country, err)
	}
	return nil
}

// Rebuild recounts the global bucket and every bucket already present.
func Rebuild(ctx context.Context, s store.Store) error {
	buckets, err := s.ListStatBuckets(ctx)
	if err != nil {
		return err
	}
	hasGlobal := false
	for _, bucket := range buckets {
		if bucket.Language == "" && bucket.Country == "" {
			hasGlobal = true
		}
	}
	if !hasGlobal {
		buckets = append([]store.StatBucket{{}}, buckets...)
	}

	for _, bucket := range buckets {
		bucket := bucket
		if err := s.WithTx(ctx, func(tx store.Tx) error {
			return Init(ctx, tx, bucket.Language, bucket.Country)
		}); err != nil {
			return err
		}
	}
	return nil
}

// EnsureGlobal creates the global bucket by recount if it is missing.
func EnsureGlobal(ctx context.Context, s store.Store) error {
	return s.WithTx(ctx, func(tx store.Tx) error {
		_, err := EnsureBucket(ctx, tx, "", "")
		return err
	})
}
