package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comicsdb/api/internal/store"
)

type fixture struct {
	store  *store.MemoryStore
	series map[string]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: store.NewMemoryStore(), series: map[string]int64{}}

	err := f.store.WithTx(ctx, func(tx store.Tx) error {
		pub := store.Record{Kind: store.KindPublisher, Data: &store.PublisherData{Name: "Dell", CountryCode: "us"}}
		if err := tx.CreateEntity(ctx, &pub); err != nil {
			return err
		}
		brand := store.Record{Kind: store.KindBrand, Data: &store.BrandData{Name: "Dell", PublisherID: pub.ID}}
		if err := tx.CreateEntity(ctx, &brand); err != nil {
			return err
		}
		for _, s := range []struct {
			name, lang, country string
			comics              bool
		}{
			{"english", "en", "us", true},
			{"german", "de", "de", true},
			{"magazine", "en", "us", false},
		} {
			rec := store.Record{Kind: store.KindSeries, Data: &store.SeriesData{
				Name: s.name, PublisherID: pub.ID, LanguageCode: s.lang, CountryCode: s.country, IsComicsPublication: s.comics,
			}}
			if err := tx.CreateEntity(ctx, &rec); err != nil {
				return err
			}
			f.series[s.name] = rec.ID
		}
		for name, seriesID := range f.series {
			issue := store.Record{Kind: store.KindIssue, Data: &store.IssueData{SeriesID: seriesID, Number: "1", IsIndexed: store.IndexFull}}
			if err := tx.CreateEntity(ctx, &issue); err != nil {
				return err
			}
			story := store.Record{Kind: store.KindStory, Data: &store.StoryData{IssueID: issue.ID, Type: "comic story"}}
			if err := tx.CreateEntity(ctx, &story); err != nil {
				return err
			}
			if name == "english" {
				variantOf := issue.ID
				variant := store.Record{Kind: store.KindIssue, Data: &store.IssueData{SeriesID: seriesID, Number: "1", VariantOfID: &variantOf}}
				if err := tx.CreateEntity(ctx, &variant); err != nil {
					return err
				}
				cover := store.Record{Kind: store.KindCover, Data: &store.CoverData{IssueID: issue.ID}}
				if err := tx.CreateEntity(ctx, &cover); err != nil {
					return err
				}
			}
		}
		return nil
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) stat(t *testing.T, name, language, country string) int64 {
	t.Helper()
	stat, ok, err := f.store.GetCountStat(context.Background(), name, language, country)
	require.NoError(t, err)
	require.True(t, ok, "missing stat %s %q/%q", name, language, country)
	return stat.Count
}

func TestRecountGlobal(t *testing.T) {
	f := newFixture(t)

	counts, err := Recount(context.Background(), f.store, "", "")
	require.NoError(t, err)

	assert.Equal(t, int64(1), counts[Publishers])
	assert.Equal(t, int64(1), counts[Brands])
	assert.Equal(t, int64(2), counts[Series])
	assert.Equal(t, int64(2), counts[Issues])
	assert.Equal(t, int64(1), counts[VariantIssues])
	assert.Equal(t, int64(2), counts[IssueIndexes])
	assert.Equal(t, int64(3), counts[Stories])
	assert.Equal(t, int64(1), counts[Covers])
}

func TestRecountLanguageBucketSkipsPublisherNames(t *testing.T) {
	f := newFixture(t)

	counts, err := Recount(context.Background(), f.store, "en", "")
	require.NoError(t, err)

	_, hasPublishers := counts[Publishers]
	assert.False(t, hasPublishers)
	assert.Equal(t, int64(1), counts[Series])
	assert.Equal(t, int64(2), counts[Stories])
}

func TestRecountRejectsBothAxes(t *testing.T) {
	f := newFixture(t)

	_, err := Recount(context.Background(), f.store, "en", "us")
	assert.ErrorIs(t, err, ErrBothAxes)
}

func TestUpdateAllCountsInitializesMissingBucketByRecount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, EnsureGlobal(ctx, f.store))

	err := f.store.WithTx(ctx, func(tx store.Tx) error {
		return UpdateAllCounts(ctx, tx, Counts{Series: 1, SeriesIssues: 5}, false, "de", "")
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), f.stat(t, Series, "", ""), "global row takes the delta")
	assert.Equal(t, int64(1), f.stat(t, Series, "de", ""), "new bucket is a recount, not a delta")
	_, ok, err := f.store.GetCountStat(ctx, SeriesIssues, "", "")
	require.NoError(t, err)
	assert.False(t, ok, "cached names never reach CountStats")
}

func TestUpdateAllCountsNegate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, EnsureGlobal(ctx, f.store))
	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error { return Init(ctx, tx, "en", "") }))

	err := f.store.WithTx(ctx, func(tx store.Tx) error {
		return UpdateAllCounts(ctx, tx, Counts{Stories: 2}, true, "en", "")
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.stat(t, Stories, "", ""))
	assert.Equal(t, int64(0), f.stat(t, Stories, "en", ""))
}

func TestAdjustDoesNotDoubleCountFreshBucket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, EnsureGlobal(ctx, f.store))

	// The entity already sits in "en" in the store; both halves name "en".
	err := f.store.WithTx(ctx, func(tx store.Tx) error {
		return Adjust(ctx, tx, Counts{Stories: 1}, Counts{Stories: 2}, "en", "", "en", "")
	})
	require.NoError(t, err)

	recounted, err := Recount(ctx, f.store, "en", "")
	require.NoError(t, err)
	assert.Equal(t, recounted[Stories], f.stat(t, Stories, "en", ""))
}

func TestAdjustSkipsUnchangedClassification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, EnsureGlobal(ctx, f.store))

	err := f.store.WithTx(ctx, func(tx store.Tx) error {
		return Adjust(ctx, tx, Counts{Issues: 1}, Counts{Issues: 1}, "fr", "", "fr", "")
	})
	require.NoError(t, err)

	has, err := f.store.HasCountStats(ctx, "fr", "")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRebuildRecountsExistingBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.ReplaceCountStats(ctx, "", "us", map[string]int64{Series: 99})
	}))
	require.NoError(t, Rebuild(ctx, f.store))

	assert.Equal(t, int64(1), f.stat(t, Series, "", "us"))
	assert.Equal(t, int64(2), f.stat(t, Series, "", ""))
}

func TestIndexedThreshold(t *testing.T) {
	assert.False(t, Indexed(store.IndexSkeleton))
	assert.False(t, Indexed(store.IndexSomeData))
	assert.True(t, Indexed(store.IndexPartial))
	assert.True(t, Indexed(store.IndexFull))
}

func TestRecountWritesCreatorsRowOnlyGlobally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, EnsureGlobal(ctx, f.store))

	assert.Equal(t, int64(0), f.stat(t, Creators, "", ""))

	counts, err := Recount(ctx, f.store, "", "us")
	require.NoError(t, err)
	_, hasCreators := counts[Creators]
	assert.False(t, hasCreators)
}

func TestEnsureBucketInitializesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var first, second bool
	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		first, err = EnsureBucket(ctx, tx, "de", "")
		return err
	}))
	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		second, err = EnsureBucket(ctx, tx, "de", "")
		return err
	}))

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, int64(1), f.stat(t, Series, "de", ""))
}
