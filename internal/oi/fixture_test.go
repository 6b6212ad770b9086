package oi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/stats"
	"comicsdb/api/internal/store"
)

const (
	indexerID    int64 = 10
	newIndexerID int64 = 11
	otherID      int64 = 12
	editorID     int64 = 20
	otherEditor  int64 = 21
	adminID      int64 = 30
	viewerID     int64 = 40
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.MemoryStore
	svc   *Service
	sent  *notify.Recorder
	clock *clock
	ids   map[string]int64
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	return newFixtureWithConfig(t, DefaultConfig(), opts...)
}

func newFixtureWithConfig(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store.NewMemoryStore(),
		sent:  &notify.Recorder{},
		clock: &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		ids:   map[string]int64{},
	}
	f.store.SetClock(f.clock.Now)
	opts = append([]Option{WithNotifier(f.sent), WithClock(f.clock.Now)}, opts...)
	f.svc = New(f.store, cfg, opts...)

	for _, indexer := range []store.Indexer{
		{UserID: indexerID, Name: "Ada", Email: "ada@example.org", Role: "indexer", MaxReservations: 12, MaxOngoing: 4},
		{UserID: newIndexerID, Name: "Newt", Email: "newt@example.org", Role: "indexer"},
		{UserID: otherID, Name: "Bea", Email: "bea@example.org", Role: "indexer", MaxReservations: 12, MaxOngoing: 4},
		{UserID: editorID, Name: "Eddie", Email: "eddie@example.org", Role: "editor", MaxReservations: 12, MaxOngoing: 4},
		{UserID: otherEditor, Name: "Erin", Email: "erin@example.org", Role: "editor", MaxReservations: 12, MaxOngoing: 4},
		{UserID: adminID, Name: "Root", Role: "admin", MaxReservations: 12, MaxOngoing: 4},
		{UserID: viewerID, Name: "Vic", Role: "viewer", MaxReservations: 12},
	} {
		_, err := f.svc.RegisterIndexer(f.ctx, indexer)
		require.NoError(t, err)
	}

	err := f.store.WithTx(f.ctx, func(tx store.Tx) error {
		create := func(name string, data store.Data) int64 {
			rec := store.Record{Kind: data.Kind(), Data: data}
			require.NoError(t, tx.CreateEntity(f.ctx, &rec))
			f.ids[name] = rec.ID
			return rec.ID
		}
		pub := create("publisher", &store.PublisherData{Name: "Marvel", CountryCode: "us", YearBegan: 1939})
		brand := create("brand", &store.BrandData{Name: "Marvel Comics Group", PublisherID: pub})
		indicia := create("indicia", &store.IndiciaPublisherData{Name: "Marvel Comics Group Inc.", PublisherID: pub, CountryCode: "us"})
		series := create("series", &store.SeriesData{
			Name: "Fantastic Four", SortName: "Fantastic Four", PublisherID: pub,
			LanguageCode: "en", CountryCode: "us", YearBegan: 1961, IsCurrent: true, IsComicsPublication: true,
		})
		issue1 := create("issue1", &store.IssueData{
			SeriesID: series, Number: "1", IsIndexed: store.IndexFull, BrandID: &brand, IndiciaPublisherID: &indicia,
			Notes: "Price on cover. Barcode: 4006381333931",
		})
		create("story1", &store.StoryData{IssueID: issue1, Sequence: 0, Type: "cover", Title: "The Fantastic Four!"})
		create("story2", &store.StoryData{IssueID: issue1, Sequence: 1, Type: "comic story", Title: "The Fantastic Four!"})
		create("cover", &store.CoverData{IssueID: issue1})
		create("issue2", &store.IssueData{SeriesID: series, Number: "2", BrandID: &brand})
		create("empty", &store.SeriesData{
			Name: "Fantastic Four Annual", SortName: "Fantastic Four Annual", PublisherID: pub,
			LanguageCode: "en", CountryCode: "us", IsCurrent: true, IsComicsPublication: true,
		})
		create("ended", &store.SeriesData{
			Name: "Strange Tales", SortName: "Strange Tales", PublisherID: pub,
			LanguageCode: "en", CountryCode: "us", YearBegan: 1951, YearEnded: 1968, IsComicsPublication: true,
		})
		return nil
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) must(cs store.Changeset, err error) store.Changeset {
	f.t.Helper()
	require.NoError(f.t, err)
	return cs
}

func (f *fixture) entity(kind store.Kind, id int64) store.Record {
	f.t.Helper()
	rec, err := f.store.GetEntity(f.ctx, kind, id)
	require.NoError(f.t, err)
	return rec
}

func (f *fixture) changeset(id int64) store.Changeset {
	f.t.Helper()
	cs, err := f.store.GetChangeset(f.ctx, id)
	require.NoError(f.t, err)
	return cs
}

func (f *fixture) revisions(changesetID int64) []store.Revision {
	f.t.Helper()
	revisions, err := f.store.ListRevisions(f.ctx, changesetID)
	require.NoError(f.t, err)
	return revisions
}

func (f *fixture) revisionOf(changesetID int64, kind store.Kind) store.Revision {
	f.t.Helper()
	for _, rev := range f.revisions(changesetID) {
		if rev.Kind == kind {
			return rev
		}
	}
	f.t.Fatalf("changeset %d has no %s revision", changesetID, kind)
	return store.Revision{}
}

// edit rewrites the payload of a revision through the service.
func (f *fixture) edit(userID int64, rev store.Revision, mutate func(store.Data)) store.Revision {
	f.t.Helper()
	data := rev.Data.Clone()
	mutate(data)
	updated, err := f.svc.UpdateRevision(f.ctx, userID, rev.ID, data)
	require.NoError(f.t, err)
	return updated
}

// approve walks an open changeset through submit, assign and approve.
func (f *fixture) approve(changesetID, approverID int64) store.Changeset {
	f.t.Helper()
	cs := f.changeset(changesetID)
	f.must(f.svc.Submit(f.ctx, cs.IndexerID, changesetID, "please review"))
	f.must(f.svc.Assign(f.ctx, approverID, changesetID, ""))
	return f.must(f.svc.Approve(f.ctx, approverID, changesetID, ""))
}

func (f *fixture) stat(name, language, country string) int64 {
	f.t.Helper()
	stat, ok, err := f.store.GetCountStat(f.ctx, name, language, country)
	require.NoError(f.t, err)
	require.True(f.t, ok, "missing stat %s %q/%q", name, language, country)
	return stat.Count
}

// requireStatsMatchRecount checks every stats bucket against a full
// recount of the current records.
func (f *fixture) requireStatsMatchRecount() {
	f.t.Helper()
	buckets, err := f.store.ListStatBuckets(f.ctx)
	require.NoError(f.t, err)
	require.NotEmpty(f.t, buckets)
	for _, bucket := range buckets {
		want, err := stats.Recount(f.ctx, f.store, bucket.Language, bucket.Country)
		require.NoError(f.t, err)
		for name, count := range want {
			assert.Equal(f.t, count, f.stat(name, bucket.Language, bucket.Country),
				"%s in bucket %q/%q", name, bucket.Language, bucket.Country)
		}
	}
}

func requireCode(t *testing.T, err error, kind *DomainError, code string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, kind), "expected %s error, got %v", kind.Kind, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, code, domainErr.Code)
}
