package oi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/store"
)

func TestRequestOngoing(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.RequestOngoing(f.ctx, indexerID, f.ids["series"])
	require.NoError(t, err)
	assert.Equal(t, indexerID, res.IndexerID)

	_, err = f.svc.RequestOngoing(f.ctx, otherID, f.ids["series"])
	requireCode(t, err, ErrConflict, CodeAlreadyReserved)

	_, err = f.svc.RequestOngoing(f.ctx, indexerID, f.ids["ended"])
	requireCode(t, err, ErrValidation, CodeOngoingUnavailable)

	_, err = f.svc.RequestOngoing(f.ctx, newIndexerID, f.ids["empty"])
	requireCode(t, err, ErrQuota, CodeOngoingQuota)

	_, err = f.svc.RequestOngoing(f.ctx, viewerID, f.ids["empty"])
	requireCode(t, err, ErrPermission, CodeForbidden)
}

func TestDeleteOngoing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestOngoing(f.ctx, indexerID, f.ids["series"])
	require.NoError(t, err)
	_, err = f.svc.RequestOngoing(f.ctx, indexerID, f.ids["empty"])
	require.NoError(t, err)

	err = f.svc.DeleteOngoing(f.ctx, otherID, f.ids["series"])
	requireCode(t, err, ErrPermission, CodeForbidden)

	require.NoError(t, f.svc.DeleteOngoing(f.ctx, indexerID, f.ids["series"]))
	require.NoError(t, f.svc.DeleteOngoing(f.ctx, adminID, f.ids["empty"]))

	err = f.svc.DeleteOngoing(f.ctx, indexerID, f.ids["series"])
	requireCode(t, err, ErrNotFound, CodeNotFound)
}

func TestOngoingReservationReservesNewIssues(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestOngoing(f.ctx, indexerID, f.ids["series"])
	require.NoError(t, err)

	cs := f.must(f.svc.Add(f.ctx, otherID, &store.IssueData{SeriesID: f.ids["series"], Number: "3"}, AddOptions{}))
	f.approve(cs.ID, editorID)
	issueID := *f.revisionOf(cs.ID, store.KindIssue).SourceID

	open, err := f.svc.OpenByIndexer(f.ctx, indexerID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, store.ChangeIssue, open[0].ChangeType)
	rev := f.revisionOf(open[0].ID, store.KindIssue)
	require.NotNil(t, rev.SourceID)
	assert.Equal(t, issueID, *rev.SourceID)
	assert.True(t, f.entity(store.KindIssue, issueID).Reserved)
	assert.Contains(t, f.sent.Events(indexerID), notify.EventAutoReserved)
}

func TestOngoingReservationOverQuotaNotifiesHolder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RegisterIndexer(f.ctx, store.Indexer{UserID: 50, Name: "Max", Role: "indexer", MaxReservations: 1, MaxOngoing: 1})
	require.NoError(t, err)
	_, err = f.svc.RequestOngoing(f.ctx, 50, f.ids["series"])
	require.NoError(t, err)
	f.must(f.svc.Reserve(f.ctx, 50, store.KindBrand, f.ids["brand"], ReserveOptions{}))

	cs := f.must(f.svc.Add(f.ctx, otherID, &store.IssueData{SeriesID: f.ids["series"], Number: "3"}, AddOptions{}))
	cs = f.approve(cs.ID, editorID)
	assert.Equal(t, store.StateApproved, cs.State)

	assert.Contains(t, f.sent.Events(50), notify.EventAutoReserveFail)
	open, err := f.svc.OpenByIndexer(f.ctx, 50)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestSeriesAddCanRequestOngoing(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Add(f.ctx, indexerID, &store.SeriesData{
		Name: "Fantastic Four Unlimited", PublisherID: f.ids["publisher"], LanguageCode: "en", CountryCode: "us",
		IsCurrent: true, IsComicsPublication: true,
	}, AddOptions{RequestOngoing: true}))
	assert.True(t, f.revisionOf(cs.ID, store.KindSeries).ReservationRequested)
	f.approve(cs.ID, editorID)

	seriesID := *f.revisionOf(cs.ID, store.KindSeries).SourceID
	res, ok, err := f.store.GetOngoingReservation(f.ctx, seriesID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, indexerID, res.IndexerID)
}

func TestSeriesAddOngoingRequestDeniedForNewIndexer(t *testing.T) {
	f := newFixture(t)
	cs := f.must(f.svc.Add(f.ctx, newIndexerID, &store.SeriesData{
		Name: "Marvel Two-in-One", PublisherID: f.ids["publisher"], LanguageCode: "en", CountryCode: "us",
		IsCurrent: true, IsComicsPublication: true,
	}, AddOptions{RequestOngoing: true}))
	f.approve(cs.ID, editorID)

	seriesID := *f.revisionOf(cs.ID, store.KindSeries).SourceID
	_, ok, err := f.store.GetOngoingReservation(f.ctx, seriesID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, f.sent.Events(newIndexerID), notify.EventOngoingDenied)
}

func TestEndingSeriesDropsOngoingReservation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestOngoing(f.ctx, indexerID, f.ids["series"])
	require.NoError(t, err)

	cs := f.must(f.svc.Reserve(f.ctx, otherID, store.KindSeries, f.ids["series"], ReserveOptions{}))
	f.edit(otherID, f.revisionOf(cs.ID, store.KindSeries), func(d store.Data) {
		series := d.(*store.SeriesData)
		series.IsCurrent = false
		series.YearEnded = 1996
	})
	f.approve(cs.ID, editorID)

	_, ok, err := f.store.GetOngoingReservation(f.ctx, f.ids["series"])
	require.NoError(t, err)
	assert.False(t, ok)
}
