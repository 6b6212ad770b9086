package oi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/store"
)

func TestClearStaleReservations(t *testing.T) {
	f := newFixture(t)
	stale := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindIssue, f.ids["issue1"], ReserveOptions{}))
	submitted := f.must(f.svc.Reserve(f.ctx, indexerID, store.KindBrand, f.ids["brand"], ReserveOptions{}))
	f.must(f.svc.Submit(f.ctx, indexerID, submitted.ID, "please"))

	f.clock.Advance(4 * 7 * 24 * time.Hour)
	fresh := f.must(f.svc.Reserve(f.ctx, otherID, store.KindPublisher, f.ids["publisher"], ReserveOptions{}))

	cleared, err := f.svc.ClearStaleReservations(f.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	assert.Equal(t, store.StateDiscarded, f.changeset(stale.ID).State)
	assert.Equal(t, store.StatePending, f.changeset(submitted.ID).State)
	assert.Equal(t, store.StateOpen, f.changeset(fresh.ID).State)
	assert.False(t, f.entity(store.KindIssue, f.ids["issue1"]).Reserved)
	assert.Empty(t, f.revisions(stale.ID))

	comments, err := f.store.ListComments(f.ctx, stale.ID)
	require.NoError(t, err)
	last := comments[len(comments)-1]
	assert.Equal(t, DefaultConfig().AnonymousUserID, last.CommenterID)
	assert.Equal(t, store.StateDiscarded, last.NewState)
	assert.Contains(t, f.sent.Events(indexerID), notify.EventExpired)

	cleared, err = f.svc.ClearStaleReservations(f.ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, cleared)
}
