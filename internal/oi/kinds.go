package oi

import (
	"context"

	"comicsdb/api/internal/store"
)

type childRef struct {
	kind  store.Kind
	field string
}

// kindHandler is the per-kind behaviour of the engine.
type kindHandler struct {
	changeType store.ChangeType
	addType    store.ChangeType
	// depth orders commits: parents before children, and the reverse for
	// deletions.
	depth      int
	reservable bool
	// children are pulled into a reservation of the parent.
	children []childRef
	// blockers are live children that make a record undeletable.
	blockers []childRef
	tally    func(ctx context.Context, r store.Reader, id int64, data store.Data, deleted bool) (tally, error)
}

var handlers = map[store.Kind]kindHandler{
	store.KindPublisher: {
		changeType: store.ChangePublisher,
		addType:    store.ChangePublisher,
		depth:      0,
		reservable: true,
		blockers: []childRef{
			{store.KindSeries, "publisher_id"},
			{store.KindBrand, "publisher_id"},
			{store.KindIndiciaPublisher, "publisher_id"},
		},
		tally: publisherTally,
	},
	store.KindIndiciaPublisher: {
		changeType: store.ChangeIndiciaPublisher,
		addType:    store.ChangeIndiciaPublisher,
		depth:      1,
		reservable: true,
		blockers:   []childRef{{store.KindIssue, "indicia_publisher_id"}},
		tally:      indiciaTally,
	},
	store.KindBrand: {
		changeType: store.ChangeBrand,
		addType:    store.ChangeBrand,
		depth:      1,
		reservable: true,
		blockers:   []childRef{{store.KindIssue, "brand_id"}},
		tally:      brandTally,
	},
	store.KindSeries: {
		changeType: store.ChangeSeries,
		addType:    store.ChangeSeries,
		depth:      1,
		reservable: true,
		blockers:   []childRef{{store.KindIssue, "series_id"}},
		tally:      seriesTally,
	},
	store.KindIssue: {
		changeType: store.ChangeIssue,
		addType:    store.ChangeIssueAdd,
		depth:      2,
		reservable: true,
		children:   []childRef{{store.KindStory, "issue_id"}},
		blockers: []childRef{
			{store.KindIssue, "variant_of_id"},
			{store.KindCover, "issue_id"},
		},
		tally: issueTally,
	},
	store.KindStory: {
		changeType: store.ChangeStory,
		addType:    store.ChangeStory,
		depth:      3,
		tally:      storyTally,
	},
	store.KindCover: {
		changeType: store.ChangeCover,
		addType:    store.ChangeCover,
		depth:      3,
		reservable: true,
		tally:      coverTally,
	},
}

func handlerFor(kind store.Kind) (kindHandler, error) {
	h, ok := handlers[kind]
	if !ok {
		return kindHandler{}, invalid(CodeInvalidRevision, "unknown entity kind "+string(kind), nil)
	}
	return h, nil
}
