package app

import (
	"time"

	"comicsdb/api/internal/oi"
	"comicsdb/api/internal/store"
)

type changesetJSON struct {
	ID         int64            `json:"id"`
	IndexerID  int64            `json:"indexerId"`
	ApproverID *int64           `json:"approverId,omitempty"`
	State      string           `json:"state"`
	ChangeType store.ChangeType `json:"changeType"`
	Imps       int              `json:"imps"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

type revisionJSON struct {
	ID                   int64      `json:"id"`
	ChangesetID          int64      `json:"changesetId"`
	Kind                 store.Kind `json:"kind"`
	Label                string     `json:"label"`
	SourceID             *int64     `json:"sourceId,omitempty"`
	PreviousRevisionID   *int64     `json:"previousRevisionId,omitempty"`
	ParentRevisionID     *int64     `json:"parentRevisionId,omitempty"`
	Added                bool       `json:"added"`
	Deleted              bool       `json:"deleted"`
	Committed            *bool      `json:"committed"`
	ReservationRequested bool       `json:"reservationRequested,omitempty"`
	Data                 store.Data `json:"data"`
}

type commentJSON struct {
	ID          int64     `json:"id"`
	CommenterID int64     `json:"commenterId"`
	Text        string    `json:"text"`
	OldState    string    `json:"oldState"`
	NewState    string    `json:"newState"`
	CreatedAt   time.Time `json:"createdAt"`
}

type lockJSON struct {
	Kind     store.Kind `json:"kind"`
	EntityID int64      `json:"entityId"`
}

type changesetViewJSON struct {
	changesetJSON
	Revisions []revisionJSON `json:"revisions"`
	Comments  []commentJSON  `json:"comments"`
	Locks     []lockJSON     `json:"locks"`
}

func toChangesetJSON(cs store.Changeset) changesetJSON {
	return changesetJSON{
		ID:         cs.ID,
		IndexerID:  cs.IndexerID,
		ApproverID: cs.ApproverID,
		State:      cs.State.String(),
		ChangeType: cs.ChangeType,
		Imps:       cs.Imps,
		CreatedAt:  cs.CreatedAt,
		UpdatedAt:  cs.UpdatedAt,
	}
}

func toChangesetList(items []store.Changeset) []changesetJSON {
	out := make([]changesetJSON, 0, len(items))
	for _, cs := range items {
		out = append(out, toChangesetJSON(cs))
	}
	return out
}

func toRevisionJSON(rev store.Revision) revisionJSON {
	label := ""
	if rev.Data != nil {
		label = rev.Data.Label()
	}
	return revisionJSON{
		ID:                   rev.ID,
		ChangesetID:          rev.ChangesetID,
		Kind:                 rev.Kind,
		Label:                label,
		SourceID:             rev.SourceID,
		PreviousRevisionID:   rev.PreviousRevisionID,
		ParentRevisionID:     rev.ParentRevisionID,
		Added:                rev.Added,
		Deleted:              rev.Deleted,
		Committed:            rev.Committed,
		ReservationRequested: rev.ReservationRequested,
		Data:                 rev.Data,
	}
}

func toViewJSON(view oi.ChangesetView) changesetViewJSON {
	out := changesetViewJSON{
		changesetJSON: toChangesetJSON(view.Changeset),
		Revisions:     make([]revisionJSON, 0, len(view.Revisions)),
		Comments:      make([]commentJSON, 0, len(view.Comments)),
		Locks:         make([]lockJSON, 0, len(view.Locks)),
	}
	for _, rev := range view.Revisions {
		out.Revisions = append(out.Revisions, toRevisionJSON(rev))
	}
	for _, c := range view.Comments {
		out.Comments = append(out.Comments, toCommentJSON(c))
	}
	for _, lock := range view.Locks {
		out.Locks = append(out.Locks, lockJSON{Kind: lock.Kind, EntityID: lock.EntityID})
	}
	return out
}

func toCommentJSON(c store.Comment) commentJSON {
	return commentJSON{
		ID:          c.ID,
		CommenterID: c.CommenterID,
		Text:        c.Text,
		OldState:    c.OldState.String(),
		NewState:    c.NewState.String(),
		CreatedAt:   c.CreatedAt,
	}
}
