package oi

import (
	"context"
	"fmt"

	"comicsdb/api/internal/compare"
	"comicsdb/api/internal/store"
)

type BarcodeCheck struct {
	Code  string `json:"code"`
	Valid bool   `json:"valid"`
}

type RevisionDiff struct {
	RevisionID int64          `json:"revisionId"`
	Kind       store.Kind     `json:"kind"`
	SourceID   *int64         `json:"sourceId,omitempty"`
	Label      string         `json:"label"`
	Added      bool           `json:"added"`
	Deleted    bool           `json:"deleted"`
	Changes    compare.Result `json:"changes"`
	Barcodes   []BarcodeCheck `json:"barcodes,omitempty"`
}

type DiffResult struct {
	ChangesetID int64            `json:"changesetId"`
	State       string           `json:"state"`
	ChangeType  store.ChangeType `json:"changeType"`
	Revisions   []RevisionDiff   `json:"revisions"`
	IsChanged   bool             `json:"isChanged"`
}

// Compare reports what every revision of a changeset changes. While the
// changeset is in flight the baseline is the current record; once
// approved it is the revision that preceded it, or the record as it was
// reserved when it had no earlier revision.
func (s *Service) Compare(ctx context.Context, changesetID int64) (DiffResult, error) {
	cs, err := s.store.GetChangeset(ctx, changesetID)
	if err != nil {
		return DiffResult{}, lookup(err, "changeset")
	}
	revisions, err := s.store.ListRevisions(ctx, cs.ID)
	if err != nil {
		return DiffResult{}, fmt.Errorf("list revisions: %w", err)
	}

	result := DiffResult{
		ChangesetID: cs.ID,
		State:       cs.State.String(),
		ChangeType:  cs.ChangeType,
		Revisions:   make([]RevisionDiff, 0, len(revisions)),
	}
	for _, rev := range revisions {
		base, err := baseline(ctx, s.store, cs, rev)
		if err != nil {
			return DiffResult{}, err
		}
		diff := RevisionDiff{
			RevisionID: rev.ID,
			Kind:       rev.Kind,
			SourceID:   rev.SourceID,
			Label:      rev.Data.Label(),
			Added:      rev.Added,
			Deleted:    rev.Deleted,
			Changes:    s.compare.Changes(base, rev.Data),
		}
		if issue, ok := rev.Data.(*store.IssueData); ok {
			for _, code := range compare.Barcodes(issue.Barcode) {
				diff.Barcodes = append(diff.Barcodes, BarcodeCheck{Code: code, Valid: compare.BarcodeValid(code)})
			}
		}
		if diff.Changes.IsChanged || diff.Added || diff.Deleted {
			result.IsChanged = true
		}
		result.Revisions = append(result.Revisions, diff)
	}
	return result, nil
}

func baseline(ctx context.Context, r store.Reader, cs store.Changeset, rev store.Revision) (store.Data, error) {
	if rev.Added || rev.SourceID == nil {
		return nil, nil
	}
	if cs.State == store.StateApproved {
		if rev.PreviousRevisionID == nil {
			return rev.Baseline, nil
		}
		prev, err := r.GetRevision(ctx, *rev.PreviousRevisionID)
		if err != nil {
			return nil, fmt.Errorf("load previous revision: %w", err)
		}
		return prev.Data, nil
	}
	rec, err := r.GetEntity(ctx, rev.Kind, *rev.SourceID)
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	return rec.Data, nil
}

func (s *Service) revisionChanged(ctx context.Context, r store.Reader, rev store.Revision) (bool, error) {
	if rev.Added || rev.Deleted {
		return true, nil
	}
	base, err := baseline(ctx, r, store.Changeset{State: store.StateOpen}, rev)
	if err != nil {
		return false, err
	}
	return s.compare.Changes(base, rev.Data).IsChanged, nil
}

// revisionImps scores a revision by the number of fields it touches.
// Adds and deletions score at least one.
func (s *Service) revisionImps(ctx context.Context, r store.Reader, rev store.Revision) (int, error) {
	if rev.Deleted {
		return 1, nil
	}
	base, err := baseline(ctx, r, store.Changeset{State: store.StateOpen}, rev)
	if err != nil {
		return 0, err
	}
	n := len(s.compare.Changes(base, rev.Data).Fields)
	if rev.Added && n == 0 {
		n = 1
	}
	return n, nil
}
