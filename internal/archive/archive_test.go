package archive

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"comicsdb/api/internal/store"
)

func approver(id int64) *int64 { return &id }

func TestRecordApprovalLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "history")
	svc := New(dir)
	ctx := context.Background()

	first := store.Changeset{ID: 1, IndexerID: 10, ApproverID: approver(20), ChangeType: store.ChangeSeries}
	series := store.Record{Kind: store.KindSeries, ID: 5, Data: &store.SeriesData{Name: "Fantastic Four", LanguageCode: "en", CountryCode: "us"}}
	if err := svc.RecordApproval(ctx, first, []store.Record{series}); err != nil {
		t.Fatalf("RecordApproval() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "series", "5.json")); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	second := store.Changeset{ID: 2, IndexerID: 11, ApproverID: approver(20), ChangeType: store.ChangeSeries}
	renamed := series
	renamed.Data = &store.SeriesData{Name: "The Fantastic Four", LanguageCode: "en", CountryCode: "us"}
	other := store.Record{Kind: store.KindPublisher, ID: 1, Data: &store.PublisherData{Name: "Marvel"}}
	if err := svc.RecordApproval(ctx, second, []store.Record{renamed, other}); err != nil {
		t.Fatalf("RecordApproval() error = %v", err)
	}

	history, err := svc.History(store.KindSeries, 5, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits for the series, got %d", len(history))
	}
	if history[0].ChangesetID != 2 || history[1].ChangesetID != 1 {
		t.Fatalf("unexpected order %+v", history)
	}
	if history[0].Author != "indexer-11" {
		t.Fatalf("unexpected author %q", history[0].Author)
	}
	if !strings.Contains(history[0].Message, "approver: 20") {
		t.Fatalf("message should name the approver: %q", history[0].Message)
	}

	publisherHistory, err := svc.History(store.KindPublisher, 1, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(publisherHistory) != 1 {
		t.Fatalf("expected 1 commit for the publisher, got %d", len(publisherHistory))
	}

	snap, err := svc.At(store.KindSeries, 5, history[1].Hash)
	if err != nil {
		t.Fatalf("At() error = %v", err)
	}
	var data store.SeriesData
	if err := json.Unmarshal(snap.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Name != "Fantastic Four" {
		t.Fatalf("expected the first name, got %q", data.Name)
	}

	if _, err := svc.At(store.KindPublisher, 1, history[1].Hash); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found before the publisher was archived, got %v", err)
	}
}

func TestHistoryOfEmptyArchive(t *testing.T) {
	svc := New(filepath.Join(t.TempDir(), "missing"))
	history, err := svc.History(store.KindIssue, 1, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history, got %d", len(history))
	}
}

func TestRecordApprovalWithoutRecordsIsNoop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "history")
	svc := New(dir)
	if err := svc.RecordApproval(context.Background(), store.Changeset{ID: 3}, nil); err != nil {
		t.Fatalf("RecordApproval() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected no repository, got %v", err)
	}
}
