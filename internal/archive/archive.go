// Package archive mirrors approved records into a git repository so each
// approval becomes one commit touching one JSON file per record.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"comicsdb/api/internal/store"
)

const branch = "main"

// Snapshot is the archived form of one record.
type Snapshot struct {
	Kind    store.Kind      `json:"kind"`
	ID      int64           `json:"id"`
	Deleted bool            `json:"deleted"`
	Data    json.RawMessage `json:"data"`
}

type CommitInfo struct {
	Hash        string    `json:"hash"`
	Message     string    `json:"message"`
	Author      string    `json:"author"`
	ChangesetID int64     `json:"changesetId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Service struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func New(dir string) *Service {
	return &Service{dir: dir, now: time.Now}
}

func recordPath(kind store.Kind, id int64) string {
	return filepath.ToSlash(filepath.Join(string(kind), fmt.Sprintf("%d.json", id)))
}

func (s *Service) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(s.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return repo, nil
}

// RecordApproval writes the approved state of records and commits them
// in the name of the changeset's indexer.
func (s *Service) RecordApproval(_ context.Context, cs store.Changeset, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	sorted := append([]store.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].ID < sorted[j].ID
	})
	for _, rec := range sorted {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("marshal %s %d: %w", rec.Kind, rec.ID, err)
		}
		payload, err := json.MarshalIndent(Snapshot{Kind: rec.Kind, ID: rec.ID, Deleted: rec.Deleted, Data: data}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		rel := recordPath(rec.Kind, rec.ID)
		full := filepath.Join(s.dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create kind dir: %w", err)
		}
		if err := os.WriteFile(full, append(payload, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
		if _, err := worktree.Add(rel); err != nil {
			return fmt.Errorf("git add %s: %w", rel, err)
		}
	}

	approver := int64(0)
	if cs.ApproverID != nil {
		approver = *cs.ApproverID
	}
	message := fmt.Sprintf("Approve changeset %d (%s)\n\nchangeset: %d\nindexer: %d\napprover: %d\n",
		cs.ID, cs.ChangeType, cs.ID, cs.IndexerID, approver)
	author := fmt.Sprintf("indexer-%d", cs.IndexerID)
	_, err = worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: author + "@oi.local",
			When:  s.now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit changeset %d: %w", cs.ID, err)
	}
	return nil
}

// History lists the commits that touched a record, newest first.
func (s *Service) History(kind store.Kind, id int64, limit int) ([]CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	path := recordPath(kind, id)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &path})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := []CommitInfo{}
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// At returns the archived record as of the given commit.
func (s *Service) At(kind store.Kind, id int64, hash string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(recordPath(kind, id))
	if errors.Is(err, object.ErrFileNotFound) {
		return Snapshot{}, store.ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot from commit: %w", err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	info := CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	fmt.Sscanf(commitObj.Message, "Approve changeset %d", &info.ChangesetID)
	return info
}
