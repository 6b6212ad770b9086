package search

import (
	"context"
	"log"

	"comicsdb/api/internal/store"
)

// Backend is the search engine behind Service.
type Backend interface {
	Search(q Query) ([]Result, int, error)
	IndexDocuments(docs []Document) error
	Healthy() bool
}

// Service keeps the record index in step with approvals and answers
// queries. Without a healthy backend it indexes nothing and finds nothing.
type Service struct {
	backend Backend
}

// NewService creates a search service. backend may be nil if Meilisearch
// is not configured.
func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

func (s *Service) available() bool {
	return s != nil && s.backend != nil && s.backend.Healthy()
}

// Search runs q against the backend.
func (s *Service) Search(q Query) Response {
	if !s.available() {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.backend.Search(q)
	if err != nil {
		log.Printf("search: query %q: %v", q.Text, err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexEntity indexes an approved record (fire-and-forget).
func (s *Service) IndexEntity(_ context.Context, rec store.Record) {
	if !s.available() {
		return
	}
	doc := NewDocument(rec)
	go func() {
		if err := s.backend.IndexDocuments([]Document{doc}); err != nil {
			log.Printf("search: index %s: %v", doc.ID, err)
		}
	}()
}

// Reindex pushes every record of the given kinds in batches. It runs
// synchronously and is meant for the admin tool.
func (s *Service) Reindex(ctx context.Context, r store.Reader, kinds []store.Kind, batch int) (int, error) {
	if s == nil || s.backend == nil {
		return 0, nil
	}
	if batch <= 0 {
		batch = 500
	}
	total := 0
	var docs []Document
	flush := func() error {
		if len(docs) == 0 {
			return nil
		}
		if err := s.backend.IndexDocuments(docs); err != nil {
			return err
		}
		total += len(docs)
		docs = docs[:0]
		return nil
	}
	for _, kind := range kinds {
		err := r.ScanEntities(ctx, kind, func(rec store.Record) error {
			docs = append(docs, NewDocument(rec))
			if len(docs) >= batch {
				return flush()
			}
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
