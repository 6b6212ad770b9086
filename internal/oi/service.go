// Package oi is the online indexer: reservations, the changeset state
// machine and the commit of approved revisions onto canonical records.
package oi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"comicsdb/api/internal/compare"
	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/rbac"
	"comicsdb/api/internal/store"
)

// CoverChecker reports whether cover files exist for an issue.
type CoverChecker interface {
	HasCovers(ctx context.Context, issueID int64) (bool, error)
}

// EntityIndexer receives every record an approval writes.
type EntityIndexer interface {
	IndexEntity(ctx context.Context, rec store.Record)
}

// HistoryArchive mirrors approved changesets outside the database.
type HistoryArchive interface {
	RecordApproval(ctx context.Context, cs store.Changeset, records []store.Record) error
}

type Service struct {
	store    store.Store
	cfg      Config
	notifier notify.Sink
	covers   CoverChecker
	search   EntityIndexer
	archive  HistoryArchive
	compare  *compare.Engine
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(sink notify.Sink) Option {
	return func(s *Service) { s.notifier = sink }
}

func WithCovers(covers CoverChecker) Option {
	return func(s *Service) { s.covers = covers }
}

func WithSearch(search EntityIndexer) Option {
	return func(s *Service) { s.search = search }
}

func WithArchive(archive HistoryArchive) Option {
	return func(s *Service) { s.archive = archive }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    st,
		cfg:      cfg,
		notifier: notify.Log{},
		compare:  compare.New(compare.DefaultMoves),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store() store.Store {
	return s.store
}

func (s *Service) Config() Config {
	return s.cfg
}

// effects are the side effects of a transition that run only after its
// transaction committed.
type effects struct {
	messages []notify.Message
	indexed  []store.Record
	approved *store.Changeset
}

func (fx *effects) notify(msg notify.Message) {
	fx.messages = append(fx.messages, msg)
}

func (s *Service) dispatch(ctx context.Context, fx *effects) {
	for _, msg := range fx.messages {
		if err := s.notifier.Send(ctx, msg); err != nil {
			log.Printf("oi: notify %s for changeset %d: %v", msg.Event, msg.ChangesetID, err)
		}
	}
	if s.search != nil {
		for _, rec := range fx.indexed {
			s.search.IndexEntity(ctx, rec)
		}
	}
	if s.archive != nil && fx.approved != nil {
		if err := s.archive.RecordApproval(ctx, *fx.approved, fx.indexed); err != nil {
			log.Printf("oi: archive changeset %d: %v", fx.approved.ID, err)
		}
	}
}

// RegisterIndexer creates an indexer with the initial quotas.
func (s *Service) RegisterIndexer(ctx context.Context, indexer store.Indexer) (store.Indexer, error) {
	if indexer.UserID == 0 {
		return store.Indexer{}, invalid(CodeInvalidRevision, "user id is required", nil)
	}
	indexer.Role = string(rbac.Normalize(indexer.Role))
	if indexer.MaxReservations == 0 {
		indexer.IsNew = true
		indexer.MaxReservations = s.cfg.Quotas.Initial
		indexer.MaxOngoing = s.cfg.Quotas.OngoingInitial
	}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateIndexer(ctx, indexer)
	})
	if err != nil {
		return store.Indexer{}, fmt.Errorf("register indexer: %w", err)
	}
	return s.store.GetIndexer(ctx, indexer.UserID)
}

func (s *Service) actor(ctx context.Context, r store.Reader, userID int64) (store.Indexer, error) {
	indexer, err := r.GetIndexer(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Indexer{}, forbidden("user is not an indexer")
	}
	if err != nil {
		return store.Indexer{}, fmt.Errorf("load indexer: %w", err)
	}
	return indexer, nil
}

func can(indexer store.Indexer, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(indexer.Role), action)
}

func (s *Service) message(ctx context.Context, r store.Reader, event notify.Event, userID int64, cs store.Changeset, subject, body string) notify.Message {
	msg := notify.Message{
		Event:       event,
		UserID:      userID,
		ChangesetID: cs.ID,
		Subject:     subject,
		Body:        body,
	}
	if userID != 0 {
		if indexer, err := r.GetIndexer(ctx, userID); err == nil {
			msg.Name = indexer.Name
			msg.Email = indexer.Email
		}
	}
	return msg
}
