package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"comicsdb/api/internal/archive"
	"comicsdb/api/internal/auth"
	"comicsdb/api/internal/config"
	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/oi"
	"comicsdb/api/internal/rbac"
	"comicsdb/api/internal/search"
	"comicsdb/api/internal/store"
)

// Session is the authenticated caller of a request.
type Session struct {
	UserID   int64
	UserName string
	Role     rbac.Role
}

// ReadyChecker is an optional dependency reported by /api/ready.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// ReadyFunc adapts a ping function to ReadyChecker.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Ready(ctx context.Context) error { return f(ctx) }

// Inbox reads the notifications queued for a user.
type Inbox interface {
	Inbox(ctx context.Context, userID int64, n int64) ([]notify.Message, error)
}

type Service struct {
	cfg     config.Config
	oi      *oi.Service
	store   store.Store
	search  *search.Service
	archive *archive.Service
	inbox   Inbox
	checks  map[string]ReadyChecker
}

type Option func(*Service)

func WithSearch(svc *search.Service) Option {
	return func(s *Service) { s.search = svc }
}

func WithArchive(svc *archive.Service) Option {
	return func(s *Service) { s.archive = svc }
}

func WithInbox(inbox Inbox) Option {
	return func(s *Service) { s.inbox = inbox }
}

// WithReadyCheck adds a named dependency to the readiness report.
func WithReadyCheck(name string, check ReadyChecker) Option {
	return func(s *Service) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

func NewService(cfg config.Config, engine *oi.Service, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		oi:     engine,
		store:  engine.Store(),
		checks: map[string]ReadyChecker{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

// SessionFromToken resolves a bearer token to the indexer it names. The
// role always comes from the store so demotions apply immediately.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	indexer, err := s.store.GetIndexer(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("load indexer: %w", err)
	}
	return Session{UserID: indexer.UserID, UserName: indexer.Name, Role: rbac.Normalize(indexer.Role)}, nil
}

// IssueToken signs a token for an existing indexer.
func (s *Service) IssueToken(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	indexer, err := s.store.GetIndexer(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load indexer: %w", err)
	}
	if ttl <= 0 {
		ttl = s.cfg.AccessTTL
	}
	return auth.IssueToken([]byte(s.cfg.JWTSecret), auth.NewClaims(indexer.UserID, indexer.Name, indexer.Role, ttl))
}

// Stats returns the counters of one bucket keyed by name.
func (s *Service) Stats(ctx context.Context, language, country string) (map[string]int64, error) {
	language = strings.ToLower(strings.TrimSpace(language))
	country = strings.ToLower(strings.TrimSpace(country))
	if language != "" && country != "" {
		return nil, &oi.DomainError{Kind: oi.KindValidation, Code: oi.CodeInvalidRevision, Message: "stats are kept per language or per country, not both"}
	}
	rows, err := s.store.ListCountStats(ctx, language, country)
	if err != nil {
		return nil, fmt.Errorf("list count stats: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Name] = row.Count
	}
	return out, nil
}

// payload decodes raw JSON into a blank payload of kind carrying the
// defaults of an add form.
func payload(kind store.Kind, raw []byte) (store.Data, error) {
	if !kind.Valid() {
		return nil, &oi.DomainError{Kind: oi.KindValidation, Code: oi.CodeInvalidRevision, Message: fmt.Sprintf("unknown kind %q", kind)}
	}
	data, err := oi.NewPayload(kind)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return data, nil
	}
	if err := decodeInto(raw, data); err != nil {
		return nil, &oi.DomainError{Kind: oi.KindValidation, Code: oi.CodeInvalidRevision, Message: err.Error()}
	}
	return data, nil
}

// revisionPayload decodes raw JSON for an existing revision, starting
// from its current payload so omitted fields keep their values.
func (s *Service) revisionPayload(ctx context.Context, revisionID int64, raw []byte) (store.Data, error) {
	rev, err := s.store.GetRevision(ctx, revisionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &oi.DomainError{Kind: oi.KindNotFound, Code: oi.CodeNotFound, Message: "revision not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("load revision: %w", err)
	}
	data := rev.Data.Clone()
	if len(raw) > 0 {
		if err := decodeInto(raw, data); err != nil {
			return nil, &oi.DomainError{Kind: oi.KindValidation, Code: oi.CodeInvalidRevision, Message: err.Error()}
		}
	}
	return data, nil
}
