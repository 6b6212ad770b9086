package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Reader is the read surface shared by stores and open transactions.
type Reader interface {
	GetIndexer(ctx context.Context, userID int64) (Indexer, error)
	GetEntity(ctx context.Context, kind Kind, id int64) (Record, error)
	ListChildren(ctx context.Context, kind Kind, field string, parentID int64) ([]Record, error)
	ScanEntities(ctx context.Context, kind Kind, fn func(Record) error) error

	GetChangeset(ctx context.Context, id int64) (Changeset, error)
	ListChangesets(ctx context.Context, filter ChangesetFilter) ([]Changeset, error)
	CountChangesets(ctx context.Context, filter ChangesetFilter) (int, error)
	ListComments(ctx context.Context, changesetID int64) ([]Comment, error)

	GetRevision(ctx context.Context, id int64) (Revision, error)
	ListRevisions(ctx context.Context, changesetID int64) ([]Revision, error)
	LatestCommittedRevision(ctx context.Context, kind Kind, sourceID int64) (Revision, bool, error)
	// ListActiveRevisions returns revisions of kind in OPEN, PENDING or
	// REVIEWING changesets whose payload references parentID through field.
	ListActiveRevisions(ctx context.Context, kind Kind, field string, parentID int64) ([]Revision, error)

	GetLock(ctx context.Context, kind Kind, entityID int64) (Lock, bool, error)
	ListLocks(ctx context.Context, changesetID int64) ([]Lock, error)

	GetOngoingReservation(ctx context.Context, seriesID int64) (OngoingReservation, bool, error)
	CountOngoingReservations(ctx context.Context, indexerID int64) (int, error)

	GetCountStat(ctx context.Context, name, language, country string) (CountStat, bool, error)
	ListCountStats(ctx context.Context, language, country string) ([]CountStat, error)
	HasCountStats(ctx context.Context, language, country string) (bool, error)
	ListStatBuckets(ctx context.Context) ([]StatBucket, error)
}

// Tx is a unit of work. Every method runs inside the same transaction.
type Tx interface {
	Reader

	GetChangesetForUpdate(ctx context.Context, id int64) (Changeset, error)
	// LockEntity holds the entity row until the transaction ends.
	LockEntity(ctx context.Context, kind Kind, id int64) error
	// LockStatBucket serializes lazy initialization of one stats bucket.
	LockStatBucket(ctx context.Context, language, country string) error

	CreateIndexer(ctx context.Context, indexer Indexer) error
	UpdateIndexer(ctx context.Context, indexer Indexer) error

	CreateEntity(ctx context.Context, rec *Record) error
	UpdateEntity(ctx context.Context, rec Record) error
	SetReserved(ctx context.Context, kind Kind, id int64, reserved bool) error
	AdjustCount(ctx context.Context, kind Kind, id int64, name string, delta int) error

	// AcquireLock inserts the lock if no lock exists for the entity and
	// reports whether it did.
	AcquireLock(ctx context.Context, lock Lock) (bool, error)
	ReleaseLock(ctx context.Context, kind Kind, entityID int64) error

	CreateChangeset(ctx context.Context, cs *Changeset) error
	UpdateChangeset(ctx context.Context, cs Changeset) error
	// ClaimChangeset moves a PENDING changeset to REVIEWING for approverID
	// only if it is still PENDING, and reports whether it did.
	ClaimChangeset(ctx context.Context, id, approverID int64) (bool, error)
	AddComment(ctx context.Context, comment *Comment) error

	CreateRevision(ctx context.Context, rev *Revision) error
	UpdateRevision(ctx context.Context, rev Revision) error
	DeleteRevisions(ctx context.Context, changesetID int64) error

	CreateOngoingReservation(ctx context.Context, res OngoingReservation) (bool, error)
	DeleteOngoingReservation(ctx context.Context, seriesID int64) error

	// IncrementCountStat applies delta to an existing row; a missing row
	// is left alone.
	IncrementCountStat(ctx context.Context, name, language, country string, delta int64) error
	ReplaceCountStats(ctx context.Context, language, country string, counts map[string]int64) error
}

type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
}
