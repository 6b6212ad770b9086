package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Transactions hold a single mutex and
// roll back by restoring a snapshot, so it is only suitable for tests and
// local tooling.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type lockKey struct {
	kind Kind
	id   int64
}

type statKey struct {
	name     string
	language string
	country  string
}

type memState struct {
	nextEntity    int64
	nextChangeset int64
	nextRevision  int64
	nextComment   int64

	indexers   map[int64]Indexer
	entities   map[int64]Record
	changesets map[int64]Changeset
	comments   []Comment
	revisions  map[int64]Revision
	locks      map[lockKey]Lock
	ongoing    map[int64]OngoingReservation
	stats      map[statKey]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			indexers:   map[int64]Indexer{},
			entities:   map[int64]Record{},
			changesets: map[int64]Changeset{},
			revisions:  map[int64]Revision{},
			locks:      map[lockKey]Lock{},
			ongoing:    map[int64]OngoingReservation{},
			stats:      map[statKey]int64{},
		},
		now: time.Now,
	}
}

// SetClock replaces the time source used for timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&memTx{st: s.state, now: s.now}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) view() *memTx {
	return &memTx{st: s.state, now: s.now}
}

func (s *MemoryStore) GetIndexer(ctx context.Context, userID int64) (Indexer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetIndexer(ctx, userID)
}

func (s *MemoryStore) GetEntity(ctx context.Context, kind Kind, id int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetEntity(ctx, kind, id)
}

func (s *MemoryStore) ListChildren(ctx context.Context, kind Kind, field string, parentID int64) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListChildren(ctx, kind, field, parentID)
}

func (s *MemoryStore) ScanEntities(ctx context.Context, kind Kind, fn func(Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ScanEntities(ctx, kind, fn)
}

func (s *MemoryStore) GetChangeset(ctx context.Context, id int64) (Changeset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetChangeset(ctx, id)
}

func (s *MemoryStore) ListChangesets(ctx context.Context, filter ChangesetFilter) ([]Changeset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListChangesets(ctx, filter)
}

func (s *MemoryStore) CountChangesets(ctx context.Context, filter ChangesetFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CountChangesets(ctx, filter)
}

func (s *MemoryStore) ListComments(ctx context.Context, changesetID int64) ([]Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListComments(ctx, changesetID)
}

func (s *MemoryStore) GetRevision(ctx context.Context, id int64) (Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetRevision(ctx, id)
}

func (s *MemoryStore) ListRevisions(ctx context.Context, changesetID int64) ([]Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListRevisions(ctx, changesetID)
}

func (s *MemoryStore) LatestCommittedRevision(ctx context.Context, kind Kind, sourceID int64) (Revision, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().LatestCommittedRevision(ctx, kind, sourceID)
}

func (s *MemoryStore) ListActiveRevisions(ctx context.Context, kind Kind, field string, parentID int64) ([]Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListActiveRevisions(ctx, kind, field, parentID)
}

func (s *MemoryStore) GetLock(ctx context.Context, kind Kind, entityID int64) (Lock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetLock(ctx, kind, entityID)
}

func (s *MemoryStore) ListLocks(ctx context.Context, changesetID int64) ([]Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListLocks(ctx, changesetID)
}

func (s *MemoryStore) GetOngoingReservation(ctx context.Context, seriesID int64) (OngoingReservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetOngoingReservation(ctx, seriesID)
}

func (s *MemoryStore) CountOngoingReservations(ctx context.Context, indexerID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CountOngoingReservations(ctx, indexerID)
}

func (s *MemoryStore) GetCountStat(ctx context.Context, name, language, country string) (CountStat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetCountStat(ctx, name, language, country)
}

func (s *MemoryStore) ListCountStats(ctx context.Context, language, country string) ([]CountStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListCountStats(ctx, language, country)
}

func (s *MemoryStore) HasCountStats(ctx context.Context, language, country string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().HasCountStats(ctx, language, country)
}

func (s *MemoryStore) ListStatBuckets(ctx context.Context) ([]StatBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListStatBuckets(ctx)
}

type memTx struct {
	st  *memState
	now func() time.Time
}

func (t *memTx) GetIndexer(_ context.Context, userID int64) (Indexer, error) {
	indexer, ok := t.st.indexers[userID]
	if !ok {
		return Indexer{}, fmt.Errorf("indexer %d: %w", userID, ErrNotFound)
	}
	return copyIndexer(indexer), nil
}

func (t *memTx) GetEntity(_ context.Context, kind Kind, id int64) (Record, error) {
	rec, ok := t.st.entities[id]
	if !ok || rec.Kind != kind {
		return Record{}, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return copyRecord(rec), nil
}

func (t *memTx) ListChildren(_ context.Context, kind Kind, field string, parentID int64) ([]Record, error) {
	var out []Record
	for _, id := range t.st.sortedEntityIDs() {
		rec := t.st.entities[id]
		if rec.Kind != kind || rec.Deleted {
			continue
		}
		if rec.Data.Refs()[field] == parentID {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

func (t *memTx) ScanEntities(ctx context.Context, kind Kind, fn func(Record) error) error {
	for _, id := range t.st.sortedEntityIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := t.st.entities[id]
		if rec.Kind != kind {
			continue
		}
		if err := fn(copyRecord(rec)); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) GetChangeset(_ context.Context, id int64) (Changeset, error) {
	cs, ok := t.st.changesets[id]
	if !ok {
		return Changeset{}, fmt.Errorf("changeset %d: %w", id, ErrNotFound)
	}
	return copyChangeset(cs), nil
}

func (t *memTx) GetChangesetForUpdate(ctx context.Context, id int64) (Changeset, error) {
	return t.GetChangeset(ctx, id)
}

// Transactions already run one at a time under the store mutex.
func (t *memTx) LockEntity(ctx context.Context, kind Kind, id int64) error {
	_, err := t.GetEntity(ctx, kind, id)
	return err
}

func (t *memTx) LockStatBucket(context.Context, string, string) error {
	return nil
}

func (t *memTx) ListChangesets(_ context.Context, filter ChangesetFilter) ([]Changeset, error) {
	var out []Changeset
	for _, cs := range t.st.changesets {
		if filter.matches(cs) {
			out = append(out, copyChangeset(cs))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *memTx) CountChangesets(_ context.Context, filter ChangesetFilter) (int, error) {
	count := 0
	for _, cs := range t.st.changesets {
		if filter.matches(cs) {
			count++
		}
	}
	return count, nil
}

func (t *memTx) ListComments(_ context.Context, changesetID int64) ([]Comment, error) {
	var out []Comment
	for _, comment := range t.st.comments {
		if comment.ChangesetID == changesetID {
			out = append(out, comment)
		}
	}
	return out, nil
}

func (t *memTx) GetRevision(_ context.Context, id int64) (Revision, error) {
	rev, ok := t.st.revisions[id]
	if !ok {
		return Revision{}, fmt.Errorf("revision %d: %w", id, ErrNotFound)
	}
	return copyRevision(rev), nil
}

func (t *memTx) ListRevisions(_ context.Context, changesetID int64) ([]Revision, error) {
	var out []Revision
	for _, rev := range t.st.revisions {
		if rev.ChangesetID == changesetID {
			out = append(out, copyRevision(rev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) LatestCommittedRevision(_ context.Context, kind Kind, sourceID int64) (Revision, bool, error) {
	var latest Revision
	found := false
	for _, rev := range t.st.revisions {
		if rev.Kind != kind || rev.SourceID == nil || *rev.SourceID != sourceID {
			continue
		}
		if rev.Committed == nil || !*rev.Committed {
			continue
		}
		if !found || rev.ID > latest.ID {
			latest = rev
			found = true
		}
	}
	if !found {
		return Revision{}, false, nil
	}
	return copyRevision(latest), true, nil
}

func (t *memTx) ListActiveRevisions(_ context.Context, kind Kind, field string, parentID int64) ([]Revision, error) {
	var out []Revision
	for _, rev := range t.st.revisions {
		if rev.Kind != kind {
			continue
		}
		cs, ok := t.st.changesets[rev.ChangesetID]
		if !ok || !cs.State.Active() {
			continue
		}
		if rev.Data.Refs()[field] == parentID {
			out = append(out, copyRevision(rev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) GetLock(_ context.Context, kind Kind, entityID int64) (Lock, bool, error) {
	lock, ok := t.st.locks[lockKey{kind, entityID}]
	return lock, ok, nil
}

func (t *memTx) ListLocks(_ context.Context, changesetID int64) ([]Lock, error) {
	var out []Lock
	for _, lock := range t.st.locks {
		if lock.ChangesetID == changesetID {
			out = append(out, lock)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (t *memTx) GetOngoingReservation(_ context.Context, seriesID int64) (OngoingReservation, bool, error) {
	res, ok := t.st.ongoing[seriesID]
	return res, ok, nil
}

func (t *memTx) CountOngoingReservations(_ context.Context, indexerID int64) (int, error) {
	count := 0
	for _, res := range t.st.ongoing {
		if res.IndexerID == indexerID {
			count++
		}
	}
	return count, nil
}

func (t *memTx) GetCountStat(_ context.Context, name, language, country string) (CountStat, bool, error) {
	count, ok := t.st.stats[statKey{name, language, country}]
	if !ok {
		return CountStat{}, false, nil
	}
	return CountStat{Name: name, Language: language, Country: country, Count: count}, true, nil
}

func (t *memTx) ListCountStats(_ context.Context, language, country string) ([]CountStat, error) {
	var out []CountStat
	for key, count := range t.st.stats {
		if key.language == language && key.country == country {
			out = append(out, CountStat{Name: key.name, Language: language, Country: country, Count: count})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTx) HasCountStats(_ context.Context, language, country string) (bool, error) {
	for key := range t.st.stats {
		if key.language == language && key.country == country {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) ListStatBuckets(_ context.Context) ([]StatBucket, error) {
	seen := map[StatBucket]bool{}
	var out []StatBucket
	for key := range t.st.stats {
		bucket := StatBucket{Language: key.language, Country: key.country}
		if !seen[bucket] {
			seen[bucket] = true
			out = append(out, bucket)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Language != out[j].Language {
			return out[i].Language < out[j].Language
		}
		return out[i].Country < out[j].Country
	})
	return out, nil
}

func (t *memTx) CreateIndexer(_ context.Context, indexer Indexer) error {
	if _, ok := t.st.indexers[indexer.UserID]; ok {
		return fmt.Errorf("indexer %d already exists", indexer.UserID)
	}
	if indexer.CreatedAt.IsZero() {
		indexer.CreatedAt = t.now()
	}
	t.st.indexers[indexer.UserID] = copyIndexer(indexer)
	return nil
}

func (t *memTx) UpdateIndexer(_ context.Context, indexer Indexer) error {
	if _, ok := t.st.indexers[indexer.UserID]; !ok {
		return fmt.Errorf("indexer %d: %w", indexer.UserID, ErrNotFound)
	}
	t.st.indexers[indexer.UserID] = copyIndexer(indexer)
	return nil
}

func (t *memTx) CreateEntity(_ context.Context, rec *Record) error {
	if rec.Data == nil || rec.Data.Kind() != rec.Kind {
		return fmt.Errorf("create %s: payload kind mismatch", rec.Kind)
	}
	t.st.nextEntity++
	now := t.now()
	rec.ID = t.st.nextEntity
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Counts == nil {
		rec.Counts = map[string]int{}
	}
	t.st.entities[rec.ID] = copyRecord(*rec)
	return nil
}

func (t *memTx) UpdateEntity(_ context.Context, rec Record) error {
	existing, ok := t.st.entities[rec.ID]
	if !ok || existing.Kind != rec.Kind {
		return fmt.Errorf("%s %d: %w", rec.Kind, rec.ID, ErrNotFound)
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = t.now()
	t.st.entities[rec.ID] = copyRecord(rec)
	return nil
}

func (t *memTx) SetReserved(_ context.Context, kind Kind, id int64, reserved bool) error {
	rec, ok := t.st.entities[id]
	if !ok || rec.Kind != kind {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	rec.Reserved = reserved
	t.st.entities[id] = rec
	return nil
}

func (t *memTx) AdjustCount(_ context.Context, kind Kind, id int64, name string, delta int) error {
	rec, ok := t.st.entities[id]
	if !ok || rec.Kind != kind {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	counts := make(map[string]int, len(rec.Counts)+1)
	for k, v := range rec.Counts {
		counts[k] = v
	}
	counts[name] += delta
	rec.Counts = counts
	t.st.entities[id] = rec
	return nil
}

func (t *memTx) AcquireLock(_ context.Context, lock Lock) (bool, error) {
	key := lockKey{lock.Kind, lock.EntityID}
	if _, exists := t.st.locks[key]; exists {
		return false, nil
	}
	if lock.CreatedAt.IsZero() {
		lock.CreatedAt = t.now()
	}
	t.st.locks[key] = lock
	return true, nil
}

func (t *memTx) ReleaseLock(_ context.Context, kind Kind, entityID int64) error {
	delete(t.st.locks, lockKey{kind, entityID})
	return nil
}

func (t *memTx) CreateChangeset(_ context.Context, cs *Changeset) error {
	t.st.nextChangeset++
	now := t.now()
	cs.ID = t.st.nextChangeset
	cs.CreatedAt = now
	cs.UpdatedAt = now
	t.st.changesets[cs.ID] = copyChangeset(*cs)
	return nil
}

func (t *memTx) UpdateChangeset(_ context.Context, cs Changeset) error {
	existing, ok := t.st.changesets[cs.ID]
	if !ok {
		return fmt.Errorf("changeset %d: %w", cs.ID, ErrNotFound)
	}
	cs.CreatedAt = existing.CreatedAt
	cs.UpdatedAt = t.now()
	t.st.changesets[cs.ID] = copyChangeset(cs)
	return nil
}

func (t *memTx) ClaimChangeset(_ context.Context, id, approverID int64) (bool, error) {
	cs, ok := t.st.changesets[id]
	if !ok {
		return false, fmt.Errorf("changeset %d: %w", id, ErrNotFound)
	}
	if cs.State != StatePending {
		return false, nil
	}
	cs.State = StateReviewing
	cs.ApproverID = &approverID
	cs.UpdatedAt = t.now()
	t.st.changesets[id] = cs
	return true, nil
}

func (t *memTx) AddComment(_ context.Context, comment *Comment) error {
	t.st.nextComment++
	comment.ID = t.st.nextComment
	comment.CreatedAt = t.now()
	t.st.comments = append(t.st.comments, *comment)
	return nil
}

func (t *memTx) CreateRevision(_ context.Context, rev *Revision) error {
	if rev.Data == nil || rev.Data.Kind() != rev.Kind {
		return fmt.Errorf("create %s revision: payload kind mismatch", rev.Kind)
	}
	if _, ok := t.st.changesets[rev.ChangesetID]; !ok {
		return fmt.Errorf("changeset %d: %w", rev.ChangesetID, ErrNotFound)
	}
	t.st.nextRevision++
	now := t.now()
	rev.ID = t.st.nextRevision
	rev.CreatedAt = now
	rev.UpdatedAt = now
	t.st.revisions[rev.ID] = copyRevision(*rev)
	return nil
}

func (t *memTx) UpdateRevision(_ context.Context, rev Revision) error {
	existing, ok := t.st.revisions[rev.ID]
	if !ok {
		return fmt.Errorf("revision %d: %w", rev.ID, ErrNotFound)
	}
	rev.CreatedAt = existing.CreatedAt
	rev.UpdatedAt = t.now()
	t.st.revisions[rev.ID] = copyRevision(rev)
	return nil
}

func (t *memTx) DeleteRevisions(_ context.Context, changesetID int64) error {
	for id, rev := range t.st.revisions {
		if rev.ChangesetID == changesetID {
			delete(t.st.revisions, id)
		}
	}
	return nil
}

func (t *memTx) CreateOngoingReservation(_ context.Context, res OngoingReservation) (bool, error) {
	if _, exists := t.st.ongoing[res.SeriesID]; exists {
		return false, nil
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = t.now()
	}
	t.st.ongoing[res.SeriesID] = res
	return true, nil
}

func (t *memTx) DeleteOngoingReservation(_ context.Context, seriesID int64) error {
	delete(t.st.ongoing, seriesID)
	return nil
}

func (t *memTx) IncrementCountStat(_ context.Context, name, language, country string, delta int64) error {
	key := statKey{name, language, country}
	if _, ok := t.st.stats[key]; ok {
		t.st.stats[key] += delta
	}
	return nil
}

func (t *memTx) ReplaceCountStats(_ context.Context, language, country string, counts map[string]int64) error {
	for key := range t.st.stats {
		if key.language == language && key.country == country {
			delete(t.st.stats, key)
		}
	}
	for name, count := range counts {
		t.st.stats[statKey{name, language, country}] = count
	}
	return nil
}

func (f ChangesetFilter) matches(cs Changeset) bool {
	if f.IndexerID != nil && cs.IndexerID != *f.IndexerID {
		return false
	}
	if f.ApproverID != nil && (cs.ApproverID == nil || *cs.ApproverID != *f.ApproverID) {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, state := range f.States {
			if cs.State == state {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, excluded := range f.ExcludeChangeTypes {
		if cs.ChangeType == excluded {
			return false
		}
	}
	if !f.UpdatedBefore.IsZero() && !cs.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

func (st *memState) sortedEntityIDs() []int64 {
	ids := make([]int64, 0, len(st.entities))
	for id := range st.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (st *memState) clone() *memState {
	out := &memState{
		nextEntity:    st.nextEntity,
		nextChangeset: st.nextChangeset,
		nextRevision:  st.nextRevision,
		nextComment:   st.nextComment,
		indexers:      make(map[int64]Indexer, len(st.indexers)),
		entities:      make(map[int64]Record, len(st.entities)),
		changesets:    make(map[int64]Changeset, len(st.changesets)),
		comments:      append([]Comment(nil), st.comments...),
		revisions:     make(map[int64]Revision, len(st.revisions)),
		locks:         make(map[lockKey]Lock, len(st.locks)),
		ongoing:       make(map[int64]OngoingReservation, len(st.ongoing)),
		stats:         make(map[statKey]int64, len(st.stats)),
	}
	for id, indexer := range st.indexers {
		out.indexers[id] = copyIndexer(indexer)
	}
	for id, rec := range st.entities {
		out.entities[id] = copyRecord(rec)
	}
	for id, cs := range st.changesets {
		out.changesets[id] = copyChangeset(cs)
	}
	for id, rev := range st.revisions {
		out.revisions[id] = copyRevision(rev)
	}
	for key, lock := range st.locks {
		out.locks[key] = lock
	}
	for id, res := range st.ongoing {
		out.ongoing[id] = res
	}
	for key, count := range st.stats {
		out.stats[key] = count
	}
	return out
}

func copyRecord(rec Record) Record {
	out := rec
	if rec.Data != nil {
		out.Data = rec.Data.Clone()
	}
	out.Counts = make(map[string]int, len(rec.Counts))
	for k, v := range rec.Counts {
		out.Counts[k] = v
	}
	return out
}

func copyRevision(rev Revision) Revision {
	out := rev
	if rev.Data != nil {
		out.Data = rev.Data.Clone()
	}
	if rev.Baseline != nil {
		out.Baseline = rev.Baseline.Clone()
	}
	out.SourceID = cloneID(rev.SourceID)
	out.PreviousRevisionID = cloneID(rev.PreviousRevisionID)
	out.ParentRevisionID = cloneID(rev.ParentRevisionID)
	if rev.Committed != nil {
		committed := *rev.Committed
		out.Committed = &committed
	}
	return out
}

func copyChangeset(cs Changeset) Changeset {
	out := cs
	out.ApproverID = cloneID(cs.ApproverID)
	return out
}

func copyIndexer(indexer Indexer) Indexer {
	out := indexer
	out.MentorID = cloneID(indexer.MentorID)
	return out
}
