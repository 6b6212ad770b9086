package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	queries
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: queries{q: db}, db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{queries{q: tx}}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	queries
}

type queries struct {
	q queryer
}

var refFieldPattern = regexp.MustCompile(`^[a-z_]+$`)

func refExpr(alias, field string) (string, error) {
	if !refFieldPattern.MatchString(field) {
		return "", fmt.Errorf("invalid reference field %q", field)
	}
	return fmt.Sprintf("(%sdata->>'%s')::bigint", alias, field), nil
}

const entityColumns = `id, kind, data, counts, deleted, reserved, created_at, updated_at`

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var (
		rec    Record
		kind   string
		data   []byte
		counts []byte
	)
	if err := scan(&rec.ID, &kind, &data, &counts, &rec.Deleted, &rec.Reserved, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Kind = Kind(kind)
	payload, err := DecodeData(rec.Kind, data)
	if err != nil {
		return Record{}, err
	}
	rec.Data = payload
	rec.Counts = map[string]int{}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &rec.Counts); err != nil {
			return Record{}, fmt.Errorf("decode counts: %w", err)
		}
	}
	return rec, nil
}

func (q queries) GetIndexer(ctx context.Context, userID int64) (Indexer, error) {
	var (
		indexer  Indexer
		mentorID sql.NullInt64
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT user_id, name, email, role, is_new, max_reservations, max_ongoing, mentor_id, imps, notify_on_approve, created_at
		FROM indexers WHERE user_id = $1
	`, userID).Scan(&indexer.UserID, &indexer.Name, &indexer.Email, &indexer.Role, &indexer.IsNew,
		&indexer.MaxReservations, &indexer.MaxOngoing, &mentorID, &indexer.Imps, &indexer.NotifyOnApprove, &indexer.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Indexer{}, fmt.Errorf("indexer %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Indexer{}, fmt.Errorf("get indexer: %w", err)
	}
	indexer.MentorID = nullableID(mentorID)
	return indexer, nil
}

func (q queries) GetEntity(ctx context.Context, kind Kind, id int64) (Record, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1 AND kind = $2`, id, string(kind))
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", kind, err)
	}
	return rec, nil
}

func (q queries) ListChildren(ctx context.Context, kind Kind, field string, parentID int64) ([]Record, error) {
	expr, err := refExpr("", field)
	if err != nil {
		return nil, err
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE kind = $1 AND NOT deleted AND `+expr+` = $2
		ORDER BY id
	`, string(kind), parentID)
	if err != nil {
		return nil, fmt.Errorf("list %s children: %w", kind, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (q queries) ScanEntities(ctx context.Context, kind Kind, fn func(Record) error) error {
	rows, err := q.q.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE kind = $1 ORDER BY id`, string(kind))
	if err != nil {
		return fmt.Errorf("scan %s: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return fmt.Errorf("scan %s: %w", kind, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

const changesetColumns = `id, indexer_id, approver_id, state, change_type, imps, created_at, updated_at`

func scanChangeset(scan func(dest ...any) error) (Changeset, error) {
	var (
		cs         Changeset
		approverID sql.NullInt64
		changeType string
	)
	if err := scan(&cs.ID, &cs.IndexerID, &approverID, &cs.State, &changeType, &cs.Imps, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
		return Changeset{}, err
	}
	cs.ApproverID = nullableID(approverID)
	cs.ChangeType = ChangeType(changeType)
	return cs, nil
}

func (q queries) GetChangeset(ctx context.Context, id int64) (Changeset, error) {
	return q.getChangeset(ctx, id, "")
}

func (q queries) GetChangesetForUpdate(ctx context.Context, id int64) (Changeset, error) {
	return q.getChangeset(ctx, id, " FOR UPDATE")
}

func (q queries) LockEntity(ctx context.Context, kind Kind, id int64) error {
	var locked int64
	err := q.q.QueryRowContext(ctx, `SELECT id FROM entities WHERE kind = $1 AND id = $2 FOR UPDATE`, string(kind), id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock %s %d: %w", kind, id, err)
	}
	return nil
}

func (q queries) LockStatBucket(ctx context.Context, language, country string) error {
	if _, err := q.q.ExecContext(ctx, `
		SELECT pg_advisory_xact_lock(hashtext('count_stats:' || $1::text || '/' || $2::text))
	`, language, country); err != nil {
		return fmt.Errorf("lock stats bucket %q/%q: %w", language, country, err)
	}
	return nil
}

func (q queries) getChangeset(ctx context.Context, id int64, suffix string) (Changeset, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+changesetColumns+` FROM changesets WHERE id = $1`+suffix, id)
	cs, err := scanChangeset(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Changeset{}, fmt.Errorf("changeset %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Changeset{}, fmt.Errorf("get changeset: %w", err)
	}
	return cs, nil
}

func changesetWhere(filter ChangesetFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.IndexerID != nil {
		add("indexer_id = $%d", *filter.IndexerID)
	}
	if filter.ApproverID != nil {
		add("approver_id = $%d", *filter.ApproverID)
	}
	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, state := range filter.States {
			args = append(args, int(state))
			states = append(states, fmt.Sprintf("$%d", len(args)))
		}
		clauses = append(clauses, "state IN ("+strings.Join(states, ", ")+")")
	}
	for _, changeType := range filter.ExcludeChangeTypes {
		add("change_type <> $%d", string(changeType))
	}
	if !filter.UpdatedBefore.IsZero() {
		add("updated_at < $%d", filter.UpdatedBefore)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (q queries) ListChangesets(ctx context.Context, filter ChangesetFilter) ([]Changeset, error) {
	where, args := changesetWhere(filter)
	query := `SELECT ` + changesetColumns + ` FROM changesets` + where + ` ORDER BY updated_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list changesets: %w", err)
	}
	defer rows.Close()

	var out []Changeset
	for rows.Next() {
		cs, err := scanChangeset(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan changeset: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (q queries) CountChangesets(ctx context.Context, filter ChangesetFilter) (int, error) {
	where, args := changesetWhere(filter)
	var count int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM changesets`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count changesets: %w", err)
	}
	return count, nil
}

func (q queries) ListComments(ctx context.Context, changesetID int64) ([]Comment, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, changeset_id, commenter_id, text, old_state, new_state, created_at
		FROM changeset_comments WHERE changeset_id = $1
		ORDER BY created_at, id
	`, changesetID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(&comment.ID, &comment.ChangesetID, &comment.CommenterID, &comment.Text,
			&comment.OldState, &comment.NewState, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, comment)
	}
	return out, rows.Err()
}

const revisionColumns = `id, changeset_id, kind, source_id, previous_revision_id, parent_revision_id,
	added, deleted, committed, reservation_requested, data, baseline, created_at, updated_at`

func scanRevision(scan func(dest ...any) error) (Revision, error) {
	var (
		rev       Revision
		kind      string
		sourceID  sql.NullInt64
		previous  sql.NullInt64
		parent    sql.NullInt64
		committed sql.NullBool
		data      []byte
		baseline  []byte
	)
	if err := scan(&rev.ID, &rev.ChangesetID, &kind, &sourceID, &previous, &parent,
		&rev.Added, &rev.Deleted, &committed, &rev.ReservationRequested, &data, &baseline, &rev.CreatedAt, &rev.UpdatedAt); err != nil {
		return Revision{}, err
	}
	rev.Kind = Kind(kind)
	rev.SourceID = nullableID(sourceID)
	rev.PreviousRevisionID = nullableID(previous)
	rev.ParentRevisionID = nullableID(parent)
	if committed.Valid {
		value := committed.Bool
		rev.Committed = &value
	}
	payload, err := DecodeData(rev.Kind, data)
	if err != nil {
		return Revision{}, err
	}
	rev.Data = payload
	if baseline != nil {
		if rev.Baseline, err = DecodeData(rev.Kind, baseline); err != nil {
			return Revision{}, err
		}
	}
	return rev, nil
}

// encodeBaseline returns nil for a missing baseline so the column stays NULL.
func encodeBaseline(data Data) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode revision baseline: %w", err)
	}
	return encoded, nil
}

func (q queries) GetRevision(ctx context.Context, id int64) (Revision, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM revisions WHERE id = $1`, id)
	rev, err := scanRevision(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, fmt.Errorf("revision %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("get revision: %w", err)
	}
	return rev, nil
}

func (q queries) listRevisions(ctx context.Context, query string, args ...any) ([]Revision, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		rev, err := scanRevision(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

func (q queries) ListRevisions(ctx context.Context, changesetID int64) ([]Revision, error) {
	return q.listRevisions(ctx, `SELECT `+revisionColumns+` FROM revisions WHERE changeset_id = $1 ORDER BY id`, changesetID)
}

func (q queries) LatestCommittedRevision(ctx context.Context, kind Kind, sourceID int64) (Revision, bool, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+revisionColumns+` FROM revisions
		WHERE kind = $1 AND source_id = $2 AND committed
		ORDER BY id DESC LIMIT 1
	`, string(kind), sourceID)
	rev, err := scanRevision(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, false, nil
	}
	if err != nil {
		return Revision{}, false, fmt.Errorf("latest committed revision: %w", err)
	}
	return rev, true, nil
}

func (q queries) ListActiveRevisions(ctx context.Context, kind Kind, field string, parentID int64) ([]Revision, error) {
	expr, err := refExpr("r.", field)
	if err != nil {
		return nil, err
	}
	return q.listRevisions(ctx, `
		SELECT `+qualify("r", revisionColumns)+` FROM revisions r
		JOIN changesets c ON c.id = r.changeset_id
		WHERE r.kind = $1 AND c.state IN ($2, $3, $4) AND `+expr+` = $5
		ORDER BY r.id
	`, string(kind), int(StateOpen), int(StatePending), int(StateReviewing), parentID)
}

func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func (q queries) GetLock(ctx context.Context, kind Kind, entityID int64) (Lock, bool, error) {
	lock := Lock{Kind: kind, EntityID: entityID}
	err := q.q.QueryRowContext(ctx, `
		SELECT changeset_id, created_at FROM revision_locks WHERE kind = $1 AND entity_id = $2
	`, string(kind), entityID).Scan(&lock.ChangesetID, &lock.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Lock{}, false, nil
	}
	if err != nil {
		return Lock{}, false, fmt.Errorf("get lock: %w", err)
	}
	return lock, true, nil
}

func (q queries) ListLocks(ctx context.Context, changesetID int64) ([]Lock, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT kind, entity_id, changeset_id, created_at FROM revision_locks
		WHERE changeset_id = $1 ORDER BY entity_id
	`, changesetID)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var out []Lock
	for rows.Next() {
		var (
			lock Lock
			kind string
		)
		if err := rows.Scan(&kind, &lock.EntityID, &lock.ChangesetID, &lock.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		lock.Kind = Kind(kind)
		out = append(out, lock)
	}
	return out, rows.Err()
}

func (q queries) GetOngoingReservation(ctx context.Context, seriesID int64) (OngoingReservation, bool, error) {
	res := OngoingReservation{SeriesID: seriesID}
	err := q.q.QueryRowContext(ctx, `
		SELECT indexer_id, created_at FROM ongoing_reservations WHERE series_id = $1
	`, seriesID).Scan(&res.IndexerID, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return OngoingReservation{}, false, nil
	}
	if err != nil {
		return OngoingReservation{}, false, fmt.Errorf("get ongoing reservation: %w", err)
	}
	return res, true, nil
}

func (q queries) CountOngoingReservations(ctx context.Context, indexerID int64) (int, error) {
	var count int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM ongoing_reservations WHERE indexer_id = $1`, indexerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count ongoing reservations: %w", err)
	}
	return count, nil
}

func (q queries) GetCountStat(ctx context.Context, name, language, country string) (CountStat, bool, error) {
	stat := CountStat{Name: name, Language: language, Country: country}
	err := q.q.QueryRowContext(ctx, `
		SELECT count FROM count_stats WHERE name = $1 AND language = $2 AND country = $3
	`, name, language, country).Scan(&stat.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return CountStat{}, false, nil
	}
	if err != nil {
		return CountStat{}, false, fmt.Errorf("get count stat: %w", err)
	}
	return stat, true, nil
}

func (q queries) ListCountStats(ctx context.Context, language, country string) ([]CountStat, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT name, count FROM count_stats WHERE language = $1 AND country = $2 ORDER BY name
	`, language, country)
	if err != nil {
		return nil, fmt.Errorf("list count stats: %w", err)
	}
	defer rows.Close()

	var out []CountStat
	for rows.Next() {
		stat := CountStat{Language: language, Country: country}
		if err := rows.Scan(&stat.Name, &stat.Count); err != nil {
			return nil, fmt.Errorf("scan count stat: %w", err)
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}

func (q queries) HasCountStats(ctx context.Context, language, country string) (bool, error) {
	var exists bool
	err := q.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM count_stats WHERE language = $1 AND country = $2)
	`, language, country).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check count stats: %w", err)
	}
	return exists, nil
}

func (q queries) ListStatBuckets(ctx context.Context) ([]StatBucket, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT DISTINCT language, country FROM count_stats ORDER BY language, country`)
	if err != nil {
		return nil, fmt.Errorf("list stat buckets: %w", err)
	}
	defer rows.Close()

	var out []StatBucket
	for rows.Next() {
		var bucket StatBucket
		if err := rows.Scan(&bucket.Language, &bucket.Country); err != nil {
			return nil, fmt.Errorf("scan stat bucket: %w", err)
		}
		out = append(out, bucket)
	}
	return out, rows.Err()
}

func (q queries) CreateIndexer(ctx context.Context, indexer Indexer) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO indexers (user_id, name, email, role, is_new, max_reservations, max_ongoing, mentor_id, imps, notify_on_approve)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, indexer.UserID, indexer.Name, indexer.Email, indexer.Role, indexer.IsNew, indexer.MaxReservations,
		indexer.MaxOngoing, indexer.MentorID, indexer.Imps, indexer.NotifyOnApprove)
	if err != nil {
		return fmt.Errorf("insert indexer: %w", err)
	}
	return nil
}

func (q queries) UpdateIndexer(ctx context.Context, indexer Indexer) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE indexers
		SET name = $2, email = $3, role = $4, is_new = $5, max_reservations = $6, max_ongoing = $7,
			mentor_id = $8, imps = $9, notify_on_approve = $10
		WHERE user_id = $1
	`, indexer.UserID, indexer.Name, indexer.Email, indexer.Role, indexer.IsNew, indexer.MaxReservations,
		indexer.MaxOngoing, indexer.MentorID, indexer.Imps, indexer.NotifyOnApprove)
	if err != nil {
		return fmt.Errorf("update indexer: %w", err)
	}
	return expectOne(result, fmt.Sprintf("indexer %d", indexer.UserID))
}

func (q queries) CreateEntity(ctx context.Context, rec *Record) error {
	if rec.Data == nil || rec.Data.Kind() != rec.Kind {
		return fmt.Errorf("create %s: payload kind mismatch", rec.Kind)
	}
	data, counts, err := encodeRecord(*rec)
	if err != nil {
		return err
	}
	err = q.q.QueryRowContext(ctx, `
		INSERT INTO entities (kind, data, counts, deleted, reserved)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, string(rec.Kind), data, counts, rec.Deleted, rec.Reserved).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.Kind, err)
	}
	if rec.Counts == nil {
		rec.Counts = map[string]int{}
	}
	return nil
}

func (q queries) UpdateEntity(ctx context.Context, rec Record) error {
	data, counts, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	result, err := q.q.ExecContext(ctx, `
		UPDATE entities
		SET data = $3, counts = $4, deleted = $5, reserved = $6, updated_at = NOW()
		WHERE id = $1 AND kind = $2
	`, rec.ID, string(rec.Kind), data, counts, rec.Deleted, rec.Reserved)
	if err != nil {
		return fmt.Errorf("update %s: %w", rec.Kind, err)
	}
	return expectOne(result, fmt.Sprintf("%s %d", rec.Kind, rec.ID))
}

func (q queries) SetReserved(ctx context.Context, kind Kind, id int64, reserved bool) error {
	result, err := q.q.ExecContext(ctx, `UPDATE entities SET reserved = $3 WHERE id = $1 AND kind = $2`, id, string(kind), reserved)
	if err != nil {
		return fmt.Errorf("set reserved: %w", err)
	}
	return expectOne(result, fmt.Sprintf("%s %d", kind, id))
}

func (q queries) AdjustCount(ctx context.Context, kind Kind, id int64, name string, delta int) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE entities
		SET counts = jsonb_set(counts, ARRAY[$3::text], to_jsonb(COALESCE((counts->>$3)::int, 0) + $4))
		WHERE id = $1 AND kind = $2
	`, id, string(kind), name, delta)
	if err != nil {
		return fmt.Errorf("adjust %s count: %w", name, err)
	}
	return expectOne(result, fmt.Sprintf("%s %d", kind, id))
}

func (q queries) AcquireLock(ctx context.Context, lock Lock) (bool, error) {
	result, err := q.q.ExecContext(ctx, `
		INSERT INTO revision_locks (kind, entity_id, changeset_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (kind, entity_id) DO NOTHING
	`, string(lock.Kind), lock.EntityID, lock.ChangesetID)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock rows: %w", err)
	}
	return affected == 1, nil
}

func (q queries) ReleaseLock(ctx context.Context, kind Kind, entityID int64) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM revision_locks WHERE kind = $1 AND entity_id = $2`, string(kind), entityID); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (q queries) CreateChangeset(ctx context.Context, cs *Changeset) error {
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO changesets (indexer_id, approver_id, state, change_type, imps)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, cs.IndexerID, cs.ApproverID, int(cs.State), string(cs.ChangeType), cs.Imps).Scan(&cs.ID, &cs.CreatedAt, &cs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert changeset: %w", err)
	}
	return nil
}

func (q queries) UpdateChangeset(ctx context.Context, cs Changeset) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE changesets
		SET approver_id = $2, state = $3, change_type = $4, imps = $5, updated_at = NOW()
		WHERE id = $1
	`, cs.ID, cs.ApproverID, int(cs.State), string(cs.ChangeType), cs.Imps)
	if err != nil {
		return fmt.Errorf("update changeset: %w", err)
	}
	return expectOne(result, fmt.Sprintf("changeset %d", cs.ID))
}

func (q queries) ClaimChangeset(ctx context.Context, id, approverID int64) (bool, error) {
	result, err := q.q.ExecContext(ctx, `
		UPDATE changesets
		SET state = $3, approver_id = $2, updated_at = NOW()
		WHERE id = $1 AND state = $4
	`, id, approverID, int(StateReviewing), int(StatePending))
	if err != nil {
		return false, fmt.Errorf("claim changeset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim changeset rows: %w", err)
	}
	return affected == 1, nil
}

func (q queries) AddComment(ctx context.Context, comment *Comment) error {
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO changeset_comments (changeset_id, commenter_id, text, old_state, new_state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, comment.ChangesetID, comment.CommenterID, comment.Text, int(comment.OldState), int(comment.NewState)).Scan(&comment.ID, &comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (q queries) CreateRevision(ctx context.Context, rev *Revision) error {
	if rev.Data == nil || rev.Data.Kind() != rev.Kind {
		return fmt.Errorf("create %s revision: payload kind mismatch", rev.Kind)
	}
	data, err := json.Marshal(rev.Data)
	if err != nil {
		return fmt.Errorf("encode revision payload: %w", err)
	}
	baseline, err := encodeBaseline(rev.Baseline)
	if err != nil {
		return err
	}
	err = q.q.QueryRowContext(ctx, `
		INSERT INTO revisions (changeset_id, kind, source_id, previous_revision_id, parent_revision_id,
			added, deleted, committed, reservation_requested, data, baseline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`, rev.ChangesetID, string(rev.Kind), rev.SourceID, rev.PreviousRevisionID, rev.ParentRevisionID,
		rev.Added, rev.Deleted, rev.Committed, rev.ReservationRequested, data, baseline).Scan(&rev.ID, &rev.CreatedAt, &rev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

func (q queries) UpdateRevision(ctx context.Context, rev Revision) error {
	data, err := json.Marshal(rev.Data)
	if err != nil {
		return fmt.Errorf("encode revision payload: %w", err)
	}
	result, err := q.q.ExecContext(ctx, `
		UPDATE revisions
		SET source_id = $2, previous_revision_id = $3, parent_revision_id = $4, added = $5, deleted = $6,
			committed = $7, reservation_requested = $8, data = $9, updated_at = NOW()
		WHERE id = $1
	`, rev.ID, rev.SourceID, rev.PreviousRevisionID, rev.ParentRevisionID, rev.Added, rev.Deleted,
		rev.Committed, rev.ReservationRequested, data)
	if err != nil {
		return fmt.Errorf("update revision: %w", err)
	}
	return expectOne(result, fmt.Sprintf("revision %d", rev.ID))
}

func (q queries) DeleteRevisions(ctx context.Context, changesetID int64) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM revisions WHERE changeset_id = $1`, changesetID); err != nil {
		return fmt.Errorf("delete revisions: %w", err)
	}
	return nil
}

func (q queries) CreateOngoingReservation(ctx context.Context, res OngoingReservation) (bool, error) {
	result, err := q.q.ExecContext(ctx, `
		INSERT INTO ongoing_reservations (series_id, indexer_id)
		VALUES ($1, $2)
		ON CONFLICT (series_id) DO NOTHING
	`, res.SeriesID, res.IndexerID)
	if err != nil {
		return false, fmt.Errorf("insert ongoing reservation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert ongoing reservation rows: %w", err)
	}
	return affected == 1, nil
}

func (q queries) DeleteOngoingReservation(ctx context.Context, seriesID int64) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM ongoing_reservations WHERE series_id = $1`, seriesID); err != nil {
		return fmt.Errorf("delete ongoing reservation: %w", err)
	}
	return nil
}

func (q queries) IncrementCountStat(ctx context.Context, name, language, country string, delta int64) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE count_stats SET count = count + $4
		WHERE name = $1 AND language = $2 AND country = $3
	`, name, language, country, delta)
	if err != nil {
		return fmt.Errorf("increment count stat %s: %w", name, err)
	}
	return nil
}

func (q queries) ReplaceCountStats(ctx context.Context, language, country string, counts map[string]int64) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM count_stats WHERE language = $1 AND country = $2`, language, country); err != nil {
		return fmt.Errorf("clear count stats: %w", err)
	}
	for name, count := range counts {
		if _, err := q.q.ExecContext(ctx, `
			INSERT INTO count_stats (name, language, country, count) VALUES ($1, $2, $3, $4)
			ON CONFLICT (name, language, country) DO UPDATE SET count = EXCLUDED.count
		`, name, language, country, count); err != nil {
			return fmt.Errorf("insert count stat %s: %w", name, err)
		}
	}
	return nil
}

func encodeRecord(rec Record) ([]byte, []byte, error) {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s payload: %w", rec.Kind, err)
	}
	counts := rec.Counts
	if counts == nil {
		counts = map[string]int{}
	}
	encodedCounts, err := json.Marshal(counts)
	if err != nil {
		return nil, nil, fmt.Errorf("encode counts: %w", err)
	}
	return data, encodedCounts, nil
}

func expectOne(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nullableID(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	id := value.Int64
	return &id
}
