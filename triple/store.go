package triple

import (
	"context"
	"database/sql"
	"iter"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/errors"
	"github.com/tracelight/kgraph/versioning"
)

const tripleColumns = `id, tenant_id, subject_id, predicate_uri, object_value, object_is_literal,
	graph_uri, version, superseded_version, valid_from, valid_to, change_type, is_deleted, created_at`

// Store is the SQLite-backed triple store. Writes are serialized per tenant;
// reads run concurrently against committed state. All version numbers come
// from the versioning manager.
type Store struct {
	db       *sql.DB
	versions *versioning.Manager
	logger   *zap.SugaredLogger
	retry    db.RetryPolicy

	// writeLocks serializes mutations per tenant.
	writeLocks sync.Map // tenantID -> *sync.Mutex
}

// NewStore creates a triple store over the given database and versioning
// manager.
func NewStore(database *sql.DB, versions *versioning.Manager, retry db.RetryPolicy, logger *zap.SugaredLogger) *Store {
	return &Store{
		db:       database,
		versions: versions,
		logger:   logger.Named("triple.store"),
		retry:    retry,
	}
}

func (s *Store) tenantLock(tenantID string) *sync.Mutex {
	mu, _ := s.writeLocks.LoadOrStore(tenantID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Insert appends a new triple fact and returns the stored version record.
// Rejects empty subject, predicate, or object. Inserting a fact identical
// to a live triple of the same key is a conflict.
func (s *Store) Insert(ctx context.Context, tenantID string, key Key, object Object) (*Triple, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	key = key.normalized()
	if key.SubjectID == "" {
		return nil, errors.NewValidationError("triple subject must not be empty")
	}
	if key.PredicateURI == "" {
		return nil, errors.NewValidationError("triple predicate must not be empty")
	}
	if object.Value == "" {
		return nil, errors.NewValidationError("triple object must not be empty")
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	var stored *Triple
	err := db.WithRetry(ctx, s.retry, s.logger, func() error {
		var exists bool
		err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM triples
				WHERE tenant_id = ? AND subject_id = ? AND predicate_uri = ? AND graph_uri = ?
				  AND object_value = ? AND object_is_literal = ?
				  AND superseded_version IS NULL AND is_deleted = 0
			)`,
			tenantID, key.SubjectID, key.PredicateURI, key.GraphURI,
			object.Value, object.IsLiteral,
		).Scan(&exists)
		if err != nil {
			return errors.Wrap(err, "check for duplicate triple")
		}
		if exists {
			return errors.Wrapf(errors.ErrConflict,
				"triple (%s, %s, %s) already live in graph %s",
				key.SubjectID, key.PredicateURI, object.Value, key.GraphURI)
		}

		stamp, err := s.versions.NextVersion(ctx, tenantID)
		if err != nil {
			return err
		}

		t := &Triple{
			ID:           "tpl-" + uuid.NewString(),
			TenantID:     tenantID,
			SubjectID:    key.SubjectID,
			PredicateURI: key.PredicateURI,
			Object:       object,
			GraphURI:     key.GraphURI,
			Version:      stamp.Version,
			ValidFrom:    stamp.Timestamp,
			ChangeType:   ChangeInsert,
			CreatedAt:    stamp.Timestamp,
		}
		if err := s.appendRow(ctx, t); err != nil {
			return err
		}
		stored = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debugw("Triple inserted",
		"tenant", tenantID,
		"subject", stored.SubjectID,
		"predicate", stored.PredicateURI,
		"version", stored.Version,
	)
	return stored, nil
}

// Update closes the key's current version records and appends a new record
// with the given object. Returns ErrNotFound if the key has no live triple.
func (s *Store) Update(ctx context.Context, tenantID string, key Key, newObject Object) (*Triple, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	key = key.normalized()
	if newObject.Value == "" {
		return nil, errors.NewValidationError("triple object must not be empty")
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	var stored *Triple
	err := db.WithRetry(ctx, s.retry, s.logger, func() error {
		t, err := s.mutate(ctx, tenantID, key, newObject, ChangeUpdate)
		if err != nil {
			return err
		}
		stored = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// SoftDelete closes the key's current version records and appends a
// tombstone. The tombstone keeps the prior object value and is hidden from
// queries unless IncludeDeleted is set.
func (s *Store) SoftDelete(ctx context.Context, tenantID string, key Key) (*Triple, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	key = key.normalized()

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	var stored *Triple
	err := db.WithRetry(ctx, s.retry, s.logger, func() error {
		t, err := s.mutate(ctx, tenantID, key, Object{}, ChangeDelete)
		if err != nil {
			return err
		}
		stored = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// mutate closes the key's live rows and appends the replacement record in
// one transaction. Caller holds the tenant write lock.
func (s *Store) mutate(ctx context.Context, tenantID string, key Key, newObject Object, change ChangeType) (*Triple, error) {
	head, err := s.liveHead(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}

	stamp, err := s.versions.NextVersion(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin mutation tx")
	}
	defer tx.Rollback()

	// Closing a row sets valid_to and superseded_version only; every other
	// field stays untouched (append-only invariant).
	_, err = tx.ExecContext(ctx, `
		UPDATE triples SET valid_to = ?, superseded_version = ?
		WHERE tenant_id = ? AND subject_id = ? AND predicate_uri = ? AND graph_uri = ?
		  AND superseded_version IS NULL`,
		stamp.Timestamp, stamp.Version,
		tenantID, key.SubjectID, key.PredicateURI, key.GraphURI,
	)
	if err != nil {
		return nil, errors.Wrap(err, "close current triple version")
	}

	t := &Triple{
		ID:           "tpl-" + uuid.NewString(),
		TenantID:     tenantID,
		SubjectID:    key.SubjectID,
		PredicateURI: key.PredicateURI,
		Object:       newObject,
		GraphURI:     key.GraphURI,
		Version:      stamp.Version,
		ValidFrom:    stamp.Timestamp,
		ChangeType:   change,
		CreatedAt:    stamp.Timestamp,
	}
	if change == ChangeDelete {
		t.Object = head.Object
		t.IsDeleted = true
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO triples (id, tenant_id, subject_id, predicate_uri, object_value, object_is_literal,
			graph_uri, version, valid_from, change_type, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.SubjectID, t.PredicateURI, t.Object.Value, t.Object.IsLiteral,
		t.GraphURI, t.Version, t.ValidFrom, string(t.ChangeType), t.IsDeleted, t.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "append triple version")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit mutation")
	}

	s.logger.Debugw("Triple mutated",
		"tenant", tenantID,
		"subject", key.SubjectID,
		"predicate", key.PredicateURI,
		"change", change,
		"version", t.Version,
	)
	return t, nil
}

// liveHead returns the latest live, non-deleted record for the key.
func (s *Store) liveHead(ctx context.Context, tenantID string, key Key) (*Triple, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+tripleColumns+` FROM triples
		WHERE tenant_id = ? AND subject_id = ? AND predicate_uri = ? AND graph_uri = ?
		  AND superseded_version IS NULL AND is_deleted = 0
		ORDER BY version DESC LIMIT 1`,
		tenantID, key.SubjectID, key.PredicateURI, key.GraphURI,
	)
	t, err := scanTriple(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no live triple for (%s, %s) in graph %s",
			key.SubjectID, key.PredicateURI, key.GraphURI)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load triple head")
	}
	return t, nil
}

// appendRow inserts a fully-populated version record.
func (s *Store) appendRow(ctx context.Context, t *Triple) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO triples (id, tenant_id, subject_id, predicate_uri, object_value, object_is_literal,
			graph_uri, version, valid_from, change_type, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.SubjectID, t.PredicateURI, t.Object.Value, t.Object.IsLiteral,
		t.GraphURI, t.Version, t.ValidFrom, string(t.ChangeType), t.IsDeleted, t.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert triple")
	}
	return nil
}

// Query returns the triples matching the pattern at the selected snapshot,
// ordered by version.
func (s *Store) Query(ctx context.Context, tenantID string, pattern Pattern, opts QueryOptions) ([]Triple, error) {
	query, args, err := s.buildQuery(ctx, tenantID, pattern, opts)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query triples")
	}
	defer rows.Close()

	var results []Triple
	for rows.Next() {
		t, err := scanTriple(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan triple")
		}
		results = append(results, *t)
	}
	return results, rows.Err()
}

// QuerySeq returns a lazy, restartable sequence over the matching triples.
// The underlying SQL re-executes on each range. A pinned AsOfVersion or
// AsOfTime snapshot is resolved once, so restarts of pinned queries observe
// the same state; latest-state queries observe writes committed between
// restarts.
func (s *Store) QuerySeq(ctx context.Context, tenantID string, pattern Pattern, opts QueryOptions) (iter.Seq2[Triple, error], error) {
	query, args, err := s.buildQuery(ctx, tenantID, pattern, opts)
	if err != nil {
		return nil, err
	}

	return func(yield func(Triple, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(Triple{}, errors.Wrap(err, "query triples"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTriple(rows)
			if err != nil {
				yield(Triple{}, errors.Wrap(err, "scan triple"))
				return
			}
			if !yield(*t, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Triple{}, err)
		}
	}, nil
}

// History returns every version record for a key, oldest first, including
// closed and deleted records.
func (s *Store) History(ctx context.Context, tenantID string, key Key) ([]Triple, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	key = key.normalized()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tripleColumns+` FROM triples
		WHERE tenant_id = ? AND subject_id = ? AND predicate_uri = ? AND graph_uri = ?
		ORDER BY version ASC`,
		tenantID, key.SubjectID, key.PredicateURI, key.GraphURI,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query triple history")
	}
	defer rows.Close()

	var results []Triple
	for rows.Next() {
		t, err := scanTriple(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan triple")
		}
		results = append(results, *t)
	}
	return results, rows.Err()
}

// buildQuery resolves the snapshot and assembles the SQL for a pattern query.
func (s *Store) buildQuery(ctx context.Context, tenantID string, pattern Pattern, opts QueryOptions) (string, []interface{}, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return "", nil, err
	}

	qb := &queryBuilder{}
	qb.addClause("tenant_id = ?", tenantID)
	qb.buildPatternFilter(pattern)

	switch {
	case opts.AsOfVersion != nil:
		snap, err := s.versions.SnapshotAtVersion(ctx, tenantID, *opts.AsOfVersion)
		if err != nil {
			return "", nil, err
		}
		qb.buildSnapshotFilter(snap.Version, true)
	case opts.AsOfTime != nil:
		snap, err := s.versions.SnapshotAtTime(ctx, tenantID, *opts.AsOfTime)
		if err != nil {
			return "", nil, err
		}
		qb.buildSnapshotFilter(snap.Version, true)
	default:
		qb.buildSnapshotFilter(0, false)
	}
	qb.buildVisibilityFilter(opts.IncludeDeleted)

	query := "SELECT " + tripleColumns + " FROM triples WHERE " + qb.build() + " ORDER BY version ASC"
	args := qb.args
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	return query, args, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTriple(row rowScanner) (*Triple, error) {
	var t Triple
	var superseded sql.NullInt64
	var validTo sql.NullTime
	var changeType string

	err := row.Scan(
		&t.ID, &t.TenantID, &t.SubjectID, &t.PredicateURI,
		&t.Object.Value, &t.Object.IsLiteral,
		&t.GraphURI, &t.Version, &superseded, &t.ValidFrom, &validTo,
		&changeType, &t.IsDeleted, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ChangeType = ChangeType(changeType)
	if superseded.Valid {
		t.SupersededVersion = &superseded.Int64
	}
	if validTo.Valid {
		ts := validTo.Time
		t.ValidTo = &ts
	}
	return &t, nil
}
