package relation

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/errors"
)

const relationColumns = `id, version, tenant_id, source_entity_id, target_entity_id,
	relation_type, custom_name, confidence, is_directional, source_context, is_verified,
	created_at, updated_at`

// Store is the SQLite-backed relation store. Writes are serialized per
// tenant; records are versioned per (id, version).
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	retry  db.RetryPolicy

	writeLocks sync.Map // tenantID -> *sync.Mutex
}

// NewStore creates a relation store over the given database.
func NewStore(database *sql.DB, retry db.RetryPolicy, logger *zap.SugaredLogger) *Store {
	return &Store{
		db:     database,
		logger: logger.Named("relation"),
		retry:  retry,
	}
}

func (s *Store) tenantLock(tenantID string) *sync.Mutex {
	mu, _ := s.writeLocks.LoadOrStore(tenantID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func validate(r *Relation) error {
	if r.SourceEntityID == "" || r.TargetEntityID == "" {
		return errors.NewValidationError("relation endpoints must not be empty")
	}
	if r.SourceEntityID == r.TargetEntityID {
		return errors.NewValidationError("relation must link two distinct entities")
	}
	if r.Type == "" {
		return errors.NewValidationError("relation type must not be empty")
	}
	if r.Type == TypeCustom && r.CustomName == "" {
		return errors.NewValidationError("custom relation must carry a name")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.NewValidationError("confidence %f out of range [0, 1]", r.Confidence)
	}
	return nil
}

// Save persists a relation at version 1 and returns the stored record.
func (s *Store) Save(ctx context.Context, tenantID string, r Relation) (*Relation, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := validate(&r); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r.ID = "rel-" + uuid.NewString()
	r.TenantID = tenantID
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	err := db.WithRetry(ctx, s.retry, s.logger, func() error {
		return s.insertRow(ctx, &r)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debugw("Relation saved",
		"tenant", tenantID,
		"id", r.ID,
		"type", r.Name(),
		"source", r.SourceEntityID,
		"target", r.TargetEntityID,
	)
	return &r, nil
}

// Get returns the latest version of a relation.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*Relation, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+relationColumns+` FROM relations
		WHERE tenant_id = ? AND id = ?
		ORDER BY version DESC LIMIT 1`,
		tenantID, id,
	)
	r, err := scanRelation(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("relation %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load relation")
	}
	return r, nil
}

// ListByEntity returns the latest relations touching an entity, as either
// endpoint.
func (s *Store) ListByEntity(ctx context.Context, tenantID, entityID string) ([]Relation, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationColumns+` FROM relations
		WHERE tenant_id = ? AND (source_entity_id = ? OR target_entity_id = ?)
		  AND (id, version) IN (
			SELECT id, MAX(version) FROM relations WHERE tenant_id = ? GROUP BY id
		  )
		ORDER BY created_at ASC, id ASC`,
		tenantID, entityID, entityID, tenantID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query relations by entity")
	}
	defer rows.Close()
	return collectRelations(rows)
}

// MarkVerified appends a verified version of the relation.
func (s *Store) MarkVerified(ctx context.Context, tenantID, id string) (*Relation, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	var verified *Relation
	err := db.WithRetry(ctx, s.retry, s.logger, func() error {
		current, err := s.Get(ctx, tenantID, id)
		if err != nil {
			return err
		}
		next := *current
		next.Version = current.Version + 1
		next.IsVerified = true
		next.UpdatedAt = time.Now().UTC()
		if err := s.insertRow(ctx, &next); err != nil {
			return err
		}
		verified = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return verified, nil
}

func (s *Store) insertRow(ctx context.Context, r *Relation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (id, version, tenant_id, source_entity_id, target_entity_id,
			relation_type, custom_name, confidence, is_directional, source_context, is_verified,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Version, r.TenantID, r.SourceEntityID, r.TargetEntityID,
		string(r.Type), r.CustomName, r.Confidence, r.IsDirectional, r.SourceContext, r.IsVerified,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert relation record")
	}
	return nil
}

func collectRelations(rows *sql.Rows) ([]Relation, error) {
	var results []Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan relation")
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRelation(row rowScanner) (*Relation, error) {
	var r Relation
	var relationType string

	err := row.Scan(
		&r.ID, &r.Version, &r.TenantID, &r.SourceEntityID, &r.TargetEntityID,
		&relationType, &r.CustomName, &r.Confidence, &r.IsDirectional, &r.SourceContext, &r.IsVerified,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Type = Type(relationType)
	return &r, nil
}
