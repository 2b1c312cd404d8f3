package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/errors"
)

const entityColumns = `id, version, tenant_id, entity_type, value, confidence,
	source_document_id, extraction_method, attributes, is_deleted, created_at, updated_at`

// Store is the SQLite-backed entity store. Writes are serialized per tenant.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	retry  db.RetryPolicy

	writeLocks sync.Map // tenantID -> *sync.Mutex
}

// NewStore creates an entity store over the given database.
func NewStore(database *sql.DB, retry db.RetryPolicy, logger *zap.SugaredLogger) *Store {
	return &Store{
		db:     database,
		logger: logger.Named("entity"),
		retry:  retry,
	}
}

func (s *Store) tenantLock(tenantID string) *sync.Mutex {
	mu, _ := s.writeLocks.LoadOrStore(tenantID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func validate(e *Entity) error {
	if e.Type == "" {
		return errors.NewValidationError("entity type must not be empty")
	}
	if NormalizeValue(e.Value) == "" {
		return errors.NewValidationError("entity value must not be empty")
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return errors.NewValidationError("confidence %f out of range [0, 1]", e.Confidence)
	}
	return nil
}

// Save persists an entity. If a live entity with the same (type, normalized
// value) already exists for the tenant, Save appends a new version to it,
// keeping the higher confidence and unioning attributes; otherwise a new
// entity is created at version 1. The stored record is returned.
func (s *Store) Save(ctx context.Context, tenantID string, e Entity) (*Entity, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := validate(&e); err != nil {
		return nil, err
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	var saved *Entity
	err := db.WithRetry(ctx, s.retry, s.logger, func() error {
		existing, err := s.findLiveByValue(ctx, tenantID, e.Type, e.Value)
		if err != nil && !errors.IsNotFoundError(err) {
			return err
		}

		now := time.Now().UTC()
		if existing != nil {
			next := Merge(*existing, e)
			next.Version = existing.Version + 1
			next.UpdatedAt = now
			if err := s.insertRow(ctx, &next); err != nil {
				return err
			}
			saved = &next
			return nil
		}

		e.ID = "ent-" + uuid.NewString()
		e.TenantID = tenantID
		e.Version = 1
		e.IsDeleted = false
		e.CreatedAt = now
		e.UpdatedAt = now
		if err := s.insertRow(ctx, &e); err != nil {
			return err
		}
		saved = &e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debugw("Entity saved",
		"tenant", tenantID,
		"id", saved.ID,
		"type", saved.Type,
		"version", saved.Version,
	)
	return saved, nil
}

// Merge combines a newly extracted entity into an existing one: the higher
// confidence wins, attributes are unioned with the newer extraction taking
// precedence on key collisions.
func Merge(existing, incoming Entity) Entity {
	merged := existing
	if incoming.Confidence > merged.Confidence {
		merged.Confidence = incoming.Confidence
		merged.ExtractionMethod = incoming.ExtractionMethod
	}
	if incoming.SourceDocumentID != "" {
		merged.SourceDocumentID = incoming.SourceDocumentID
	}
	if len(incoming.Attributes) > 0 {
		attrs := make(map[string]string, len(merged.Attributes)+len(incoming.Attributes))
		for k, v := range merged.Attributes {
			attrs[k] = v
		}
		for k, v := range incoming.Attributes {
			attrs[k] = v
		}
		merged.Attributes = attrs
	}
	merged.IsDeleted = false
	return merged
}

// Get returns the latest version of an entity.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*Entity, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE tenant_id = ? AND id = ?
		ORDER BY version DESC LIMIT 1`,
		tenantID, id,
	)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("entity %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load entity")
	}
	if e.IsDeleted {
		return nil, errors.NewNotFoundError("entity %s", id)
	}
	return e, nil
}

// ListByDocument returns the latest live entities extracted from a source
// document.
func (s *Store) ListByDocument(ctx context.Context, tenantID, sourceDocumentID string) ([]Entity, error) {
	return s.list(ctx, tenantID, "source_document_id = ?", sourceDocumentID)
}

// ListByType returns the latest live entities of a given type.
func (s *Store) ListByType(ctx context.Context, tenantID string, entityType Type) ([]Entity, error) {
	return s.list(ctx, tenantID, "entity_type = ?", string(entityType))
}

func (s *Store) list(ctx context.Context, tenantID, clause string, arg interface{}) ([]Entity, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE tenant_id = ? AND `+clause+` AND is_deleted = 0
		  AND (id, version) IN (
			SELECT id, MAX(version) FROM entities WHERE tenant_id = ? GROUP BY id
		  )
		ORDER BY created_at ASC, id ASC`,
		tenantID, arg, tenantID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query entities")
	}
	defer rows.Close()
	return collectEntities(rows)
}

// SoftDelete marks an entity deleted by appending a tombstone version.
// Deletion is refused with a conflict while live relations still reference
// the entity.
func (s *Store) SoftDelete(ctx context.Context, tenantID, id string) error {
	if err := errors.RequireTenant(tenantID); err != nil {
		return err
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	return db.WithRetry(ctx, s.retry, s.logger, func() error {
		current, err := s.Get(ctx, tenantID, id)
		if err != nil {
			return err
		}

		var refs int
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM relations
			WHERE tenant_id = ? AND (source_entity_id = ? OR target_entity_id = ?)`,
			tenantID, id, id,
		).Scan(&refs)
		if err != nil {
			return errors.Wrap(err, "count entity references")
		}
		if refs > 0 {
			return errors.Wrapf(errors.ErrConflict, "entity %s is referenced by %d relation(s)", id, refs)
		}

		tombstone := *current
		tombstone.Version = current.Version + 1
		tombstone.IsDeleted = true
		tombstone.UpdatedAt = time.Now().UTC()
		return s.insertRow(ctx, &tombstone)
	})
}

// findLiveByValue locates the latest live entity matching (type, normalized
// value) within a tenant.
func (s *Store) findLiveByValue(ctx context.Context, tenantID string, entityType Type, value string) (*Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE tenant_id = ? AND entity_type = ?
		  AND (id, version) IN (
			SELECT id, MAX(version) FROM entities WHERE tenant_id = ? GROUP BY id
		  )`,
		tenantID, string(entityType), tenantID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query entities by value")
	}
	defer rows.Close()

	want := NormalizeValue(value)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan entity")
		}
		if !e.IsDeleted && NormalizeValue(e.Value) == want {
			return e, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, errors.NewNotFoundError("entity with value %q", value)
}

func (s *Store) insertRow(ctx context.Context, e *Entity) error {
	attrsJSON, err := json.Marshal(e.Attributes)
	if err != nil {
		return errors.Wrap(err, "marshal attributes")
	}
	if e.Attributes == nil {
		attrsJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, version, tenant_id, entity_type, value, confidence,
			source_document_id, extraction_method, attributes, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Version, e.TenantID, string(e.Type), e.Value, e.Confidence,
		e.SourceDocumentID, e.ExtractionMethod, string(attrsJSON), e.IsDeleted, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert entity record")
	}
	return nil
}

func collectEntities(rows *sql.Rows) ([]Entity, error) {
	var results []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan entity")
		}
		results = append(results, *e)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var entityType string
	var attrsJSON string

	err := row.Scan(
		&e.ID, &e.Version, &e.TenantID, &entityType, &e.Value, &e.Confidence,
		&e.SourceDocumentID, &e.ExtractionMethod, &attrsJSON, &e.IsDeleted, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Type = Type(entityType)
	if attrsJSON != "" && attrsJSON != "{}" {
		if err := json.Unmarshal([]byte(attrsJSON), &e.Attributes); err != nil {
			return nil, errors.Wrap(err, "unmarshal attributes")
		}
	}
	return &e, nil
}
