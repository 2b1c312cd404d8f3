package provenance

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

const metadataColumns = `id, version, tenant_id, element_id, element_type,
	source_id, source_type, connector_name, ingestion_timestamp, text_context, span_start, span_end,
	confidence, extraction_method, is_verified, verified_by, verified_at, justification,
	dependencies, created_at, updated_at`

// Tracker is the SQLite-backed provenance tracker. Writes are serialized
// per tenant; records are append-only per (id, version).
type Tracker struct {
	db              *sql.DB
	logger          *zap.SugaredLogger
	retry           db.RetryPolicy
	defaultPageSize int
	maxLineageDepth int

	writeLocks sync.Map // tenantID -> *sync.Mutex
}

// TrackerOptions tunes paging and lineage bounds.
type TrackerOptions struct {
	DefaultPageSize int
	MaxLineageDepth int
}

// NewTracker creates a provenance tracker over the given database.
func NewTracker(database *sql.DB, retry db.RetryPolicy, opts TrackerOptions, logger *zap.SugaredLogger) *Tracker {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 50
	}
	if opts.MaxLineageDepth <= 0 {
		opts.MaxLineageDepth = 32
	}
	return &Tracker{
		db:              database,
		logger:          logger.Named("provenance"),
		retry:           retry,
		defaultPageSize: opts.DefaultPageSize,
		maxLineageDepth: opts.MaxLineageDepth,
	}
}

func (t *Tracker) tenantLock(tenantID string) *sync.Mutex {
	mu, _ := t.writeLocks.LoadOrStore(tenantID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Record persists a new provenance record. ID and version are assigned
// here; callers supply element reference, source, confidence, and
// dependencies.
func (t *Tracker) Record(ctx context.Context, tenantID string, md Metadata) (*Metadata, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if md.ElementID == "" {
		return nil, errors.NewValidationError("provenance element ID must not be empty")
	}
	if !IsValidElementType(md.ElementType) {
		return nil, errors.NewValidationError("unknown element type %q", md.ElementType)
	}
	if md.Confidence < 0 || md.Confidence > 1 {
		return nil, errors.NewValidationError("confidence %f out of range [0, 1]", md.Confidence)
	}

	now := time.Now().UTC()
	md.ID = "prov-" + uuid.NewString()
	md.TenantID = tenantID
	md.Version = 1
	md.CreatedAt = now
	md.UpdatedAt = now
	if md.Source.IngestionTimestamp.IsZero() {
		md.Source.IngestionTimestamp = now
	}

	mu := t.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	err := db.WithRetry(ctx, t.retry, t.logger, func() error {
		return t.insertRow(ctx, &md)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Debugw("Provenance recorded",
		"tenant", tenantID,
		"element", md.ElementID,
		"element_type", md.ElementType,
		"source", md.Source.SourceID,
	)
	return &md, nil
}

// RecordTripleProvenance records provenance for a stored triple.
func (t *Tracker) RecordTripleProvenance(ctx context.Context, tenantID, tripleID string, source SourceReference, confidence float64, method string, deps []Dependency) (*Metadata, error) {
	return t.Record(ctx, tenantID, Metadata{
		ElementID:        tripleID,
		ElementType:      ElementTriple,
		Source:           source,
		Confidence:       confidence,
		ExtractionMethod: method,
		Dependencies:     deps,
	})
}

// RecordEntityProvenance records provenance for an extracted entity.
func (t *Tracker) RecordEntityProvenance(ctx context.Context, tenantID, entityID string, source SourceReference, confidence float64, method string) (*Metadata, error) {
	return t.Record(ctx, tenantID, Metadata{
		ElementID:        entityID,
		ElementType:      ElementEntity,
		Source:           source,
		Confidence:       confidence,
		ExtractionMethod: method,
	})
}

// RecordRelationProvenance records provenance for an extracted relation,
// with its endpoint entities as dependencies.
func (t *Tracker) RecordRelationProvenance(ctx context.Context, tenantID, relationID string, source SourceReference, confidence float64, method string, sourceEntityID, targetEntityID string) (*Metadata, error) {
	deps := []Dependency{
		{DependencyID: sourceEntityID, DependencyType: ElementEntity, RelationshipType: "derived_from", Confidence: confidence},
		{DependencyID: targetEntityID, DependencyType: ElementEntity, RelationshipType: "derived_from", Confidence: confidence},
	}
	return t.Record(ctx, tenantID, Metadata{
		ElementID:        relationID,
		ElementType:      ElementRelation,
		Source:           source,
		Confidence:       confidence,
		ExtractionMethod: method,
		Dependencies:     deps,
	})
}

// Get returns the latest provenance record for an element.
func (t *Tracker) Get(ctx context.Context, tenantID, elementID string, elementType ElementType) (*Metadata, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	row := t.db.QueryRowContext(ctx, `
		SELECT `+metadataColumns+` FROM provenance
		WHERE tenant_id = ? AND element_id = ? AND element_type = ?
		ORDER BY version DESC, created_at DESC LIMIT 1`,
		tenantID, elementID, string(elementType),
	)
	md, err := scanMetadata(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("provenance for %s %s", elementType, elementID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load provenance")
	}
	return md, nil
}

// Verify marks an element's provenance as verified, appending a new version
// record. The prior unverified record remains queryable historically.
func (t *Tracker) Verify(ctx context.Context, tenantID, elementID string, elementType ElementType, verifiedBy, justification string) (*Metadata, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if verifiedBy == "" {
		return nil, errors.NewValidationError("verifiedBy must not be empty")
	}

	mu := t.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	current, err := t.Get(ctx, tenantID, elementID, elementType)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next := *current
	next.Version = current.Version + 1
	next.IsVerified = true
	next.VerifiedBy = verifiedBy
	next.VerifiedAt = &now
	next.Justification = justification
	next.UpdatedAt = now

	err = db.WithRetry(ctx, t.retry, t.logger, func() error {
		return t.insertRow(ctx, &next)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Infow("Element verified",
		"tenant", tenantID,
		"element", elementID,
		"element_type", elementType,
		"verified_by", verifiedBy,
		"version", next.Version,
	)
	return &next, nil
}

// History returns every provenance version record for an element, oldest
// first, including superseded versions.
func (t *Tracker) History(ctx context.Context, tenantID, elementID string, elementType ElementType) ([]Metadata, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT `+metadataColumns+` FROM provenance
		WHERE tenant_id = ? AND element_id = ? AND element_type = ?
		ORDER BY version ASC`,
		tenantID, elementID, string(elementType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query provenance history")
	}
	defer rows.Close()
	return collectMetadata(rows)
}

// ElementsFromSource returns the latest provenance record of every element
// ingested from the given source.
func (t *Tracker) ElementsFromSource(ctx context.Context, tenantID, sourceID, sourceType string) ([]Metadata, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT `+metadataColumns+` FROM provenance
		WHERE tenant_id = ? AND source_id = ? AND source_type = ?
		  AND (id, version) IN (
			SELECT id, MAX(version) FROM provenance WHERE tenant_id = ? GROUP BY id
		  )
		ORDER BY created_at DESC`,
		tenantID, sourceID, sourceType, tenantID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query elements by source")
	}
	defer rows.Close()
	return collectMetadata(rows)
}

// insertRow persists one provenance version record.
func (t *Tracker) insertRow(ctx context.Context, md *Metadata) error {
	depsJSON, err := json.Marshal(md.Dependencies)
	if err != nil {
		return errors.Wrap(err, "marshal dependencies")
	}

	var verifiedAt interface{}
	if md.VerifiedAt != nil {
		verifiedAt = md.VerifiedAt.UTC()
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO provenance (id, version, tenant_id, element_id, element_type,
			source_id, source_type, connector_name, ingestion_timestamp, text_context, span_start, span_end,
			confidence, extraction_method, is_verified, verified_by, verified_at, justification,
			dependencies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		md.ID, md.Version, md.TenantID, md.ElementID, string(md.ElementType),
		md.Source.SourceID, md.Source.SourceType, md.Source.ConnectorName,
		md.Source.IngestionTimestamp, md.Source.TextContext, md.Source.SpanStart, md.Source.SpanEnd,
		md.Confidence, md.ExtractionMethod, md.IsVerified, md.VerifiedBy, verifiedAt, md.Justification,
		string(depsJSON), md.CreatedAt, md.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert provenance record")
	}
	return nil
}

func collectMetadata(rows *sql.Rows) ([]Metadata, error) {
	var results []Metadata
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan provenance record")
		}
		results = append(results, *md)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMetadata(row rowScanner) (*Metadata, error) {
	var md Metadata
	var elementType string
	var ingestionTS sql.NullTime
	var verifiedAt sql.NullTime
	var depsJSON string

	err := row.Scan(
		&md.ID, &md.Version, &md.TenantID, &md.ElementID, &elementType,
		&md.Source.SourceID, &md.Source.SourceType, &md.Source.ConnectorName,
		&ingestionTS, &md.Source.TextContext, &md.Source.SpanStart, &md.Source.SpanEnd,
		&md.Confidence, &md.ExtractionMethod, &md.IsVerified, &md.VerifiedBy, &verifiedAt, &md.Justification,
		&depsJSON, &md.CreatedAt, &md.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	md.ElementType = ElementType(elementType)
	if ingestionTS.Valid {
		md.Source.IngestionTimestamp = ingestionTS.Time
	}
	if verifiedAt.Valid {
		ts := verifiedAt.Time
		md.VerifiedAt = &ts
	}
	if err := json.Unmarshal([]byte(depsJSON), &md.Dependencies); err != nil {
		return nil, errors.Wrap(err, "unmarshal dependencies")
	}
	return &md, nil
}
