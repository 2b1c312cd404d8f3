package relation

import (
	"context"

	"go.uber.org/zap"

	"github.com/tracelight/kgraph/errors"
	"github.com/tracelight/kgraph/provenance"
	"github.com/tracelight/kgraph/triple"
)

// Mapper converts accepted relations into triples: subject is the source
// entity, predicate the relation's URI, object the target entity. Each
// mapped triple gets a provenance record carrying the relation as a
// dependency.
type Mapper struct {
	relations  *Store
	triples    *triple.Store
	provenance *provenance.Tracker
	logger     *zap.SugaredLogger
}

// NewMapper creates a relation-to-triple mapper.
func NewMapper(relations *Store, triples *triple.Store, tracker *provenance.Tracker, logger *zap.SugaredLogger) *Mapper {
	return &Mapper{
		relations:  relations,
		triples:    triples,
		provenance: tracker,
		logger:     logger.Named("relation.mapper"),
	}
}

// MapAndStore persists a relation and its triple projection. An empty
// graphURI maps into the default graph. Re-mapping an already-live fact is
// idempotent: the existing triple is returned and no duplicate relation row
// is written.
func (m *Mapper) MapAndStore(ctx context.Context, tenantID string, r Relation, graphURI string) (*triple.Triple, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	if r.SourceEntityID != "" && r.TargetEntityID != "" {
		existing, err := m.liveTriple(ctx, tenantID, &r, graphURI)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			m.logger.Debugw("Relation already mapped",
				"tenant", tenantID,
				"subject", r.SourceEntityID,
				"predicate", r.PredicateURI(),
				"triple", existing.ID,
			)
			return existing, nil
		}
	}

	saved, err := m.relations.Save(ctx, tenantID, r)
	if err != nil {
		return nil, err
	}

	// The relation's provenance is recorded before the triple projection, so
	// no persisted relation is ever left without a provenance record.
	_, err = m.provenance.RecordRelationProvenance(ctx, tenantID, saved.ID, provenance.SourceReference{
		SourceID:    saved.ID,
		SourceType:  "relation",
		TextContext: saved.SourceContext,
	}, saved.Confidence, "relation-mapper", saved.SourceEntityID, saved.TargetEntityID)
	if err != nil {
		return nil, errors.Wrapf(err, "record provenance for relation %s", saved.ID)
	}

	key := triple.Key{
		SubjectID:    saved.SourceEntityID,
		PredicateURI: saved.PredicateURI(),
		GraphURI:     graphURI,
	}
	stored, err := m.triples.Insert(ctx, tenantID, key, triple.Object{Value: saved.TargetEntityID})
	if err != nil {
		return nil, errors.Wrapf(err, "map relation %s to triple", saved.ID)
	}

	deps := []provenance.Dependency{{
		DependencyID:     saved.ID,
		DependencyType:   provenance.ElementRelation,
		RelationshipType: "derived_from",
		Confidence:       saved.Confidence,
	}}
	_, err = m.provenance.RecordTripleProvenance(ctx, tenantID, stored.ID, provenance.SourceReference{
		SourceID:    saved.ID,
		SourceType:  "relation",
		TextContext: saved.SourceContext,
	}, saved.Confidence, "relation-mapper", deps)
	if err != nil {
		return nil, errors.Wrapf(err, "record provenance for triple %s", stored.ID)
	}

	m.logger.Debugw("Relation mapped",
		"tenant", tenantID,
		"relation", saved.ID,
		"triple", stored.ID,
		"predicate", key.PredicateURI,
	)
	return stored, nil
}

// liveTriple returns the live triple already projecting the relation's fact,
// or nil when the fact is not yet stored.
func (m *Mapper) liveTriple(ctx context.Context, tenantID string, r *Relation, graphURI string) (*triple.Triple, error) {
	if graphURI == "" {
		graphURI = triple.DefaultGraph
	}
	matches, err := m.triples.Query(ctx, tenantID, triple.Pattern{
		SubjectID:    r.SourceEntityID,
		PredicateURI: r.PredicateURI(),
		Object:       r.TargetEntityID,
		GraphURI:     graphURI,
	}, triple.QueryOptions{Limit: 1})
	if err != nil {
		return nil, errors.Wrap(err, "check for existing triple")
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// MapAndStoreBatch maps a batch of relations, isolating per-relation
// failures. It returns the count persisted; when any relation failed, the
// returned error is a partial-failure aggregate itemizing them.
func (m *Mapper) MapAndStoreBatch(ctx context.Context, tenantID string, rels []Relation, graphURI string) (int, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return 0, err
	}

	var failures []errors.ItemFailure
	persisted := 0
	for _, r := range rels {
		if ctx.Err() != nil {
			return persisted, errors.Wrap(errors.ErrCancelled, "batch mapping cancelled")
		}
		if _, err := m.MapAndStore(ctx, tenantID, r, graphURI); err != nil {
			m.logger.Warnw("Relation mapping failed",
				"tenant", tenantID,
				"source", r.SourceEntityID,
				"target", r.TargetEntityID,
				"error", err,
			)
			failures = append(failures, errors.ItemFailure{
				Item: r.SourceEntityID + "->" + r.TargetEntityID,
				Err:  err,
			})
			continue
		}
		persisted++
	}

	if len(failures) > 0 {
		return persisted, &errors.PartialFailure{
			Operation: "map relations",
			Succeeded: persisted,
			Failures:  failures,
		}
	}
	return persisted, nil
}
