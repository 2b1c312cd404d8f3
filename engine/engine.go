// Package engine wires the knowledge graph components into one facade:
// extraction feeds entities, relation mapping links them and projects the
// accepted relations into versioned triples, with provenance recorded at
// every step.
package engine

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/tracelight/kgraph/config"
	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/entity"
	"github.com/tracelight/kgraph/errors"
	"github.com/tracelight/kgraph/extract"
	"github.com/tracelight/kgraph/graph"
	"github.com/tracelight/kgraph/provenance"
	"github.com/tracelight/kgraph/relation"
	"github.com/tracelight/kgraph/taxonomy"
	"github.com/tracelight/kgraph/triple"
	"github.com/tracelight/kgraph/versioning"
)

// Engine bundles the knowledge graph components over one database.
type Engine struct {
	Versions   *versioning.Manager
	Triples    *triple.Store
	Provenance *provenance.Tracker
	Entities   *entity.Store
	Relations  *relation.Store
	Pipeline   *extract.Pipeline
	Mapper     *relation.Mapper
	Taxonomy   *taxonomy.Service
	Graph      *graph.Builder

	relationExtractors []relation.Extractor
	logger             *zap.SugaredLogger
}

// New wires an engine from configuration. The built-in entity and relation
// extractors are registered; callers may register more.
func New(database *sql.DB, cfg *config.Config, logger *zap.SugaredLogger) (*Engine, error) {
	retry := db.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     time.Duration(cfg.Retry.BackoffMS) * time.Millisecond,
	}

	versions := versioning.NewManager(database, logger)
	triples := triple.NewStore(database, versions, retry, logger)
	tracker := provenance.NewTracker(database, retry, provenance.TrackerOptions{
		DefaultPageSize: cfg.Provenance.DefaultPageSize,
		MaxLineageDepth: cfg.Provenance.MaxLineageDepth,
	}, logger)
	entities := entity.NewStore(database, retry, logger)
	relations := relation.NewStore(database, retry, logger)

	pipeline := extract.NewPipeline(entities, tracker, extract.PipelineOptions{
		MaxConcurrentExtractors: cfg.Extraction.MaxConcurrentExtractors,
		MinConfidence:           cfg.Extraction.MinConfidence,
	}, logger)
	for _, e := range extract.BuiltinExtractors() {
		if err := pipeline.RegisterExtractor(e); err != nil {
			return nil, err
		}
	}

	eng := &Engine{
		Versions:   versions,
		Triples:    triples,
		Provenance: tracker,
		Entities:   entities,
		Relations:  relations,
		Pipeline:   pipeline,
		Mapper:     relation.NewMapper(relations, triples, tracker, logger),
		Taxonomy:   taxonomy.NewService(database, retry, logger),
		Graph:      graph.NewBuilder(triples, logger),
		relationExtractors: []relation.Extractor{
			relation.NewPatternExtractor(cfg.Relation.MaxTokenDistance, cfg.Relation.MinConfidence),
			relation.NewCooccurrenceExtractor(cfg.Relation.MaxTokenDistance, cfg.Relation.MinConfidence),
		},
		logger: logger.Named("engine"),
	}
	return eng, nil
}

// RegisterRelationExtractor adds a relation extractor to the ingestion flow.
func (e *Engine) RegisterRelationExtractor(ex relation.Extractor) {
	e.relationExtractors = append(e.relationExtractors, ex)
}

// IngestResult reports one ingestion run end to end.
type IngestResult struct {
	State              extract.RunState
	Entities           []entity.Entity
	RelationsPersisted int
	// ExtractorFailures itemizes entity extractors that failed.
	ExtractorFailures []errors.ItemFailure
	// RelationFailures itemizes relations that could not be mapped.
	RelationFailures []errors.ItemFailure
}

// IngestText runs the full pipeline over raw text: entity extraction,
// relation extraction across the extracted entities, and relation-to-triple
// mapping. Failures at any stage are isolated per item; the result's state
// reflects whether everything, something, or nothing succeeded.
func (e *Engine) IngestText(ctx context.Context, tenantID, content, sourceID, graphURI string) (*IngestResult, error) {
	extracted, err := e.Pipeline.Process(ctx, tenantID, content, sourceID)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{
		State:             extracted.State,
		Entities:          extracted.Entities,
		ExtractorFailures: extracted.Failures,
	}

	var candidates []relation.Candidate
	for _, ex := range e.relationExtractors {
		found, err := ex.ExtractRelations(ctx, content, extracted.Entities)
		if err != nil {
			e.logger.Warnw("Relation extractor failed",
				"tenant", tenantID,
				"extractor", ex.Name(),
				"error", err,
			)
			result.RelationFailures = append(result.RelationFailures,
				errors.ItemFailure{Item: ex.Name(), Err: err})
			result.State = extract.StatePartialSuccess
			continue
		}
		candidates = append(candidates, found...)
	}

	rels := make([]relation.Relation, 0, len(candidates))
	for _, c := range dedupeRelationCandidates(candidates) {
		rels = append(rels, relation.Relation{
			SourceEntityID: c.SourceEntityID,
			TargetEntityID: c.TargetEntityID,
			Type:           c.Type,
			CustomName:     c.CustomName,
			Confidence:     c.Confidence,
			IsDirectional:  c.IsDirectional,
			SourceContext:  c.SourceContext,
		})
	}

	persisted, err := e.Mapper.MapAndStoreBatch(ctx, tenantID, rels, graphURI)
	result.RelationsPersisted = persisted
	if err != nil {
		if partial, ok := errors.IsPartialFailure(err); ok {
			result.RelationFailures = append(result.RelationFailures, partial.Failures...)
			result.State = extract.StatePartialSuccess
		} else {
			return result, err
		}
	}

	e.logger.Infow("Ingestion finished",
		"tenant", tenantID,
		"source", sourceID,
		"state", result.State,
		"entities", len(result.Entities),
		"relations", result.RelationsPersisted,
	)
	return result, nil
}

// IngestStructured runs entity extraction over structured field/value input.
// Relation extraction needs running text, so structured ingestion stops at
// entities.
func (e *Engine) IngestStructured(ctx context.Context, tenantID string, fields map[string]string, sourceID string) (*IngestResult, error) {
	extracted, err := e.Pipeline.ProcessStructuredData(ctx, tenantID, fields, sourceID)
	if err != nil {
		return nil, err
	}
	return &IngestResult{
		State:             extracted.State,
		Entities:          extracted.Entities,
		ExtractorFailures: extracted.Failures,
	}, nil
}

// dedupeRelationCandidates keeps the highest-confidence candidate per
// (source, target, type) so overlapping extractors do not duplicate facts.
func dedupeRelationCandidates(candidates []relation.Candidate) []relation.Candidate {
	type key struct {
		source, target string
		relType        relation.Type
		custom         string
	}
	best := make(map[key]relation.Candidate)
	var order []key
	for _, c := range candidates {
		k := key{c.SourceEntityID, c.TargetEntityID, c.Type, c.CustomName}
		existing, ok := best[k]
		if !ok {
			best[k] = c
			order = append(order, k)
			continue
		}
		if c.Confidence > existing.Confidence {
			best[k] = c
		}
	}
	result := make([]relation.Candidate, 0, len(order))
	for _, k := range order {
		result = append(result, best[k])
	}
	return result
}
