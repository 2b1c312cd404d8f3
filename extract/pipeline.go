package extract

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tracelight/kgraph/entity"
	"github.com/tracelight/kgraph/errors"
	"github.com/tracelight/kgraph/provenance"
)

// RunState is the lifecycle state of one extraction run.
type RunState string

const (
	StatePending        RunState = "pending"
	StateRunning        RunState = "running"
	StateCompleted      RunState = "completed"
	StatePartialSuccess RunState = "partial_success"
	StateFailed         RunState = "failed"
)

// FailureReasonCancelled marks a run aborted by context cancellation.
const FailureReasonCancelled = "cancelled"

// Result reports one extraction run: its final state, the persisted
// entities, and any per-extractor failures.
type Result struct {
	State         RunState
	Entities      []entity.Entity
	Failures      []errors.ItemFailure
	FailureReason string
}

// PartialError returns the run's failures as a typed aggregate, or nil when
// every extractor succeeded.
func (r *Result) PartialError() *errors.PartialFailure {
	if len(r.Failures) == 0 {
		return nil
	}
	return &errors.PartialFailure{
		Operation: "extract",
		Succeeded: len(r.Entities),
		Failures:  r.Failures,
	}
}

// PipelineOptions tunes extraction concurrency and acceptance.
type PipelineOptions struct {
	// MaxConcurrentExtractors bounds extractor fan-out; <= 0 means 4.
	MaxConcurrentExtractors int
	// MinConfidence drops candidates below the threshold before
	// persistence.
	MinConfidence float64
}

// Pipeline runs registered extractors over ingestion input, deduplicates
// their candidates, and persists the survivors with provenance.
type Pipeline struct {
	store         *entity.Store
	provenance    *provenance.Tracker
	logger        *zap.SugaredLogger
	maxConcurrent int
	minConfidence float64

	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewPipeline creates an extraction pipeline with no extractors registered.
func NewPipeline(store *entity.Store, tracker *provenance.Tracker, opts PipelineOptions, logger *zap.SugaredLogger) *Pipeline {
	if opts.MaxConcurrentExtractors <= 0 {
		opts.MaxConcurrentExtractors = 4
	}
	return &Pipeline{
		store:         store,
		provenance:    tracker,
		logger:        logger.Named("extract"),
		maxConcurrent: opts.MaxConcurrentExtractors,
		minConfidence: opts.MinConfidence,
		extractors:    make(map[string]Extractor),
	}
}

// RegisterExtractor adds an extractor to the pipeline. Names must be unique.
func (p *Pipeline) RegisterExtractor(e Extractor) error {
	if e == nil || e.Name() == "" {
		return errors.NewValidationError("extractor must have a name")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.extractors[e.Name()]; exists {
		return errors.Wrapf(errors.ErrConflict, "extractor %q already registered", e.Name())
	}
	p.extractors[e.Name()] = e
	return nil
}

// GetRegisteredExtractors returns the registered extractor names, sorted.
func (p *Pipeline) GetRegisteredExtractors() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.extractors))
	for name := range p.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Process runs extractors over raw text. With no extractor names given,
// every registered extractor runs.
func (p *Pipeline) Process(ctx context.Context, tenantID, content, sourceID string, extractorNames ...string) (*Result, error) {
	if content == "" {
		return nil, errors.NewValidationError("content must not be empty")
	}
	return p.run(ctx, tenantID, Input{Text: content, SourceID: sourceID}, "document", extractorNames)
}

// ProcessStructuredData runs extractors over tabular field/value input.
func (p *Pipeline) ProcessStructuredData(ctx context.Context, tenantID string, fields map[string]string, sourceID string, extractorNames ...string) (*Result, error) {
	if len(fields) == 0 {
		return nil, errors.NewValidationError("field map must not be empty")
	}
	return p.run(ctx, tenantID, Input{Fields: fields, SourceID: sourceID}, "structured", extractorNames)
}

func (p *Pipeline) selectExtractors(names []string) ([]Extractor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(names) == 0 {
		selected := make([]Extractor, 0, len(p.extractors))
		for _, e := range p.extractors {
			selected = append(selected, e)
		}
		sort.Slice(selected, func(i, j int) bool { return selected[i].Name() < selected[j].Name() })
		return selected, nil
	}

	selected := make([]Extractor, 0, len(names))
	for _, name := range names {
		e, ok := p.extractors[name]
		if !ok {
			return nil, errors.NewNotFoundError("extractor %q", name)
		}
		selected = append(selected, e)
	}
	return selected, nil
}

func (p *Pipeline) run(ctx context.Context, tenantID string, input Input, sourceType string, extractorNames []string) (*Result, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	selected, err := p.selectExtractors(extractorNames)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, errors.NewValidationError("no extractors registered")
	}

	result := &Result{State: StateRunning}

	// Extractors run independently. A failing extractor is recorded and
	// isolated; it must never abort its siblings, so the group callback
	// always returns nil.
	var collectMu sync.Mutex
	var candidates []Candidate

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)
	for _, e := range selected {
		g.Go(func() error {
			found, err := e.Extract(gctx, input)

			collectMu.Lock()
			defer collectMu.Unlock()
			if err != nil {
				p.logger.Warnw("Extractor failed",
					"tenant", tenantID,
					"extractor", e.Name(),
					"error", err,
				)
				result.Failures = append(result.Failures, errors.ItemFailure{Item: e.Name(), Err: err})
				return nil
			}
			for i := range found {
				if found[i].extractorName == "" {
					found[i].extractorName = e.Name()
				}
			}
			candidates = append(candidates, found...)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		result.State = StateFailed
		result.FailureReason = FailureReasonCancelled
		return result, errors.Wrap(errors.ErrCancelled, "extraction run cancelled")
	}

	if len(result.Failures) == len(selected) {
		result.State = StateFailed
		return result, result.PartialError()
	}

	entities, err := p.persist(ctx, tenantID, input.SourceID, sourceType, dedupe(candidates, p.minConfidence))
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	result.Entities = entities

	if len(result.Failures) > 0 {
		result.State = StatePartialSuccess
	} else {
		result.State = StateCompleted
	}

	p.logger.Infow("Extraction run finished",
		"tenant", tenantID,
		"source", input.SourceID,
		"state", result.State,
		"entities", len(result.Entities),
		"failed_extractors", len(result.Failures),
	)
	return result, nil
}

// dedupe merges candidates sharing (type, normalized value): the highest
// confidence wins and attributes are unioned. Candidates below minConfidence
// are dropped after merging.
func dedupe(candidates []Candidate, minConfidence float64) []Candidate {
	merged := make(map[string]*Candidate)
	var order []string
	for _, c := range candidates {
		key := string(c.Type) + "\x00" + entity.NormalizeValue(c.Value)
		existing, ok := merged[key]
		if !ok {
			clone := c
			merged[key] = &clone
			order = append(order, key)
			continue
		}
		if c.Confidence > existing.Confidence {
			existing.Confidence = c.Confidence
			existing.Value = c.Value
			existing.SpanStart = c.SpanStart
			existing.SpanEnd = c.SpanEnd
			existing.extractorName = c.extractorName
		}
		for k, v := range c.Attributes {
			if existing.Attributes == nil {
				existing.Attributes = make(map[string]string)
			}
			existing.Attributes[k] = v
		}
	}

	result := make([]Candidate, 0, len(order))
	for _, key := range order {
		if merged[key].Confidence >= minConfidence {
			result = append(result, *merged[key])
		}
	}
	return result
}

func (p *Pipeline) persist(ctx context.Context, tenantID, sourceID, sourceType string, candidates []Candidate) ([]entity.Entity, error) {
	entities := make([]entity.Entity, 0, len(candidates))
	for _, c := range candidates {
		saved, err := p.store.Save(ctx, tenantID, entity.Entity{
			Type:             c.Type,
			Value:            c.Value,
			Confidence:       c.Confidence,
			SourceDocumentID: sourceID,
			ExtractionMethod: c.extractorName,
			Attributes:       c.Attributes,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "persist entity %q", c.Value)
		}

		_, err = p.provenance.Record(ctx, tenantID, provenance.Metadata{
			ElementID:   saved.ID,
			ElementType: provenance.ElementEntity,
			Source: provenance.SourceReference{
				SourceID:   sourceID,
				SourceType: sourceType,
				SpanStart:  c.SpanStart,
				SpanEnd:    c.SpanEnd,
			},
			Confidence:       c.Confidence,
			ExtractionMethod: c.extractorName,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "record provenance for entity %q", c.Value)
		}
		entities = append(entities, *saved)
	}
	return entities, nil
}
