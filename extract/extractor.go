// Package extract orchestrates pluggable entity extractors over raw text or
// structured field/value input. Extractors run independently; one
// extractor's failure yields a partial-success run rather than aborting its
// siblings.
package extract

import (
	"context"

	"github.com/tracelight/kgraph/entity"
)

// Input is what an extractor sees: free text, structured fields, or both.
type Input struct {
	Text     string
	Fields   map[string]string
	SourceID string
}

// Candidate is an entity proposed by an extractor, before deduplication and
// persistence.
type Candidate struct {
	Type       entity.Type
	Value      string
	Confidence float64
	Attributes map[string]string
	// SpanStart/SpanEnd locate the match within the input text when the
	// extractor works on text.
	SpanStart int
	SpanEnd   int

	// extractorName is stamped by the pipeline for provenance.
	extractorName string
}

// Extractor is the shared extraction capability. Implementations must be
// stateless across calls and must not depend on another extractor's output.
type Extractor interface {
	// Name identifies the extractor in registration and run reports.
	Name() string
	Extract(ctx context.Context, input Input) ([]Candidate, error)
}
