// Package provenance records where every knowledge element came from, how
// confident the extractor was, whether a human verified it, and which other
// elements it was derived from. Records are append-only per (id, version).
package provenance

import (
	"time"
)

// ElementType identifies the kind of knowledge element a provenance record
// describes. The tracker holds a non-owning back-reference only; it never
// manages the element's lifecycle.
type ElementType string

const (
	ElementTriple         ElementType = "triple"
	ElementEntity         ElementType = "entity"
	ElementRelation       ElementType = "relation"
	ElementGraph          ElementType = "graph"
	ElementTaxonomyTerm   ElementType = "taxonomy_term"
	ElementDocument       ElementType = "document"
	ElementInference      ElementType = "inference"
	ElementAnnotation     ElementType = "annotation"
	ElementTransformation ElementType = "transformation"
	ElementCustom         ElementType = "custom"
)

// IsValidElementType returns true for a known element type.
func IsValidElementType(t ElementType) bool {
	switch t {
	case ElementTriple, ElementEntity, ElementRelation, ElementGraph,
		ElementTaxonomyTerm, ElementDocument, ElementInference,
		ElementAnnotation, ElementTransformation, ElementCustom:
		return true
	default:
		return false
	}
}

// SourceReference describes where an element was ingested from.
type SourceReference struct {
	SourceID           string    `json:"source_id"`
	SourceType         string    `json:"source_type"`
	ConnectorName      string    `json:"connector_name,omitempty"`
	IngestionTimestamp time.Time `json:"ingestion_timestamp"`
	// TextContext is the surrounding text the element was extracted from.
	TextContext string `json:"text_context,omitempty"`
	// SpanStart/SpanEnd locate the element within TextContext.
	SpanStart int `json:"span_start,omitempty"`
	SpanEnd   int `json:"span_end,omitempty"`
}

// Dependency is a directed derivation edge to another element. Dependency
// graphs may contain cycles (co-extracted elements can be mutually
// reinforcing); lineage traversal guards against them.
type Dependency struct {
	DependencyID     string      `json:"dependency_id"`
	DependencyType   ElementType `json:"dependency_type"`
	RelationshipType string      `json:"relationship_type"`
	Confidence       float64     `json:"confidence"`
}

// Metadata is one provenance version record for a knowledge element.
type Metadata struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenant_id"`
	ElementID        string          `json:"element_id"`
	ElementType      ElementType     `json:"element_type"`
	Source           SourceReference `json:"source"`
	Confidence       float64         `json:"confidence"`
	ExtractionMethod string          `json:"extraction_method,omitempty"`
	IsVerified       bool            `json:"is_verified"`
	VerifiedBy       string          `json:"verified_by,omitempty"`
	VerifiedAt       *time.Time      `json:"verified_at,omitempty"`
	Justification    string          `json:"justification,omitempty"`
	Version          int64           `json:"version"`
	Dependencies     []Dependency    `json:"dependencies,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Filter selects provenance records in QueryProvenance. Zero values are
// wildcards.
type Filter struct {
	ElementType   ElementType
	SourceID      string
	SourceType    string
	MinConfidence float64
	// Verified filters on verification state when non-nil.
	Verified *bool
	// CreatedAfter/CreatedBefore bound the creation time.
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// DependencyID matches records that depend on the given element.
	DependencyID string
	// SortBy is one of "created_at", "updated_at", "confidence".
	// Default: created_at.
	SortBy string
	// SortAscending flips the default descending order.
	SortAscending bool
	Limit         int
	Offset        int
}

// Page is one page of provenance query results.
type Page struct {
	Records []Metadata `json:"records"`
	// Total is the number of records matching the filter, ignoring paging.
	Total int `json:"total"`
}
