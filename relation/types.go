// Package relation links extracted entities and maps accepted relations
// into triples for storage.
package relation

import (
	"time"
)

// Type is a well-known relation kind. Extractors may emit TypeCustom with a
// CustomName instead.
type Type string

const (
	TypeWorksAt   Type = "works_at"
	TypeLocatedIn Type = "located_in"
	TypePartOf    Type = "part_of"
	TypeOwns      Type = "owns"
	TypeFounded   Type = "founded"
	TypeRelatedTo Type = "related_to"
	TypeCustom    Type = "custom"
)

// Relation is one relation version record between two entities. Directional
// by default; a bidirectional relation is stored once with IsDirectional
// false rather than duplicated.
type Relation struct {
	ID             string  `json:"id"`
	TenantID       string  `json:"tenant_id"`
	SourceEntityID string  `json:"source_entity_id"`
	TargetEntityID string  `json:"target_entity_id"`
	Type           Type    `json:"type"`
	CustomName     string  `json:"custom_name,omitempty"`
	Confidence     float64 `json:"confidence"`
	IsDirectional  bool    `json:"is_directional"`
	// SourceContext is the text span the relation was extracted from.
	SourceContext string    `json:"source_context,omitempty"`
	IsVerified    bool      `json:"is_verified"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Name returns the relation's effective name: CustomName for custom
// relations, otherwise the type itself.
func (r *Relation) Name() string {
	if r.Type == TypeCustom && r.CustomName != "" {
		return r.CustomName
	}
	return string(r.Type)
}

// PredicateURI renders the relation as a predicate for triple mapping.
func (r *Relation) PredicateURI() string {
	return "kg://relations/" + r.Name()
}
