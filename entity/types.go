// Package entity stores extracted entities. Entities are versioned per
// (id, version): re-extraction appends a new version row rather than
// mutating in place, and deletion is a soft flag on a new version.
package entity

import (
	"strings"
	"time"
)

// Type classifies an extracted entity. Extractors may emit custom types;
// these are the ones the built-in extractors produce.
type Type string

const (
	TypePerson       Type = "person"
	TypeOrganization Type = "organization"
	TypeLocation     Type = "location"
	TypeEmail        Type = "email"
	TypeDate         Type = "date"
	TypeNumber       Type = "number"
	TypeField        Type = "field"
	TypeCustom       Type = "custom"
)

// Entity is one extracted entity version record.
type Entity struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	Type             Type              `json:"type"`
	Value            string            `json:"value"`
	Confidence       float64           `json:"confidence"`
	SourceDocumentID string            `json:"source_document_id,omitempty"`
	ExtractionMethod string            `json:"extraction_method,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	Version          int64             `json:"version"`
	IsDeleted        bool              `json:"is_deleted"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NormalizeValue canonicalizes an entity value for deduplication: lowercase,
// trimmed, internal whitespace collapsed.
func NormalizeValue(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// DedupeKey identifies entities that refer to the same thing within a
// tenant. Two entities with the same key are merged rather than duplicated.
func (e *Entity) DedupeKey() string {
	return string(e.Type) + "\x00" + NormalizeValue(e.Value)
}
