// Package triple provides the append-only, versioned triple store. Facts
// are subject–predicate–object records scoped to a named graph and a
// tenant; mutations never overwrite version records in place.
package triple

import (
	"time"
)

// DefaultGraph is the named graph used when callers do not supply one.
const DefaultGraph = "kg://graphs/default"

// ChangeType records what kind of mutation produced a version record.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Object is a triple's object position: either a reference to another
// element by ID or a literal value.
type Object struct {
	Value     string
	IsLiteral bool
}

// Ref creates an object referencing another element by ID.
func Ref(id string) Object {
	return Object{Value: id}
}

// Literal creates a literal-valued object.
func Literal(v string) Object {
	return Object{Value: v, IsLiteral: true}
}

// Triple is one version record of a subject–predicate–object fact.
// Version records are append-only: a mutation appends a new record and
// closes the prior one (ValidTo, SupersededVersion); no other field is
// ever modified after insert.
type Triple struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	SubjectID         string     `json:"subject_id"`
	PredicateURI      string     `json:"predicate_uri"`
	Object            Object     `json:"object"`
	GraphURI          string     `json:"graph_uri"`
	Version           int64      `json:"version"`
	SupersededVersion *int64     `json:"superseded_version,omitempty"`
	ValidFrom         time.Time  `json:"valid_from"`
	ValidTo           *time.Time `json:"valid_to,omitempty"`
	ChangeType        ChangeType `json:"change_type"`
	IsDeleted         bool       `json:"is_deleted"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Key identifies a logical triple: the unit that Update and SoftDelete
// operate on. The object is not part of the key; updating a key replaces
// its object.
type Key struct {
	SubjectID    string
	PredicateURI string
	GraphURI     string
}

// normalized returns the key with the default graph filled in.
func (k Key) normalized() Key {
	if k.GraphURI == "" {
		k.GraphURI = DefaultGraph
	}
	return k
}

// Pattern is a query shape. Empty fields are wildcards.
type Pattern struct {
	SubjectID    string
	PredicateURI string
	Object       string
	GraphURI     string
}

// QueryOptions selects the snapshot and visibility for a query.
// Default is "latest, excluding soft-deleted triples".
type QueryOptions struct {
	// AsOfVersion selects the snapshot at an explicit version number.
	AsOfVersion *int64
	// AsOfTime selects the snapshot at a wall-clock instant. Ignored when
	// AsOfVersion is set.
	AsOfTime *time.Time
	// IncludeDeleted makes soft-deleted triples visible.
	IncludeDeleted bool
	// Limit caps the number of returned triples; 0 means no limit.
	Limit int
}
