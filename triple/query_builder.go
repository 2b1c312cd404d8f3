package triple

import (
	"strings"
)

// queryBuilder accumulates SQL WHERE clauses and parameters for triple
// queries.
type queryBuilder struct {
	whereClauses []string
	args         []interface{}
}

// addClause appends a WHERE clause with its arguments.
func (qb *queryBuilder) addClause(clause string, args ...interface{}) {
	qb.whereClauses = append(qb.whereClauses, clause)
	qb.args = append(qb.args, args...)
}

// build returns the WHERE clauses joined with AND.
func (qb *queryBuilder) build() string {
	return strings.Join(qb.whereClauses, " AND ")
}

// buildPatternFilter adds clauses for the non-wildcard pattern fields.
func (qb *queryBuilder) buildPatternFilter(p Pattern) {
	if p.SubjectID != "" {
		qb.addClause("subject_id = ?", p.SubjectID)
	}
	if p.PredicateURI != "" {
		qb.addClause("predicate_uri = ?", p.PredicateURI)
	}
	if p.Object != "" {
		qb.addClause("object_value = ?", p.Object)
	}
	if p.GraphURI != "" {
		qb.addClause("graph_uri = ?", p.GraphURI)
	}
}

// buildSnapshotFilter adds the temporal visibility clause. Version 0 with
// pinned=true matches nothing (the empty graph); pinned=false means
// "latest".
func (qb *queryBuilder) buildSnapshotFilter(version int64, pinned bool) {
	if !pinned {
		qb.addClause("superseded_version IS NULL")
		return
	}
	qb.addClause("version <= ?", version)
	qb.addClause("(superseded_version IS NULL OR superseded_version > ?)", version)
}

// buildVisibilityFilter hides soft-deleted triples unless requested.
func (qb *queryBuilder) buildVisibilityFilter(includeDeleted bool) {
	if !includeDeleted {
		qb.addClause("is_deleted = 0")
	}
}
