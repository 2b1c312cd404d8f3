package provenance

import (
	"context"
	"strings"

	"github.com/tracelight/kgraph/errors"
)

// queryBuilder accumulates SQL WHERE clauses and parameters for provenance
// queries.
type queryBuilder struct {
	whereClauses []string
	args         []interface{}
}

func (qb *queryBuilder) addClause(clause string, args ...interface{}) {
	qb.whereClauses = append(qb.whereClauses, clause)
	qb.args = append(qb.args, args...)
}

func (qb *queryBuilder) build() string {
	return strings.Join(qb.whereClauses, " AND ")
}

// buildFilter translates a Filter into WHERE clauses. The dependency filter
// matches inside the JSON dependencies column.
func (qb *queryBuilder) buildFilter(f Filter) {
	if f.ElementType != "" {
		qb.addClause("element_type = ?", string(f.ElementType))
	}
	if f.SourceID != "" {
		qb.addClause("source_id = ?", f.SourceID)
	}
	if f.SourceType != "" {
		qb.addClause("source_type = ?", f.SourceType)
	}
	if f.MinConfidence > 0 {
		qb.addClause("confidence >= ?", f.MinConfidence)
	}
	if f.Verified != nil {
		qb.addClause("is_verified = ?", *f.Verified)
	}
	if f.CreatedAfter != nil {
		qb.addClause("created_at >= ?", f.CreatedAfter.UTC())
	}
	if f.CreatedBefore != nil {
		qb.addClause("created_at <= ?", f.CreatedBefore.UTC())
	}
	if f.DependencyID != "" {
		qb.addClause("dependencies LIKE ? ESCAPE '\\'", `%"dependency_id":"`+escapeLikePattern(f.DependencyID)+`"%`)
	}
}

// escapeLikePattern escapes special characters in LIKE patterns for the SQL
// ESCAPE clause.
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

// sortColumn whitelists sortable columns; anything else falls back to
// created_at.
func sortColumn(sortBy string) string {
	switch sortBy {
	case "updated_at":
		return "updated_at"
	case "confidence":
		return "confidence"
	default:
		return "created_at"
	}
}

// Query returns a page of the latest provenance records matching the
// filter. Default sort is created_at descending.
func (t *Tracker) Query(ctx context.Context, tenantID string, f Filter) (*Page, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if f.MinConfidence < 0 || f.MinConfidence > 1 {
		return nil, errors.NewValidationError("confidence %f out of range [0, 1]", f.MinConfidence)
	}

	qb := &queryBuilder{}
	qb.addClause("tenant_id = ?", tenantID)
	// Only the latest version of each record participates in queries.
	qb.addClause(`(id, version) IN (
		SELECT id, MAX(version) FROM provenance WHERE tenant_id = ? GROUP BY id
	)`, tenantID)
	qb.buildFilter(f)

	where := qb.build()

	var total int
	if err := t.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM provenance WHERE "+where, qb.args...,
	).Scan(&total); err != nil {
		return nil, errors.Wrap(err, "count provenance records")
	}

	direction := "DESC"
	if f.SortAscending {
		direction = "ASC"
	}
	query := "SELECT " + metadataColumns + " FROM provenance WHERE " + where +
		" ORDER BY " + sortColumn(f.SortBy) + " " + direction

	args := qb.args
	limit := f.Limit
	if limit <= 0 {
		limit = t.defaultPageSize
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query provenance records")
	}
	defer rows.Close()

	records, err := collectMetadata(rows)
	if err != nil {
		return nil, err
	}
	return &Page{Records: records, Total: total}, nil
}
