package provenance

import (
	"context"

	"github.com/tracelight/kgraph/errors"
)

// lineageKey deduplicates visited elements during traversal.
type lineageKey struct {
	id          string
	elementType ElementType
}

// Lineage returns the element's derivation chain: a breadth-first walk of
// dependency edges, bounded by maxDepth. Dependency graphs may contain
// cycles; the visited set guarantees termination and deduplication rather
// than treating a cycle as fatal.
//
// The result is ordered nearest-first: the element itself, then its direct
// dependencies, then theirs. Dependencies with no recorded provenance are
// skipped.
func (t *Tracker) Lineage(ctx context.Context, tenantID, elementID string, elementType ElementType, maxDepth int) ([]Metadata, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if maxDepth < 0 {
		return nil, errors.NewValidationError("maxDepth must be non-negative, got %d", maxDepth)
	}
	if maxDepth > t.maxLineageDepth {
		maxDepth = t.maxLineageDepth
	}

	root, err := t.Get(ctx, tenantID, elementID, elementType)
	if err != nil {
		return nil, err
	}

	visited := map[lineageKey]bool{
		{elementID, elementType}: true,
	}
	result := []Metadata{*root}
	frontier := []*Metadata{root}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []*Metadata
		for _, md := range frontier {
			for _, dep := range md.Dependencies {
				key := lineageKey{dep.DependencyID, dep.DependencyType}
				if visited[key] {
					continue
				}
				visited[key] = true

				depMD, err := t.Get(ctx, tenantID, dep.DependencyID, dep.DependencyType)
				if errors.IsNotFoundError(err) {
					// Dangling dependency reference; lineage is best-effort.
					t.logger.Debugw("Lineage dependency has no provenance",
						"tenant", tenantID,
						"dependency", dep.DependencyID,
						"dependency_type", dep.DependencyType,
					)
					continue
				}
				if err != nil {
					return nil, err
				}
				result = append(result, *depMD)
				next = append(next, depMD)
			}
		}
		frontier = next
	}

	return result, nil
}
