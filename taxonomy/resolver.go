package taxonomy

import (
	"context"
	"sort"

	"github.com/tracelight/kgraph/errors"
)

// ResolveInheritance computes the node's effective inherited properties.
// It walks propagating edges upward breadth-first, collecting rules from the
// node itself and every reachable ancestor. When two ancestors define the
// same property, the nearest ancestor by edge count wins; at equal depth the
// rule with the earliest creation time wins.
//
// The result is a pure function of the current graph and rules: nothing is
// cached on nodes, and resolving twice against the same state yields
// identical output.
func (s *Service) ResolveInheritance(ctx context.Context, tenantID, nodeID string) ([]ResolvedProperty, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if _, err := s.GetNode(ctx, tenantID, nodeID); err != nil {
		return nil, err
	}

	// BFS upward assigns each ancestor its shortest edge-count depth. The
	// visited guard tolerates diamond-shaped hierarchies.
	type layer struct {
		id    string
		depth int
	}
	visited := map[string]bool{nodeID: true}
	order := []layer{{nodeID, 0}}
	frontier := []string{nodeID}
	depth := 0

	for len(frontier) > 0 {
		depth++
		var next []string
		for _, id := range frontier {
			parents, err := s.parentIDs(ctx, tenantID, id)
			if err != nil {
				return nil, err
			}
			for _, parentID := range parents {
				if visited[parentID] {
					continue
				}
				visited[parentID] = true
				order = append(order, layer{parentID, depth})
				next = append(next, parentID)
			}
		}
		frontier = next
	}

	// Collect each ancestor's rules with its depth attached.
	var resolved []ResolvedProperty
	for _, l := range order {
		rules, err := s.GetInheritanceRules(ctx, tenantID, l.id)
		if err != nil {
			return nil, err
		}
		for _, rule := range rules {
			resolved = append(resolved, ResolvedProperty{
				Property:     rule.InheritedProperty,
				Rule:         rule,
				SourceNodeID: l.id,
				Depth:        l.depth,
			})
		}
	}

	// Deterministic precedence: depth, then rule creation time, then id.
	sort.SliceStable(resolved, func(i, j int) bool {
		if resolved[i].Depth != resolved[j].Depth {
			return resolved[i].Depth < resolved[j].Depth
		}
		if !resolved[i].Rule.CreatedAt.Equal(resolved[j].Rule.CreatedAt) {
			return resolved[i].Rule.CreatedAt.Before(resolved[j].Rule.CreatedAt)
		}
		return resolved[i].Rule.ID < resolved[j].Rule.ID
	})

	// First occurrence of each property wins.
	seen := make(map[string]bool, len(resolved))
	winners := resolved[:0]
	for _, rp := range resolved {
		if seen[rp.Property] {
			continue
		}
		seen[rp.Property] = true
		winners = append(winners, rp)
	}
	return winners, nil
}
