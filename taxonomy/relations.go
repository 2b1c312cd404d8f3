package taxonomy

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/errors"
)

// propagatingTypesSQL is the IN-list of inheritance-propagating relation
// types, kept in sync with IsPropagating.
const propagatingTypesSQL = `'is_a', 'subclass_of', 'instance_of', 'part_of'`

// CreateRelation persists a taxonomy edge. For inheritance-propagating
// relation types it first runs cycle detection: an edge that would close a
// cycle through propagating edges fails with a cycle error and persists
// nothing. Associative types are exempt.
func (s *Service) CreateRelation(ctx context.Context, tenantID string, rel Relation) (*Relation, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if rel.SourceNodeID == "" || rel.TargetNodeID == "" {
		return nil, errors.NewValidationError("relation endpoints must not be empty")
	}
	if rel.Type == "" {
		return nil, errors.NewValidationError("relation type must not be empty")
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	var created *Relation
	err := db.WithRetry(ctx, s.retry, s.logger, func() error {
		if _, err := s.GetNode(ctx, tenantID, rel.SourceNodeID); err != nil {
			return err
		}
		if _, err := s.GetNode(ctx, tenantID, rel.TargetNodeID); err != nil {
			return err
		}

		if IsPropagating(rel.Type) {
			if rel.SourceNodeID == rel.TargetNodeID {
				return errors.Wrapf(errors.ErrCycleDetected,
					"%s edge from %s to itself", rel.Type, rel.SourceNodeID)
			}
			// The new edge makes target an ancestor of source. If source is
			// already an ancestor of target, the edge closes a cycle.
			reachable, err := s.isAncestor(ctx, tenantID, rel.TargetNodeID, rel.SourceNodeID)
			if err != nil {
				return err
			}
			if reachable {
				return errors.Wrapf(errors.ErrCycleDetected,
					"%s edge %s -> %s would close a cycle",
					rel.Type, rel.SourceNodeID, rel.TargetNodeID)
			}
		}

		rel.ID = "txr-" + uuid.NewString()
		rel.TenantID = tenantID
		rel.CreatedAt = time.Now().UTC()

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO taxonomy_relations (id, tenant_id, source_node_id, target_node_id, relation_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rel.ID, rel.TenantID, rel.SourceNodeID, rel.TargetNodeID, string(rel.Type), rel.CreatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert taxonomy relation")
		}
		created = &rel
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debugw("Taxonomy relation created",
		"tenant", tenantID,
		"id", created.ID,
		"source", created.SourceNodeID,
		"target", created.TargetNodeID,
		"relation_type", created.Type,
	)
	return created, nil
}

// DeleteRelation removes a taxonomy edge.
func (s *Service) DeleteRelation(ctx context.Context, tenantID, id string) error {
	if err := errors.RequireTenant(tenantID); err != nil {
		return err
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	return db.WithRetry(ctx, s.retry, s.logger, func() error {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM taxonomy_relations WHERE tenant_id = ? AND id = ?",
			tenantID, id,
		)
		if err != nil {
			return errors.Wrap(err, "delete taxonomy relation")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "delete taxonomy relation")
		}
		if affected == 0 {
			return errors.NewNotFoundError("taxonomy relation %s", id)
		}
		return nil
	})
}

// GetRelations returns the node's edges in the given direction: "out"
// (node as source), "in" (node as target), or "both".
func (s *Service) GetRelations(ctx context.Context, tenantID, nodeID, direction string) ([]Relation, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	var clause string
	args := []interface{}{tenantID}
	switch direction {
	case "out":
		clause = "source_node_id = ?"
		args = append(args, nodeID)
	case "in":
		clause = "target_node_id = ?"
		args = append(args, nodeID)
	case "both", "":
		clause = "(source_node_id = ? OR target_node_id = ?)"
		args = append(args, nodeID, nodeID)
	default:
		return nil, errors.NewValidationError("unknown direction %q", direction)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, source_node_id, target_node_id, relation_type, created_at
		FROM taxonomy_relations
		WHERE tenant_id = ? AND `+clause+`
		ORDER BY created_at ASC`,
		args...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query taxonomy relations")
	}
	defer rows.Close()
	return collectRelations(rows)
}

// isAncestor reports whether candidate is reachable from nodeID by walking
// propagating edges upward (source to target).
func (s *Service) isAncestor(ctx context.Context, tenantID, nodeID, candidate string) (bool, error) {
	visited := map[string]bool{nodeID: true}
	frontier := []string{nodeID}

	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			parents, err := s.parentIDs(ctx, tenantID, id)
			if err != nil {
				return false, err
			}
			for _, parentID := range parents {
				if parentID == candidate {
					return true, nil
				}
				if visited[parentID] {
					continue
				}
				visited[parentID] = true
				next = append(next, parentID)
			}
		}
		frontier = next
	}
	return false, nil
}

// parentIDs returns the targets of the node's outgoing propagating edges.
func (s *Service) parentIDs(ctx context.Context, tenantID, nodeID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_node_id FROM taxonomy_relations
		WHERE tenant_id = ? AND source_node_id = ?
		  AND relation_type IN (`+propagatingTypesSQL+`)
		ORDER BY created_at ASC`,
		tenantID, nodeID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query parent nodes")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan parent id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectRelations(rows *sql.Rows) ([]Relation, error) {
	var results []Relation
	for rows.Next() {
		var rel Relation
		var relType string
		if err := rows.Scan(&rel.ID, &rel.TenantID, &rel.SourceNodeID, &rel.TargetNodeID, &relType, &rel.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan taxonomy relation")
		}
		rel.Type = RelationType(relType)
		results = append(results, rel)
	}
	return results, rows.Err()
}
