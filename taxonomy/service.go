package taxonomy

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/errors"
)

const nodeColumns = `id, tenant_id, name, node_type, attributes, is_deleted, created_at, updated_at`

// Service is the SQLite-backed taxonomy service. Writes are serialized per
// tenant; reads run concurrently.
type Service struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	retry  db.RetryPolicy

	writeLocks sync.Map // tenantID -> *sync.Mutex
}

// NewService creates a taxonomy service over the given database.
func NewService(database *sql.DB, retry db.RetryPolicy, logger *zap.SugaredLogger) *Service {
	return &Service{
		db:     database,
		logger: logger.Named("taxonomy"),
		retry:  retry,
	}
}

func (s *Service) tenantLock(tenantID string) *sync.Mutex {
	mu, _ := s.writeLocks.LoadOrStore(tenantID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateNode persists a new taxonomy node and returns it.
func (s *Service) CreateNode(ctx context.Context, tenantID string, node Node) (*Node, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if node.Name == "" {
		return nil, errors.NewValidationError("node name must not be empty")
	}
	if !IsValidNodeType(node.NodeType) {
		return nil, errors.NewValidationError("unknown node type %q", node.NodeType)
	}

	now := time.Now().UTC()
	node.ID = "tax-" + uuid.NewString()
	node.TenantID = tenantID
	node.IsDeleted = false
	node.CreatedAt = now
	node.UpdatedAt = now

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	err := db.WithRetry(ctx, s.retry, s.logger, func() error {
		attrsJSON, err := marshalAttributes(node.Attributes)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO taxonomy_nodes (id, tenant_id, name, node_type, attributes, is_deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			node.ID, node.TenantID, node.Name, string(node.NodeType), attrsJSON, node.CreatedAt, node.UpdatedAt,
		)
		return errors.Wrap(err, "insert taxonomy node")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debugw("Taxonomy node created",
		"tenant", tenantID,
		"id", node.ID,
		"name", node.Name,
		"node_type", node.NodeType,
	)
	return &node, nil
}

// GetNode returns a node by id.
func (s *Service) GetNode(ctx context.Context, tenantID, id string) (*Node, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+nodeColumns+` FROM taxonomy_nodes
		WHERE tenant_id = ? AND id = ? AND is_deleted = 0`,
		tenantID, id,
	)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("taxonomy node %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load taxonomy node")
	}
	return node, nil
}

// UpdateNode changes a node's name and attributes.
func (s *Service) UpdateNode(ctx context.Context, tenantID, id, name string, attributes map[string]string) (*Node, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.NewValidationError("node name must not be empty")
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	var updated *Node
	err := db.WithRetry(ctx, s.retry, s.logger, func() error {
		node, err := s.GetNode(ctx, tenantID, id)
		if err != nil {
			return err
		}

		node.Name = name
		node.Attributes = attributes
		node.UpdatedAt = time.Now().UTC()

		attrsJSON, err := marshalAttributes(attributes)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE taxonomy_nodes SET name = ?, attributes = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ?`,
			name, attrsJSON, node.UpdatedAt, tenantID, id,
		)
		if err != nil {
			return errors.Wrap(err, "update taxonomy node")
		}
		updated = node
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteNode soft-deletes a node. Without recursive, a node that still has
// children is a conflict; with recursive, the node and every descendant
// through propagating edges is deleted, along with their edges.
func (s *Service) DeleteNode(ctx context.Context, tenantID, id string, recursive bool) error {
	if err := errors.RequireTenant(tenantID); err != nil {
		return err
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	return db.WithRetry(ctx, s.retry, s.logger, func() error {
		if _, err := s.GetNode(ctx, tenantID, id); err != nil {
			return err
		}

		ids := []string{id}
		if recursive {
			descendants, err := s.descendantIDs(ctx, tenantID, id)
			if err != nil {
				return err
			}
			ids = append(ids, descendants...)
		} else {
			children, err := s.childIDs(ctx, tenantID, id)
			if err != nil {
				return err
			}
			if len(children) > 0 {
				return errors.Wrapf(errors.ErrConflict,
					"taxonomy node %s has %d child node(s); delete recursively or detach first", id, len(children))
			}
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin delete tx")
		}
		defer tx.Rollback()

		now := time.Now().UTC()
		for _, nodeID := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE taxonomy_nodes SET is_deleted = 1, updated_at = ?
				WHERE tenant_id = ? AND id = ?`,
				now, tenantID, nodeID,
			); err != nil {
				return errors.Wrap(err, "delete taxonomy node")
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM taxonomy_relations
				WHERE tenant_id = ? AND (source_node_id = ? OR target_node_id = ?)`,
				tenantID, nodeID, nodeID,
			); err != nil {
				return errors.Wrap(err, "delete taxonomy edges")
			}
		}
		return errors.Wrap(tx.Commit(), "commit delete")
	})
}

// GetChildNodes returns a node's direct children, or its whole descendant
// set when recursive. Children point at the parent through propagating
// edges.
func (s *Service) GetChildNodes(ctx context.Context, tenantID, id string, recursive bool) ([]Node, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if _, err := s.GetNode(ctx, tenantID, id); err != nil {
		return nil, err
	}

	var ids []string
	var err error
	if recursive {
		ids, err = s.descendantIDs(ctx, tenantID, id)
	} else {
		ids, err = s.childIDs(ctx, tenantID, id)
	}
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(ids))
	for _, nodeID := range ids {
		node, err := s.GetNode(ctx, tenantID, nodeID)
		if errors.IsNotFoundError(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	return nodes, nil
}

// GetRootNodes returns nodes with no outgoing propagating edge.
func (s *Service) GetRootNodes(ctx context.Context, tenantID string) ([]Node, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	args := []interface{}{tenantID, tenantID}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM taxonomy_nodes n
		WHERE n.tenant_id = ? AND n.is_deleted = 0
		  AND NOT EXISTS (
			SELECT 1 FROM taxonomy_relations r
			WHERE r.tenant_id = ? AND r.source_node_id = n.id
			  AND r.relation_type IN (`+propagatingTypesSQL+`)
		  )
		ORDER BY n.name ASC`,
		args...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query root nodes")
	}
	defer rows.Close()
	return collectNodes(rows)
}

// childIDs returns ids of nodes with a propagating edge pointing at the
// parent.
func (s *Service) childIDs(ctx context.Context, tenantID, parentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_node_id FROM taxonomy_relations
		WHERE tenant_id = ? AND target_node_id = ?
		  AND relation_type IN (`+propagatingTypesSQL+`)
		ORDER BY created_at ASC`,
		tenantID, parentID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query child nodes")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan child id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// descendantIDs walks propagating edges downward from the node, breadth
// first, with a visited guard.
func (s *Service) descendantIDs(ctx context.Context, tenantID, id string) ([]string, error) {
	visited := map[string]bool{id: true}
	var result []string
	frontier := []string{id}

	for len(frontier) > 0 {
		var next []string
		for _, parentID := range frontier {
			children, err := s.childIDs(ctx, tenantID, parentID)
			if err != nil {
				return nil, err
			}
			for _, childID := range children {
				if visited[childID] {
					continue
				}
				visited[childID] = true
				result = append(result, childID)
				next = append(next, childID)
			}
		}
		frontier = next
	}
	return result, nil
}

func marshalAttributes(attrs map[string]string) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", errors.Wrap(err, "marshal attributes")
	}
	return string(data), nil
}

func collectNodes(rows *sql.Rows) ([]Node, error) {
	var results []Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan taxonomy node")
		}
		results = append(results, *node)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (*Node, error) {
	var node Node
	var nodeType string
	var attrsJSON string

	err := row.Scan(
		&node.ID, &node.TenantID, &node.Name, &nodeType, &attrsJSON,
		&node.IsDeleted, &node.CreatedAt, &node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	node.NodeType = NodeType(nodeType)
	if attrsJSON != "" && attrsJSON != "{}" {
		if err := json.Unmarshal([]byte(attrsJSON), &node.Attributes); err != nil {
			return nil, errors.Wrap(err, "unmarshal attributes")
		}
	}
	return &node, nil
}
