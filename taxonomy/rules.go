package taxonomy

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/errors"
)

const ruleColumns = `id, tenant_id, node_type_id, inherited_property, propagation_direction, conditions, created_at, updated_at`

// PropagationDown is the only supported propagation direction: parent to
// child.
const PropagationDown = "down"

// CreateInheritanceRule attaches an inheritance rule to a node.
func (s *Service) CreateInheritanceRule(ctx context.Context, tenantID string, rule InheritanceRule) (*InheritanceRule, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if rule.NodeTypeID == "" {
		return nil, errors.NewValidationError("rule must reference a node")
	}
	if rule.InheritedProperty == "" {
		return nil, errors.NewValidationError("rule must name an inherited property")
	}
	if rule.PropagationDirection == "" {
		rule.PropagationDirection = PropagationDown
	}
	if rule.PropagationDirection != PropagationDown {
		return nil, errors.NewValidationError("unsupported propagation direction %q", rule.PropagationDirection)
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	var created *InheritanceRule
	err := db.WithRetry(ctx, s.retry, s.logger, func() error {
		if _, err := s.GetNode(ctx, tenantID, rule.NodeTypeID); err != nil {
			return err
		}

		now := time.Now().UTC()
		rule.ID = "txl-" + uuid.NewString()
		rule.TenantID = tenantID
		rule.CreatedAt = now
		rule.UpdatedAt = now

		condJSON, err := marshalAttributes(rule.Conditions)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO taxonomy_rules (id, tenant_id, node_type_id, inherited_property, propagation_direction, conditions, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.ID, rule.TenantID, rule.NodeTypeID, rule.InheritedProperty,
			rule.PropagationDirection, condJSON, rule.CreatedAt, rule.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert inheritance rule")
		}
		created = &rule
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debugw("Inheritance rule created",
		"tenant", tenantID,
		"id", created.ID,
		"node", created.NodeTypeID,
		"property", created.InheritedProperty,
	)
	return created, nil
}

// UpdateInheritanceRule changes a rule's property and conditions. The
// creation timestamp is preserved; it participates in conflict tie-breaks.
func (s *Service) UpdateInheritanceRule(ctx context.Context, tenantID, id, inheritedProperty string, conditions map[string]string) (*InheritanceRule, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if inheritedProperty == "" {
		return nil, errors.NewValidationError("rule must name an inherited property")
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	var updated *InheritanceRule
	err := db.WithRetry(ctx, s.retry, s.logger, func() error {
		rule, err := s.getRule(ctx, tenantID, id)
		if err != nil {
			return err
		}

		rule.InheritedProperty = inheritedProperty
		rule.Conditions = conditions
		rule.UpdatedAt = time.Now().UTC()

		condJSON, err := marshalAttributes(conditions)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE taxonomy_rules SET inherited_property = ?, conditions = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ?`,
			inheritedProperty, condJSON, rule.UpdatedAt, tenantID, id,
		)
		if err != nil {
			return errors.Wrap(err, "update inheritance rule")
		}
		updated = rule
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteInheritanceRule removes a rule.
func (s *Service) DeleteInheritanceRule(ctx context.Context, tenantID, id string) error {
	if err := errors.RequireTenant(tenantID); err != nil {
		return err
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	return db.WithRetry(ctx, s.retry, s.logger, func() error {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM taxonomy_rules WHERE tenant_id = ? AND id = ?",
			tenantID, id,
		)
		if err != nil {
			return errors.Wrap(err, "delete inheritance rule")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "delete inheritance rule")
		}
		if affected == 0 {
			return errors.NewNotFoundError("inheritance rule %s", id)
		}
		return nil
	})
}

// GetInheritanceRules returns the rules attached to a node, oldest first.
func (s *Service) GetInheritanceRules(ctx context.Context, tenantID, nodeTypeID string) ([]InheritanceRule, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM taxonomy_rules
		WHERE tenant_id = ? AND node_type_id = ?
		ORDER BY created_at ASC, id ASC`,
		tenantID, nodeTypeID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query inheritance rules")
	}
	defer rows.Close()
	return collectRules(rows)
}

func (s *Service) getRule(ctx context.Context, tenantID, id string) (*InheritanceRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+` FROM taxonomy_rules
		WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("inheritance rule %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load inheritance rule")
	}
	return rule, nil
}

func collectRules(rows *sql.Rows) ([]InheritanceRule, error) {
	var results []InheritanceRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan inheritance rule")
		}
		results = append(results, *rule)
	}
	return results, rows.Err()
}

func scanRule(row rowScanner) (*InheritanceRule, error) {
	var rule InheritanceRule
	var condJSON string

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.NodeTypeID, &rule.InheritedProperty,
		&rule.PropagationDirection, &condJSON, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if condJSON != "" && condJSON != "{}" {
		if err := json.Unmarshal([]byte(condJSON), &rule.Conditions); err != nil {
			return nil, errors.Wrap(err, "unmarshal conditions")
		}
	}
	return &rule, nil
}
