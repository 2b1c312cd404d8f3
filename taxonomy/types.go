// Package taxonomy maintains a tenant-scoped hierarchy of typed nodes
// connected by typed relations, and resolves inheritance rules across it.
// Edges form a directed graph; the service prevents cycles through
// inheritance-propagating relation types at edge creation.
package taxonomy

import (
	"time"
)

// NodeType classifies a taxonomy node.
type NodeType string

const (
	NodeClass    NodeType = "class"
	NodeProperty NodeType = "property"
	NodeRelation NodeType = "relation"
	NodeCategory NodeType = "category"
	NodeInstance NodeType = "instance"
	NodeRule     NodeType = "rule"
	NodeDataType NodeType = "datatype"
)

// IsValidNodeType returns true for a known node type.
func IsValidNodeType(t NodeType) bool {
	switch t {
	case NodeClass, NodeProperty, NodeRelation, NodeCategory,
		NodeInstance, NodeRule, NodeDataType:
		return true
	default:
		return false
	}
}

// RelationType classifies a taxonomy edge. Propagating types carry
// inheritance from target (parent) to source (child) and must stay acyclic;
// associative types are exempt from cycle checks.
type RelationType string

const (
	RelationIsA        RelationType = "is_a"
	RelationSubclassOf RelationType = "subclass_of"
	RelationInstanceOf RelationType = "instance_of"
	RelationPartOf     RelationType = "part_of"
	RelationRelatedTo  RelationType = "related_to"
	RelationSeeAlso    RelationType = "see_also"
)

// IsPropagating reports whether an edge of this type carries inheritance
// and therefore participates in cycle detection.
func IsPropagating(t RelationType) bool {
	switch t {
	case RelationIsA, RelationSubclassOf, RelationInstanceOf, RelationPartOf:
		return true
	default:
		return false
	}
}

// Node is one taxonomy hierarchy vertex.
type Node struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	Name       string            `json:"name"`
	NodeType   NodeType          `json:"node_type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	IsDeleted  bool              `json:"is_deleted"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Relation is a directed edge from a source (child) node to a target
// (parent) node.
type Relation struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	SourceNodeID string       `json:"source_node_id"`
	TargetNodeID string       `json:"target_node_id"`
	Type         RelationType `json:"type"`
	CreatedAt    time.Time    `json:"created_at"`
}

// InheritanceRule declares that a property defined on a node propagates to
// its descendants through propagating edges.
type InheritanceRule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	// NodeTypeID is the node the rule is attached to.
	NodeTypeID        string `json:"node_type_id"`
	InheritedProperty string `json:"inherited_property"`
	// PropagationDirection is "down" (parent to child); no other direction
	// is currently supported.
	PropagationDirection string            `json:"propagation_direction"`
	Conditions           map[string]string `json:"conditions,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// ResolvedProperty is one inherited property after resolution: the winning
// rule, the ancestor it came from, and its distance from the resolved node.
type ResolvedProperty struct {
	Property     string          `json:"property"`
	Rule         InheritanceRule `json:"rule"`
	SourceNodeID string          `json:"source_node_id"`
	// Depth is the edge count from the resolved node; 0 is the node itself.
	Depth int `json:"depth"`
}
