// Package graph builds a read-only projection of the current triple state
// for reporting and visualization consumers. It never mutates the store.
package graph

import (
	"time"
)

// Graph is the projected graph structure.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
	Meta  Meta   `json:"meta"`
}

// Node is one entity in the projection.
type Node struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"label"`
	// Metadata carries literal-object facts attached to the node.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Link is a relationship between two nodes. Weight accumulates when the
// same (source, type, target) fact appears more than once.
type Link struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Type   string  `json:"type"`
	Weight float64 `json:"value"`
}

// Meta describes the projected graph.
type Meta struct {
	GeneratedAt time.Time         `json:"generated_at"`
	GraphURI    string            `json:"graph_uri"`
	AsOfVersion *int64            `json:"as_of_version,omitempty"`
	Stats       Stats             `json:"stats"`
	NodeTypes   []NodeTypeInfo    `json:"node_types"`
	LinkTypes   []LinkTypeInfo    `json:"link_types"`
	Config      map[string]string `json:"config,omitempty"`
}

// NodeTypeInfo counts nodes per type.
type NodeTypeInfo struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// LinkTypeInfo counts links per predicate.
type LinkTypeInfo struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Stats summarizes the projection.
type Stats struct {
	TotalNodes int `json:"total_nodes"`
	TotalEdges int `json:"total_edges"`
}
