package graph

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tracelight/kgraph/errors"
	"github.com/tracelight/kgraph/triple"
)

const (
	defaultLinkWeight   = 1.0
	linkWeightIncrement = 0.5

	// NodeTypePredicate carries a node's type as a literal fact. It types
	// the subject instead of creating a visual link.
	NodeTypePredicate = "kg://predicates/node_type"

	untypedNode = "untyped"
)

// Builder projects triples into a Graph.
type Builder struct {
	triples *triple.Store
	logger  *zap.SugaredLogger
}

// NewBuilder creates a graph builder over the triple store.
func NewBuilder(triples *triple.Store, logger *zap.SugaredLogger) *Builder {
	return &Builder{
		triples: triples,
		logger:  logger.Named("graph"),
	}
}

// Build projects the triples matching the pattern at the selected snapshot
// into a graph. Literal objects become node metadata; reference objects
// become links, with weight accumulating on repeated facts. Output ordering
// is deterministic.
func (b *Builder) Build(ctx context.Context, tenantID string, pattern triple.Pattern, opts triple.QueryOptions) (*Graph, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	triples, err := b.triples.Query(ctx, tenantID, pattern, opts)
	if err != nil {
		return nil, err
	}

	graphURI := pattern.GraphURI
	if graphURI == "" {
		graphURI = triple.DefaultGraph
	}

	g := &Graph{
		Nodes: []Node{},
		Links: []Link{},
		Meta: Meta{
			GeneratedAt: time.Now().UTC(),
			GraphURI:    graphURI,
			AsOfVersion: opts.AsOfVersion,
		},
	}

	nodeMap := make(map[string]*Node)
	linkMap := make(map[string]*Link)

	node := func(id string) *Node {
		if n, ok := nodeMap[id]; ok {
			return n
		}
		n := &Node{ID: id, Type: untypedNode, Label: id}
		nodeMap[id] = n
		return n
	}

	for _, t := range triples {
		subject := node(t.SubjectID)

		// node_type facts type the subject; they never become links.
		if t.PredicateURI == NodeTypePredicate {
			subject.Type = t.Object.Value
			continue
		}

		if t.Object.IsLiteral {
			if subject.Metadata == nil {
				subject.Metadata = make(map[string]interface{})
			}
			subject.Metadata[t.PredicateURI] = t.Object.Value
			continue
		}

		node(t.Object.Value)
		linkID := t.SubjectID + "\x00" + t.PredicateURI + "\x00" + t.Object.Value
		if l, ok := linkMap[linkID]; ok {
			l.Weight += linkWeightIncrement
			continue
		}
		linkMap[linkID] = &Link{
			Source: t.SubjectID,
			Target: t.Object.Value,
			Type:   t.PredicateURI,
			Weight: defaultLinkWeight,
		}
	}

	nodeIDs := make([]string, 0, len(nodeMap))
	for id := range nodeMap {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)
	for _, id := range nodeIDs {
		g.Nodes = append(g.Nodes, *nodeMap[id])
	}

	linkIDs := make([]string, 0, len(linkMap))
	for id := range linkMap {
		linkIDs = append(linkIDs, id)
	}
	sort.Strings(linkIDs)
	for _, id := range linkIDs {
		g.Links = append(g.Links, *linkMap[id])
	}

	g.Meta.Stats = Stats{TotalNodes: len(g.Nodes), TotalEdges: len(g.Links)}
	g.Meta.NodeTypes = collectNodeTypes(g.Nodes)
	g.Meta.LinkTypes = collectLinkTypes(g.Links)

	b.logger.Debugw("Graph projected",
		"tenant", tenantID,
		"graph", graphURI,
		"nodes", len(g.Nodes),
		"edges", len(g.Links),
	)
	return g, nil
}

func collectNodeTypes(nodes []Node) []NodeTypeInfo {
	counts := make(map[string]int)
	for _, n := range nodes {
		counts[n.Type]++
	}
	types := make([]NodeTypeInfo, 0, len(counts))
	for t, c := range counts {
		types = append(types, NodeTypeInfo{Type: t, Count: c})
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Type < types[j].Type })
	return types
}

func collectLinkTypes(links []Link) []LinkTypeInfo {
	counts := make(map[string]int)
	for _, l := range links {
		counts[l.Type]++
	}
	types := make([]LinkTypeInfo, 0, len(counts))
	for t, c := range counts {
		types = append(types, LinkTypeInfo{Type: t, Count: c})
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Type < types[j].Type })
	return types
}
