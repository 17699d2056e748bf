// Package topology provides an in-memory snapshot of the grid topology
package topology

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"gridsim/pkg/api"
)

// Graph represents a substation/transformer/house tree
type Graph struct {
	Nodes  map[uuid.UUID]*GraphNode
	Edges  map[uuid.UUID][]uuid.UUID // parent -> children
	Roots  []uuid.UUID               // Nodes without a known parent
	Leaves []uuid.UUID               // Nodes without children

	// Computed properties
	NodeCount int
	TypeStats map[api.NodeType]int
	MaxDepth  int
}

// GraphNode is a node plus its position in the tree
type GraphNode struct {
	Node     api.Node
	Children []uuid.UUID
	Depth    int // Distance from root
}

// GraphBuilder builds topology graphs from flat node lists
type GraphBuilder struct{}

// NewGraphBuilder creates a new graph builder
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{}
}

// Build creates a graph from nodes. A node whose parent is not in the list
// becomes a root.
func (b *GraphBuilder) Build(nodes []api.Node) (*Graph, error) {
	g := &Graph{
		Nodes:     make(map[uuid.UUID]*GraphNode),
		Edges:     make(map[uuid.UUID][]uuid.UUID),
		Roots:     make([]uuid.UUID, 0),
		Leaves:    make([]uuid.UUID, 0),
		TypeStats: make(map[api.NodeType]int),
	}

	for _, n := range nodes {
		if _, dup := g.Nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node %s", n.ID)
		}
		g.Nodes[n.ID] = &GraphNode{Node: n, Children: make([]uuid.UUID, 0)}
		g.NodeCount++
		g.TypeStats[n.Type]++
	}

	// Build parent -> child edges
	for _, id := range sortedIDs(g.Nodes) {
		node := g.Nodes[id]
		parent := node.Node.ParentID
		if parent == nil || g.Nodes[*parent] == nil {
			g.Roots = append(g.Roots, id)
			continue
		}
		if node.Node.Type == api.NodeHouse && g.Nodes[*parent].Node.Type == api.NodeHouse {
			return nil, fmt.Errorf("house %s cannot be the parent of house %s", *parent, id)
		}
		g.Edges[*parent] = append(g.Edges[*parent], id)
		g.Nodes[*parent].Children = append(g.Nodes[*parent].Children, id)
	}

	for id, node := range g.Nodes {
		if len(node.Children) == 0 {
			g.Leaves = append(g.Leaves, id)
		}
	}
	sort.Slice(g.Leaves, func(i, j int) bool { return g.Leaves[i].String() < g.Leaves[j].String() })

	if err := b.calculateDepths(g); err != nil {
		return nil, err
	}
	return g, nil
}

// calculateDepths assigns depths from the roots and rejects cycles, which
// leave nodes unreachable from any root
func (b *GraphBuilder) calculateDepths(g *Graph) error {
	visited := make(map[uuid.UUID]bool)

	var visit func(id uuid.UUID, depth int)
	visit = func(id uuid.UUID, depth int) {
		if visited[id] {
			return
		}
		visited[id] = true

		node := g.Nodes[id]
		node.Depth = depth
		if depth > g.MaxDepth {
			g.MaxDepth = depth
		}

		for _, child := range node.Children {
			visit(child, depth+1)
		}
	}

	for _, root := range g.Roots {
		visit(root, 0)
	}

	if len(visited) != len(g.Nodes) {
		return fmt.Errorf("circular parent chain detected: %d of %d nodes unreachable from a root",
			len(g.Nodes)-len(visited), len(g.Nodes))
	}
	return nil
}

// Subtree returns the node and all its descendants in depth-first order
func (g *Graph) Subtree(id uuid.UUID) []*GraphNode {
	root, ok := g.Nodes[id]
	if !ok {
		return nil
	}

	result := make([]*GraphNode, 0)
	var walk func(n *GraphNode)
	walk = func(n *GraphNode) {
		result = append(result, n)
		for _, child := range n.Children {
			walk(g.Nodes[child])
		}
	}
	walk(root)
	return result
}

// GetNodeByID returns nil, nil for unknown ids
func (g *Graph) GetNodeByID(ctx context.Context, id uuid.UUID) (*api.Node, error) {
	n, ok := g.Nodes[id]
	if !ok {
		return nil, nil
	}
	node := n.Node
	return &node, nil
}

// GetHousesByParentNodeID returns every house strictly below the node
func (g *Graph) GetHousesByParentNodeID(ctx context.Context, id uuid.UUID) ([]api.Node, error) {
	houses := make([]api.Node, 0)
	for _, n := range g.Subtree(id) {
		if n.Node.ID != id && n.Node.IsHouse() {
			houses = append(houses, n.Node)
		}
	}
	return houses, nil
}

// GetHousesBySubstationID returns the houses registered against a substation
func (g *Graph) GetHousesBySubstationID(ctx context.Context, id uuid.UUID) ([]api.Node, error) {
	houses := make([]api.Node, 0)
	for _, nid := range sortedIDs(g.Nodes) {
		n := g.Nodes[nid].Node
		if n.IsHouse() && n.SubstationID != nil && *n.SubstationID == id {
			houses = append(houses, n)
		}
	}
	return houses, nil
}

// String returns a summary of the graph
func (g *Graph) String() string {
	return fmt.Sprintf(
		"Topology: %d nodes (%d substations, %d transformers, %d houses), depth %d",
		g.NodeCount,
		g.TypeStats[api.NodeSubstation],
		g.TypeStats[api.NodeTransformer],
		g.TypeStats[api.NodeHouse],
		g.MaxDepth,
	)
}

func sortedIDs(nodes map[uuid.UUID]*GraphNode) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
