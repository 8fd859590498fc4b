package engine

import (
	"strings"

	"github.com/rendis/schedflow/pkg/schema"
)

// Graph is the per-traversal index over a workflow's nodes and edges.
// It is immutable once built.
type Graph struct {
	nodes    map[string]*schema.Node
	outgoing map[string][]schema.Edge
	first    string
}

// BuildGraph indexes nodes by id and edges by source. Outgoing edges keep
// input order: the first edge is the default next hop, the second is the
// post-loop continuation. A repeated node id keeps its last definition.
func BuildGraph(nodes []schema.Node, edges []schema.Edge) *Graph {
	g := &Graph{
		nodes:    make(map[string]*schema.Node, len(nodes)),
		outgoing: make(map[string][]schema.Edge),
	}
	for i := range nodes {
		g.nodes[nodes[i].ID] = &nodes[i]
	}
	if len(nodes) > 0 {
		g.first = nodes[0].ID
	}
	for _, e := range edges {
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
	}
	return g
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*schema.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Outgoing returns the edges leaving id in input order.
func (g *Graph) Outgoing(id string) []schema.Edge {
	return g.outgoing[id]
}

// First returns the id of the first declared node, or "" for an empty graph.
func (g *Graph) First() string {
	return g.first
}

// Len returns the number of distinct nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// NextAt returns the target of the i-th outgoing edge of id.
func (g *Graph) NextAt(id string, i int) (string, bool) {
	out := g.outgoing[id]
	if i < 0 || i >= len(out) {
		return "", false
	}
	return out[i].Target, true
}

// NextByLabel returns the target of the first outgoing edge of id whose
// label matches, ignoring case and surrounding whitespace.
func (g *Graph) NextByLabel(id, label string) (string, bool) {
	for _, e := range g.outgoing[id] {
		if strings.EqualFold(strings.TrimSpace(e.Label), label) {
			return e.Target, true
		}
	}
	return "", false
}
