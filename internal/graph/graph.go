// Package graph defines named fetch graphs: the association paths to load
// for a set of root entities.
package graph

import (
	"fmt"
	"strings"
)

// Graph is a named fetch graph rooted at one entity type.
type Graph struct {
	Name string
	// Type is the root entity name. Empty means the graph can be applied to
	// any entity that declares the listed attributes.
	Type  string
	Nodes []*AttributeNode
}

// AttributeNode selects one association of the enclosing entity.
type AttributeNode struct {
	Name string
	// Subgraphs continue the traversal into the fetched targets, one per
	// target entity type, in declaration order.
	Subgraphs []*Subgraph
}

// Subgraph lists the attributes to fetch on targets of entity Type.
type Subgraph struct {
	Type  string
	Nodes []*AttributeNode
}

// New builds a graph.
func New(name, rootType string, nodes ...*AttributeNode) *Graph {
	return &Graph{Name: name, Type: rootType, Nodes: nodes}
}

// Attr builds an attribute node.
func Attr(name string, subgraphs ...*Subgraph) *AttributeNode {
	return &AttributeNode{Name: name, Subgraphs: subgraphs}
}

// Sub builds a subgraph for targets of entity typ.
func Sub(typ string, nodes ...*AttributeNode) *Subgraph {
	return &Subgraph{Type: typ, Nodes: nodes}
}

// Subgraph returns the subgraph declared for entity typ.
func (n *AttributeNode) Subgraph(typ string) (*Subgraph, bool) {
	for _, sub := range n.Subgraphs {
		if sub.Type == typ {
			return sub, true
		}
	}
	return nil, false
}

// String renders the graph as Name(Type){attr{Sub{...}}, ...}.
func (g *Graph) String() string {
	var b strings.Builder
	b.WriteString(g.Name)
	if g.Type != "" {
		fmt.Fprintf(&b, "(%s)", g.Type)
	}
	writeNodes(&b, g.Nodes)
	return b.String()
}

func writeNodes(b *strings.Builder, nodes []*AttributeNode) {
	b.WriteByte('{')
	for i, node := range nodes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(node.Name)
		for _, sub := range node.Subgraphs {
			b.WriteString("<" + sub.Type + ">")
			writeNodes(b, sub.Nodes)
		}
	}
	b.WriteByte('}')
}

// Provider resolves fetch graphs by name.
type Provider interface {
	Graph(name string) (*Graph, error)
}

// UnknownGraphError is returned when no graph is registered under a name.
type UnknownGraphError struct {
	Name string
}

func (e *UnknownGraphError) Error() string {
	return fmt.Sprintf("unknown fetch graph %q", e.Name)
}
