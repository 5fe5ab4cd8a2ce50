package graph

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"flatfetch/internal/schema"
)

// Registry is a Provider backed by an in-memory map. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
}

// NewRegistry creates a registry holding graphs.
func NewRegistry(graphs ...*Graph) (*Registry, error) {
	r := &Registry{graphs: make(map[string]*Graph)}
	if err := r.Register(graphs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds graphs. Names must be unique.
func (r *Registry) Register(graphs ...*Graph) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range graphs {
		if g == nil || g.Name == "" {
			return errors.New("register graph: name is required")
		}
		if _, dup := r.graphs[g.Name]; dup {
			return fmt.Errorf("register graph: %q is already registered", g.Name)
		}
		r.graphs[g.Name] = g
	}
	return nil
}

// Graph resolves a graph by name.
func (r *Registry) Graph(name string) (*Graph, error) {
	r.mu.RLock()
	g, ok := r.graphs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownGraphError{Name: name}
	}
	return g, nil
}

// Names returns the registered graph names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.graphs))
	for name := range r.graphs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks every registered graph against the schema.
func (r *Registry) Validate(provider schema.Provider) error {
	var errs []error
	for _, name := range r.Names() {
		g, _ := r.Graph(name)
		if err := Validate(provider, g); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks that every attribute node of g names an association of
// the enclosing entity and that subgraph types match the association
// targets. Graphs without a root type are only checked below their
// subgraphs.
func Validate(provider schema.Provider, g *Graph) error {
	var errs []error
	if g.Type != "" {
		entity, err := provider.Entity(g.Type)
		if err != nil {
			return fmt.Errorf("graph %q: %w", g.Name, err)
		}
		errs = validateNodes(provider, g.Name, entity, g.Nodes, errs)
	} else {
		for _, node := range g.Nodes {
			for _, sub := range node.Subgraphs {
				errs = validateSubgraph(provider, g.Name+"."+node.Name, nil, sub, errs)
			}
		}
	}
	return errors.Join(errs...)
}

func validateNodes(provider schema.Provider, path string, entity *schema.Entity, nodes []*AttributeNode, errs []error) []error {
	seen := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		nodePath := path + "." + node.Name
		if seen[node.Name] {
			errs = append(errs, fmt.Errorf("graph %s: attribute listed twice", nodePath))
			continue
		}
		seen[node.Name] = true

		attr, ok := entity.Attribute(node.Name)
		if !ok {
			errs = append(errs, fmt.Errorf("graph %s: %s has no attribute %q", nodePath, entity.Name, node.Name))
			continue
		}
		if !attr.IsAssociation() {
			errs = append(errs, fmt.Errorf("graph %s: %s#%s is not an association", nodePath, entity.Name, node.Name))
			continue
		}
		for _, sub := range node.Subgraphs {
			errs = validateSubgraph(provider, nodePath, attr, sub, errs)
		}
	}
	return errs
}

func validateSubgraph(provider schema.Provider, path string, attr *schema.Attribute, sub *Subgraph, errs []error) []error {
	subPath := path + "<" + sub.Type + ">"
	entity, err := provider.Entity(sub.Type)
	if err != nil {
		return append(errs, fmt.Errorf("graph %s: %w", subPath, err))
	}
	if attr != nil && entity.Type != attr.TargetType {
		return append(errs, fmt.Errorf("graph %s: subgraph type does not match association target %s", subPath, attr.Target))
	}
	return validateNodes(provider, subPath, entity, sub.Nodes, errs)
}
