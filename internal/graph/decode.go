package graph

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Spec is the configuration form of a graph:
//
//	graphs:
//	  - name: full
//	    type: Car
//	    attributes:
//	      - Wheels
//	      - name: Engine
//	        subgraphs:
//	          - type: Engine
//	            attributes: [car]
//
// An attribute given as a bare string has no subgraphs.
type Spec struct {
	Name       string     `mapstructure:"name"`
	Type       string     `mapstructure:"type"`
	Attributes []NodeSpec `mapstructure:"attributes"`
}

// NodeSpec is the configuration form of an attribute node.
type NodeSpec struct {
	Name      string         `mapstructure:"name"`
	Subgraphs []SubgraphSpec `mapstructure:"subgraphs"`
}

// SubgraphSpec is the configuration form of a subgraph.
type SubgraphSpec struct {
	Type       string     `mapstructure:"type"`
	Attributes []NodeSpec `mapstructure:"attributes"`
}

var nodeSpecType = reflect.TypeOf(NodeSpec{})

// NodeSpecHook decodes a bare string into a NodeSpec with that name.
func NodeSpecHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != nodeSpecType {
			return data, nil
		}
		return map[string]interface{}{"name": data}, nil
	}
}

// Build converts the spec into a Graph.
func (s Spec) Build() (*Graph, error) {
	if s.Name == "" {
		return nil, errors.New("graph spec: name is required")
	}
	nodes, err := buildNodes(s.Name, s.Attributes)
	if err != nil {
		return nil, err
	}
	return &Graph{Name: s.Name, Type: s.Type, Nodes: nodes}, nil
}

func buildNodes(path string, specs []NodeSpec) ([]*AttributeNode, error) {
	nodes := make([]*AttributeNode, 0, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("graph spec %s: attribute %d has no name", path, i)
		}
		node := &AttributeNode{Name: spec.Name}
		for _, sub := range spec.Subgraphs {
			if sub.Type == "" {
				return nil, fmt.Errorf("graph spec %s.%s: subgraph has no type", path, spec.Name)
			}
			subNodes, err := buildNodes(path+"."+spec.Name+"<"+sub.Type+">", sub.Attributes)
			if err != nil {
				return nil, err
			}
			node.Subgraphs = append(node.Subgraphs, &Subgraph{Type: sub.Type, Nodes: subNodes})
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// BuildAll converts specs into graphs.
func BuildAll(specs []Spec) ([]*Graph, error) {
	graphs := make([]*Graph, 0, len(specs))
	for _, spec := range specs {
		g, err := spec.Build()
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// Decode decodes raw configuration data (a list of maps, as produced by a
// YAML or JSON parser) into graphs. Unknown keys are rejected.
func Decode(raw interface{}) ([]*Graph, error) {
	var specs []Spec
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  NodeSpecHook(),
		ErrorUnused: true,
		Result:      &specs,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode graphs: %w", err)
	}
	return BuildAll(specs)
}

// LoadFile reads graphs from the "graphs" key of a YAML, JSON or TOML file.
func LoadFile(path string) ([]*Graph, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read graphs file %s: %w", path, err)
	}
	graphs, err := Decode(v.Get("graphs"))
	if err != nil {
		return nil, fmt.Errorf("graphs file %s: %w", path, err)
	}
	return graphs, nil
}
