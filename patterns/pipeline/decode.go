package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// graphFile is the on-disk layout shared by the JSON and YAML formats.
type graphFile struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []*Node `json:"nodes" yaml:"nodes"`
	Edges       []Edge  `json:"edges" yaml:"edges"`
}

func (f *graphFile) graph() (*Graph, error) {
	g := &Graph{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		Nodes:       make(map[string]*Node, len(f.Nodes)),
		Edges:       f.Edges,
	}
	for i, n := range f.Nodes {
		if n == nil {
			return nil, fmt.Errorf("node %d is empty", i)
		}
		if _, dup := g.Nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		g.Nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	return g, nil
}

func (g *Graph) file() *graphFile {
	f := &graphFile{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Edges:       g.Edges,
	}
	for _, id := range g.NodeIDs() {
		f.Nodes = append(f.Nodes, g.Nodes[id])
	}
	return f
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.file())
}

func (g *Graph) UnmarshalJSON(data []byte) error {
	var f graphFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	decoded, err := f.graph()
	if err != nil {
		return err
	}
	*g = *decoded
	return nil
}

func (g *Graph) MarshalYAML() (any, error) {
	return g.file(), nil
}

func (g *Graph) UnmarshalYAML(value *yaml.Node) error {
	var f graphFile
	if err := value.Decode(&f); err != nil {
		return err
	}
	decoded, err := f.graph()
	if err != nil {
		return err
	}
	*g = *decoded
	return nil
}

// ParseJSON decodes a graph from JSON. Unknown fields are rejected. The graph
// is not validated.
func ParseJSON(data []byte) (*Graph, error) {
	var f graphFile
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode pipeline json: %w", err)
	}
	return f.graph()
}

// ParseYAML decodes a graph from YAML. Unknown fields are rejected. The graph
// is not validated.
func ParseYAML(data []byte) (*Graph, error) {
	var f graphFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode pipeline yaml: %w", err)
	}
	return f.graph()
}

// Formats lists the file extensions LoadFile understands.
var Formats = []string{".json", ".yaml", ".yml", ".hcl"}

// Parse decodes data in the format named by ext (".json", ".yaml", ".yml" or
// ".hcl"). filename is only used in HCL diagnostics.
func Parse(filename, ext string, data []byte) (*Graph, error) {
	switch strings.ToLower(ext) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".hcl":
		return ParseHCL(filename, data)
	default:
		return nil, fmt.Errorf("unsupported pipeline format %q", ext)
	}
}

// LoadFile reads, decodes and validates the graph stored at path. A graph
// without an id takes the file name without extension.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := filepath.Ext(path)
	g, err := Parse(path, ext, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if g.ID == "" {
		g.ID = strings.TrimSuffix(filepath.Base(path), ext)
	}
	if err := Validate(g); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}
