package pipeline

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// hclGraphFile is the HCL layout:
//
//	id   = "research"
//	name = "Research"
//
//	node "planner" {
//	  type   = "orchestrator"
//	  prompt = "Split the question into searches."
//	}
//
//	edge {
//	  from = "input"
//	  to   = "planner"
//	}
//
//	edge {
//	  from = "planner"
//	  to   = ["search_a", "search_b"]
//	  type = "dynamic"
//	}
type hclGraphFile struct {
	ID          string     `hcl:"id,optional"`
	Name        string     `hcl:"name,optional"`
	Description string     `hcl:"description,optional"`
	Nodes       []*hclNode `hcl:"node,block"`
	Edges       []*hclEdge `hcl:"edge,block"`
}

type hclNode struct {
	ID     string     `hcl:"id,label"`
	Type   string     `hcl:"type"`
	Model  string     `hcl:"model,optional"`
	Prompt string     `hcl:"prompt,optional"`
	Tools  []string   `hcl:"tools,optional"`
	Config *cty.Value `hcl:"config,optional"`
}

type hclEdge struct {
	From          cty.Value `hcl:"from"`
	To            cty.Value `hcl:"to"`
	Type          string    `hcl:"type,optional"`
	MaxIterations int       `hcl:"max_iterations,optional"`
}

// ParseHCL decodes a graph written in HCL. The graph is not validated.
func ParseHCL(filename string, data []byte) (*Graph, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse pipeline hcl: %w", diags)
	}

	var parsed hclGraphFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("decode pipeline hcl: %w", diags)
	}

	f := &graphFile{ID: parsed.ID, Name: parsed.Name, Description: parsed.Description}
	for _, hn := range parsed.Nodes {
		kind, err := ParseNodeKind(hn.Type)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", hn.ID, err)
		}
		n := &Node{ID: hn.ID, Kind: kind, Model: hn.Model, Prompt: hn.Prompt, Tools: hn.Tools}
		if hn.Config != nil && !hn.Config.IsNull() {
			config, err := ctyToNative(*hn.Config)
			if err != nil {
				return nil, fmt.Errorf("node %q config: %w", hn.ID, err)
			}
			settings, ok := config.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("node %q config must be an object", hn.ID)
			}
			n.Config = settings
		}
		f.Nodes = append(f.Nodes, n)
	}

	for i, he := range parsed.Edges {
		kind, err := ParseEdgeKind(he.Type)
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		from, err := ctyEndpoint(he.From)
		if err != nil {
			return nil, fmt.Errorf("edge %d from: %w", i, err)
		}
		to, err := ctyEndpoint(he.To)
		if err != nil {
			return nil, fmt.Errorf("edge %d to: %w", i, err)
		}
		f.Edges = append(f.Edges, Edge{From: from, To: to, Kind: kind, MaxIterations: he.MaxIterations})
	}
	return f.graph()
}

func ctyEndpoint(v cty.Value) (Endpoint, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, fmt.Errorf("endpoint is null")
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return Endpoint{v.AsString()}, nil
	case ty.IsTupleType() || ty.IsListType():
		var ids Endpoint
		for it := v.ElementIterator(); it.Next(); {
			_, element := it.Element()
			if element.Type() != cty.String || element.IsNull() {
				return nil, fmt.Errorf("endpoint list must contain strings")
			}
			ids = append(ids, element.AsString())
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("endpoint must be a string or a list of strings, got %s", ty.FriendlyName())
	}
}

// ctyToNative converts a cty value to the shapes encoding/json produces:
// float64, string, bool, []any and map[string]any.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, err
		}
		return f, nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, element := it.Element()
			native, err := ctyToNative(element)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			key, element := it.Element()
			native, err := ctyToNative(element)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %s", ty.FriendlyName())
	}
}
