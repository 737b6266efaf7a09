package cost

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/leofalp/fissio/patterns/pipeline"
)

// ModelCost is the price of one model in USD per million tokens.
//
//	gpt4oMini := cost.ModelCost{
//	    InputCostPerMillion:  0.15,
//	    OutputCostPerMillion: 0.60,
//	}
type ModelCost struct {
	InputCostPerMillion  float64 `json:"input_cost_per_million" yaml:"input_cost_per_million"`
	OutputCostPerMillion float64 `json:"output_cost_per_million" yaml:"output_cost_per_million"`
}

// CalculateInputCost returns the cost of tokens input tokens.
func (mc ModelCost) CalculateInputCost(tokens int) float64 {
	return (float64(tokens) / 1_000_000.0) * mc.InputCostPerMillion
}

// CalculateOutputCost returns the cost of tokens output tokens.
func (mc ModelCost) CalculateOutputCost(tokens int) float64 {
	return (float64(tokens) / 1_000_000.0) * mc.OutputCostPerMillion
}

// CalculateTotalCost returns the cost of one call.
func (mc ModelCost) CalculateTotalCost(inputTokens, outputTokens int) float64 {
	return mc.CalculateInputCost(inputTokens) + mc.CalculateOutputCost(outputTokens)
}

func (mc ModelCost) String() string {
	return fmt.Sprintf("Input: $%.6f/M, Output: $%.6f/M",
		mc.InputCostPerMillion, mc.OutputCostPerMillion)
}

// Pricing holds the known prices. Model keys are model ids as configured in
// the client registry; tool keys are tool names with a USD price per call.
type Pricing struct {
	Models map[string]ModelCost `json:"models,omitempty" yaml:"models,omitempty"`
	Tools  map[string]float64   `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// DefaultPricing covers the default model registry.
func DefaultPricing() Pricing {
	return Pricing{
		Models: map[string]ModelCost{
			"gpt-4o-mini":   {InputCostPerMillion: 0.15, OutputCostPerMillion: 0.60},
			"gpt-4o":        {InputCostPerMillion: 2.50, OutputCostPerMillion: 10.00},
			"claude-sonnet": {InputCostPerMillion: 3.00, OutputCostPerMillion: 15.00},
			"claude-haiku":  {InputCostPerMillion: 0.80, OutputCostPerMillion: 4.00},
		},
		Tools: map[string]float64{
			"web_search": 0.008,
		},
	}
}

// Merge returns p with the entries of override on top.
func (p Pricing) Merge(override Pricing) Pricing {
	merged := Pricing{
		Models: maps.Clone(p.Models),
		Tools:  maps.Clone(p.Tools),
	}
	if merged.Models == nil {
		merged.Models = make(map[string]ModelCost)
	}
	if merged.Tools == nil {
		merged.Tools = make(map[string]float64)
	}
	maps.Copy(merged.Models, override.Models)
	maps.Copy(merged.Tools, override.Tools)
	return merged
}

// Summary is the cost breakdown of one run, in USD.
type Summary struct {
	ModelInputCost  float64            `json:"model_input_cost"`
	ModelOutputCost float64            `json:"model_output_cost"`
	ToolCost        float64            `json:"tool_cost"`
	TotalCost       float64            `json:"total_cost"`
	ByNode          map[string]float64 `json:"by_node,omitempty"`

	// Unpriced lists the models that were used but have no price; their
	// tokens are not part of the totals.
	Unpriced []string `json:"unpriced,omitempty"`
}

// Estimate prices every visit in spans. Models whose id starts with
// localPrefix (e.g. discovered Ollama models) are free.
func (p Pricing) Estimate(spans []pipeline.Span, localPrefix string) Summary {
	s := Summary{ByNode: make(map[string]float64)}
	unpriced := make(map[string]bool)

	for _, span := range spans {
		var nodeCost float64
		if span.InputTokens > 0 || span.OutputTokens > 0 {
			price, ok := p.Models[span.Model]
			switch {
			case ok:
				in := price.CalculateInputCost(span.InputTokens)
				out := price.CalculateOutputCost(span.OutputTokens)
				s.ModelInputCost += in
				s.ModelOutputCost += out
				nodeCost += in + out
			case localPrefix != "" && strings.HasPrefix(span.Model, localPrefix):
			default:
				unpriced[span.Model] = true
			}
		}
		for _, call := range span.ToolCalls {
			toolCost := p.Tools[call.Name]
			s.ToolCost += toolCost
			nodeCost += toolCost
		}
		s.ByNode[span.NodeID] += nodeCost
	}

	s.TotalCost = s.ModelInputCost + s.ModelOutputCost + s.ToolCost
	s.Unpriced = slices.Sorted(maps.Keys(unpriced))
	if len(s.Unpriced) == 0 {
		s.Unpriced = nil
	}
	return s
}
