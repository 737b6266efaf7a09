package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leofalp/fissio/patterns/pipeline"
)

func TestModelCost(t *testing.T) {
	mc := ModelCost{InputCostPerMillion: 2.5, OutputCostPerMillion: 10}

	assert.InDelta(t, 2.5, mc.CalculateInputCost(1_000_000), 1e-9)
	assert.InDelta(t, 0.005, mc.CalculateOutputCost(500), 1e-9)
	assert.InDelta(t, 0.0025+0.01, mc.CalculateTotalCost(1000, 1000), 1e-9)
	assert.Zero(t, mc.CalculateTotalCost(0, 0))
	assert.Equal(t, "Input: $2.500000/M, Output: $10.000000/M", mc.String())
}

func TestPricing_Merge(t *testing.T) {
	base := DefaultPricing()
	merged := base.Merge(Pricing{
		Models: map[string]ModelCost{"gpt-4o": {InputCostPerMillion: 1, OutputCostPerMillion: 2}},
		Tools:  map[string]float64{"fetch_url": 0.001},
	})

	assert.Equal(t, 1.0, merged.Models["gpt-4o"].InputCostPerMillion)
	assert.Equal(t, 2.5, base.Models["gpt-4o"].InputCostPerMillion, "base is not modified")
	assert.Contains(t, merged.Models, "claude-haiku")
	assert.Equal(t, 0.001, merged.Tools["fetch_url"])

	empty := Pricing{}.Merge(Pricing{})
	assert.NotNil(t, empty.Models)
}

func TestPricing_Estimate(t *testing.T) {
	p := Pricing{
		Models: map[string]ModelCost{
			"gpt-4o-mini": {InputCostPerMillion: 1, OutputCostPerMillion: 2},
		},
		Tools: map[string]float64{"web_search": 0.01},
	}
	spans := []pipeline.Span{
		{NodeID: "router", Model: "gpt-4o-mini", InputTokens: 1_000_000, OutputTokens: 0},
		{
			NodeID: "worker", Model: "gpt-4o-mini", InputTokens: 0, OutputTokens: 500_000,
			ToolCalls: []pipeline.ToolCallRecord{{Name: "web_search"}, {Name: "web_search"}, {Name: "fetch_url"}},
		},
		{NodeID: "local", Model: "ollama-llama3", InputTokens: 100, OutputTokens: 100},
		{NodeID: "mystery", Model: "o3", InputTokens: 10, OutputTokens: 10},
		{NodeID: "skipped", Model: "o3"},
	}

	s := p.Estimate(spans, "ollama-")

	assert.InDelta(t, 1.0, s.ModelInputCost, 1e-9)
	assert.InDelta(t, 1.0, s.ModelOutputCost, 1e-9)
	assert.InDelta(t, 0.02, s.ToolCost, 1e-9)
	assert.InDelta(t, 2.02, s.TotalCost, 1e-9)
	assert.InDelta(t, 1.0, s.ByNode["router"], 1e-9)
	assert.InDelta(t, 1.02, s.ByNode["worker"], 1e-9)
	assert.Zero(t, s.ByNode["local"])
	assert.Equal(t, []string{"o3"}, s.Unpriced)
}

func TestPricing_EstimateEmpty(t *testing.T) {
	s := DefaultPricing().Estimate(nil, "")
	assert.Zero(t, s.TotalCost)
	assert.Nil(t, s.Unpriced)
}
