// Package cost estimates the monetary cost of pipeline runs from the token
// usage and tool calls recorded in their traces.
//
// A [Pricing] table maps model ids to a [ModelCost] (USD per million tokens)
// and tool names to a per-call price. [Pricing.Estimate] walks the spans of a
// run and returns a [Summary] broken down per node. Models missing from the
// table are reported, not guessed.
package cost
