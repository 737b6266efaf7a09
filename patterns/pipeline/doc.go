// Package pipeline executes graphs of cooperating model-backed agents.
//
// A [Graph] is a set of nodes, each of one [NodeKind], connected by typed
// edges. Edges start at the virtual node "input", which carries the user
// message, and end at the virtual node "output", whose incoming texts form the
// answer. The [EdgeKind] of an edge decides how work moves along it:
//
//   - direct: the target runs once the source output is complete.
//   - parallel: every target starts at once; joins wait for all of their
//     declared predecessors.
//   - conditional: a router picks exactly one target.
//   - dynamic: an orchestrator or coordinator picks a subset of targets, each
//     with its own instruction.
//   - feedback: an evaluator sends its candidate back to an earlier node until
//     it accepts it or the loop reaches its iteration cap.
//
// Graphs are built with [NewBuilder] or decoded from JSON, YAML or HCL files
// with [LoadFile], and checked by [Validate].
//
// An [Engine] runs a graph against a client.ModelClient and a
// tool.Catalog. [Engine.Run] returns the complete output; [Engine.RunStream]
// forwards output fragments as soon as the graph allows:
//
//	stream, err := engine.RunStream(ctx, g, "Summarize today's AI news", nil)
//	if err != nil {
//	    return err
//	}
//	for event, err := range stream.Iter() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(event.Text)
//	}
//
// Every run produces a [Trace] with one [Span] per node visit. Failures are
// reported as a single [Error] naming the node and the [ErrorKind].
package pipeline
