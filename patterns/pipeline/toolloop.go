package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/tool"
)

// runToolLoop alternates model calls and tool calls until the model answers
// in text or maxIterations model calls were made. Tool calls requested by the
// last allowed model call are not run. On the limit out.Text holds the last
// assistant text, or the last tool result when the model never wrote any,
// and the error is ErrToolIterationLimit.
func runToolLoop(ctx context.Context, in *NodeInput, out *NodeOutput, tools []ai.ToolDescription, maxIterations int) error {
	messages := in.conversation(in.Text)
	var lastText, lastResult string

	for out.Iterations < maxIterations {
		request := in.request(in.Node.Prompt, messages)
		request.Tools = tools
		response, err := complete(ctx, in, out, request)
		if err != nil {
			out.Text = lastText
			return err
		}
		if response.Content != "" {
			lastText = response.Content
		}
		if !response.HasToolCalls() {
			out.Text = response.Content
			return nil
		}
		if out.Iterations >= maxIterations {
			// no model call is left to read the results
			break
		}

		results, err := callTools(ctx, in.Tools, response.ToolCalls, out)
		if err != nil {
			out.Text = lastText
			return err
		}

		messages = append(messages, ai.Message{
			Role:      ai.RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		for i, call := range response.ToolCalls {
			messages = append(messages, ai.Message{
				Role:       ai.RoleTool,
				Content:    results[i],
				ToolCallID: call.ID,
				Name:       call.Function.Name,
			})
			lastResult = results[i]
		}
	}

	out.Text = lastText
	if out.Text == "" {
		out.Text = lastResult
	}
	return fmt.Errorf("%w: %d model calls", ErrToolIterationLimit, maxIterations)
}

// callTools runs every requested call concurrently. Results come back in
// request order. Tool failures become error results for the model; only
// cancellation aborts.
func callTools(ctx context.Context, catalog *tool.Catalog, calls []ai.ToolCall, out *NodeOutput) ([]string, error) {
	results := make([]string, len(calls))
	records := make([]ToolCallRecord, len(calls))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, call := range calls {
		group.Go(func() error {
			start := time.Now()
			result, err := invokeTool(groupCtx, catalog, call)
			records[i] = ToolCallRecord{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
				Duration:  time.Since(start),
			}
			if err != nil {
				records[i].Error = err.Error()
				if ctxErr := groupCtx.Err(); ctxErr != nil {
					return ctxErr
				}
			}
			results[i] = result
			return nil
		})
	}
	err := group.Wait()
	out.ToolCalls = append(out.ToolCalls, records...)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// invokeTool calls one tool. The returned text is what the model sees; the
// error, if any, is what the trace records.
func invokeTool(ctx context.Context, catalog *tool.Catalog, call ai.ToolCall) (string, error) {
	ctx, finish := observeToolCall(ctx, call)
	result, err := catalog.Call(ctx, call.Function.Name, call.Function.Arguments)
	finish(err)

	switch {
	case errors.Is(err, tool.ErrToolNotFound):
		return ai.NewToolResultError("tool_not_found", fmt.Sprintf("tool %q is not available", call.Function.Name)).ToJSON(), err
	case err != nil:
		return ai.NewToolResultError("tool_error", err.Error()).ToJSON(), err
	}
	return result, nil
}
