package pipeline

import (
	"context"
	"fmt"
	"strings"
)

type dispatchPlan struct {
	Workers []Assignment `json:"workers"`
}

// dispatchExecutor selects a subset of the dynamic targets, each with its own
// instruction. Orchestrators decompose the request; coordinators distribute
// an already defined task list.
type dispatchExecutor struct {
	goal string
}

func (e dispatchExecutor) Execute(ctx context.Context, in *NodeInput) (*NodeOutput, error) {
	out := &NodeOutput{}
	request := in.request(dispatchPrompt(in.Node.Prompt, e.goal, in.Targets), userTurn(in.Text))
	plan, raw, err := completeAs[dispatchPlan](ctx, in, out, request)
	if err != nil {
		return out, err
	}
	if plan == nil {
		return out, fmt.Errorf("%w: %s %q reply is not a worker plan: %q",
			ErrClassification, in.Node.Kind, in.Node.ID, raw)
	}

	assignments, err := resolveAssignments(plan.Workers, in.Targets)
	if err != nil {
		return out, fmt.Errorf("%w: %s %q: %w", ErrClassification, in.Node.Kind, in.Node.ID, err)
	}

	out.Assignments = assignments
	lines := make([]string, 0, len(assignments))
	names := make([]string, 0, len(assignments))
	for _, a := range assignments {
		lines = append(lines, "- "+a.Target+": "+a.Instruction)
		names = append(names, a.Target)
	}
	out.Text = strings.Join(lines, "\n")
	out.Decision = strings.Join(names, ", ")
	return out, nil
}

// resolveAssignments maps model-chosen names onto targets case-insensitively,
// keeping the model's order.
func resolveAssignments(workers []Assignment, targets []string) ([]Assignment, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("no worker selected")
	}
	seen := make(map[string]bool, len(workers))
	resolved := make([]Assignment, 0, len(workers))
	for _, w := range workers {
		name := normalizeLabel(w.Target)
		target := ""
		for _, t := range targets {
			if strings.EqualFold(t, name) {
				target = t
				break
			}
		}
		if target == "" {
			return nil, fmt.Errorf("unknown worker %q, expected one of [%s]", w.Target, strings.Join(targets, ", "))
		}
		if seen[target] {
			return nil, fmt.Errorf("worker %q selected twice", target)
		}
		seen[target] = true
		resolved = append(resolved, Assignment{Target: target, Instruction: strings.TrimSpace(w.Instruction)})
	}
	return resolved, nil
}
