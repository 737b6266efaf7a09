package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// routerExecutor asks the model for one of its conditional targets and passes
// its input through to the chosen one.
type routerExecutor struct{}

func (routerExecutor) Execute(ctx context.Context, in *NodeInput) (*NodeOutput, error) {
	out := &NodeOutput{Text: in.Text}
	response, err := complete(ctx, in, out, in.request(routerPrompt(in.Node.Prompt, in.Targets), userTurn(in.Text)))
	if err != nil {
		return out, err
	}

	label := normalizeLabel(response.Content)
	for _, target := range in.Targets {
		if strings.EqualFold(target, label) {
			out.Route = target
			out.Decision = target
			return out, nil
		}
	}
	out.Decision = label
	return out, fmt.Errorf("%w: router %q answered %q, expected one of [%s]",
		ErrClassification, in.Node.ID, label, strings.Join(in.Targets, ", "))
}

// normalizeLabel strips what models commonly wrap a one-word answer in.
func normalizeLabel(reply string) string {
	label := strings.TrimSpace(reply)
	for {
		trimmed := strings.Trim(label, " \t\r\n\"'`*")
		trimmed = strings.TrimRight(trimmed, ".,;:!?")
		if trimmed == label {
			return label
		}
		label = trimmed
	}
}

type gateDecision struct {
	Pass   *bool  `json:"pass"`
	Reason string `json:"reason"`
}

// gateExecutor validates its input. A rejection short-circuits every branch
// behind the gate.
type gateExecutor struct{}

func (gateExecutor) Execute(ctx context.Context, in *NodeInput) (*NodeOutput, error) {
	out := &NodeOutput{Text: in.Text}
	decision, raw, err := completeAs[gateDecision](ctx, in, out, in.request(gatePrompt(in.Node.Prompt), userTurn(in.Text)))
	if err != nil {
		return out, err
	}

	var pass bool
	var reason string
	switch {
	case decision != nil && decision.Pass != nil:
		pass, reason = *decision.Pass, decision.Reason
	default:
		keyword, rest := leadingKeyword(raw)
		switch keyword {
		case "PASS":
			pass = true
		case "FAIL":
			reason = rest
		default:
			return out, fmt.Errorf("%w: gate %q reply is neither a decision nor PASS/FAIL: %q",
				ErrClassification, in.Node.ID, raw)
		}
	}

	if pass {
		out.Decision = "pass"
		return out, nil
	}
	out.Rejected = true
	out.Decision = "fail"
	out.Text = strings.TrimSpace(reason)
	if out.Text == "" {
		out.Text = fmt.Sprintf("The request was rejected by %s.", in.Node.ID)
	}
	return out, nil
}

// leadingKeyword returns the first word of reply, upper-cased, and the text
// after it.
func leadingKeyword(reply string) (keyword, rest string) {
	text := strings.TrimLeft(strings.TrimSpace(reply), "\"'`*")
	end := strings.IndexFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z')
	})
	if end < 0 {
		end = len(text)
	}
	keyword = strings.ToUpper(text[:end])
	rest = strings.TrimSpace(strings.TrimLeft(text[end:], "\"'`*:-. \t\r\n"))
	return keyword, rest
}

// suggestions accepts either a string or a list of strings.
type suggestions []string

func (s *suggestions) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) != "" {
			*s = suggestions{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = suggestions(many)
	return nil
}

type evaluation struct {
	Passed      *bool       `json:"passed"`
	Score       *float64    `json:"score"`
	Feedback    string      `json:"feedback"`
	Suggestions suggestions `json:"suggestions"`
}

// evaluatorExecutor judges its input against the run goal. Its output is the
// candidate unchanged; the verdict drives the feedback edge.
type evaluatorExecutor struct{}

func (evaluatorExecutor) Execute(ctx context.Context, in *NodeInput) (*NodeOutput, error) {
	threshold := DefaultEvaluatorThreshold
	if t, ok := in.Node.ConfigFloat("threshold"); ok {
		threshold = t
	}

	out := &NodeOutput{Text: in.Text}
	request := in.request(evaluatorPrompt(in.Node.Prompt, threshold), userTurn(evaluationRequest(in.Goal, in.Text)))
	result, raw, err := completeAs[evaluation](ctx, in, out, request)
	if err != nil {
		return out, err
	}

	verdict := &Verdict{}
	switch {
	case result != nil && result.Score != nil:
		verdict.Score = result.Score
		verdict.Accept = *result.Score >= threshold
	case result != nil && result.Passed != nil:
		verdict.Accept = *result.Passed
	default:
		keyword, rest := leadingKeyword(raw)
		switch keyword {
		case "ACCEPT", "PASS", "PASSED":
			verdict.Accept = true
		case "REVISE", "FAIL", "FAILED":
			verdict.Instruction = rest
		default:
			return out, fmt.Errorf("%w: evaluator %q reply carries no verdict: %q",
				ErrClassification, in.Node.ID, raw)
		}
	}
	if result != nil && !verdict.Accept {
		verdict.Instruction = revisionInstruction(result)
	}

	out.Verdict = verdict
	out.Decision = "revise"
	if verdict.Accept {
		out.Decision = "accept"
	}
	if verdict.Score != nil {
		out.Decision += fmt.Sprintf(" (score %g)", *verdict.Score)
	}
	return out, nil
}

func revisionInstruction(e *evaluation) string {
	var b strings.Builder
	for _, s := range e.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			b.WriteString("- " + s + "\n")
		}
	}
	if feedback := strings.TrimSpace(e.Feedback); feedback != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(feedback)
	}
	if b.Len() == 0 {
		return "Improve the response so that it fully answers the original request."
	}
	return strings.TrimSpace(b.String())
}
