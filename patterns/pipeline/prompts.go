package pipeline

import (
	"fmt"
	"strings"
)

// Separator joins the outputs of several branches.
const Separator = "\n\n---\n\n"

const (
	defaultRouterPrompt      = "Classify the following input and route to the appropriate target."
	defaultGatePrompt        = "Decide whether the input is acceptable to process further."
	defaultAggregatorPrompt  = "Combine the following results into a single response. Keep every relevant fact and remove repetition."
	defaultSynthesizerPrompt = "Synthesize the following results into one coherent final answer for the user. Resolve contradictions and write it as a single narrative."
	defaultOrchestratorGoal  = "Break the request into focused sub-tasks and assign each to the best suited worker."
	defaultCoordinatorGoal   = "Distribute the tasks in the request across the available workers. Do not invent new tasks."
	defaultEvaluatorPrompt   = "Evaluate whether the candidate response fully and accurately answers the original request."
)

func orDefault(prompt, fallback string) string {
	if strings.TrimSpace(prompt) == "" {
		return fallback
	}
	return prompt
}

func routerPrompt(prompt string, targets []string) string {
	return fmt.Sprintf("%s\n\nYou are a routing classifier. Based on the input, determine which target to route to.\n"+
		"Available targets: [%s]\n\n"+
		"IMPORTANT: Respond with ONLY the target name, nothing else. No explanation, no punctuation.",
		orDefault(prompt, defaultRouterPrompt), strings.Join(targets, ", "))
}

func gatePrompt(prompt string) string {
	return orDefault(prompt, defaultGatePrompt) + "\n\n" +
		"You are a validation gate. Respond with JSON only:\n" +
		`{"pass": true, "reason": "short explanation"}` + "\n" +
		"Set pass to false when the input must not be processed further; the reason is shown to the user."
}

func dispatchPrompt(prompt, goal string, targets []string) string {
	return orDefault(prompt, goal) + "\n\n" +
		"Available workers: [" + strings.Join(targets, ", ") + "]\n\n" +
		"Respond with JSON only:\n" +
		`{"workers": [{"target": "worker name", "instruction": "what this worker must do"}]}` + "\n" +
		"Select at least one worker, each at most once, using only the names listed above."
}

func evaluatorPrompt(prompt string, threshold float64) string {
	return orDefault(prompt, defaultEvaluatorPrompt) + "\n\n" +
		"When evaluating, consider completeness, accuracy and quality.\n" +
		fmt.Sprintf("Scoring: use a threshold of %g. Score >= %g should pass, score < %g should fail.\n\n", threshold, threshold, threshold) +
		"Respond with valid JSON containing:\n" +
		"- passed: boolean\n" +
		"- score: number from 0 to 100\n" +
		"- feedback: explanation of your evaluation\n" +
		"- suggestions: a single string with concrete improvements\n\n" +
		"If the response fails, make the suggestions actionable so the next attempt can fix it."
}

func evaluationRequest(goal, candidate string) string {
	return "Original request:\n" + goal + "\n\nCandidate response:\n" + candidate
}

// revisionRequest is the input of a feedback target on a revision visit.
func revisionRequest(base, candidate, instruction string) string {
	return base + "\n\nPrevious attempt:\n" + candidate + "\n\nRevision requested:\n" + instruction
}

// assignment is the input a dynamically selected worker receives.
func assignment(input, instruction string) string {
	if strings.TrimSpace(instruction) == "" {
		return input
	}
	return "Task: " + instruction + "\n\nContext:\n" + input
}

// labelled joins predecessor outputs, each under its node id.
func labelled(upstream []Upstream) string {
	parts := make([]string, 0, len(upstream))
	for _, u := range upstream {
		parts = append(parts, "## "+u.From+"\n"+u.Text)
	}
	return strings.Join(parts, "\n\n")
}
