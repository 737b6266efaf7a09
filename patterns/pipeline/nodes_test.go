package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLabel(t *testing.T) {
	tests := map[string]string{
		"billing":              "billing",
		"  Billing.\n":         "Billing",
		`"support"`:            "support",
		"**tech**":             "tech",
		"`sales`!":             "sales",
		"'billing'.":           "billing",
		"two words":            "two words",
		"":                     "",
		" \"*`billing`*\" . ": "billing",
	}
	for reply, want := range tests {
		assert.Equal(t, want, normalizeLabel(reply), "reply %q", reply)
	}
}

func TestLeadingKeyword(t *testing.T) {
	tests := []struct {
		reply, keyword, rest string
	}{
		{"PASS", "PASS", ""},
		{"fail: contains personal data", "FAIL", "contains personal data"},
		{"**REVISE** - tighten the intro", "REVISE", "tighten the intro"},
		{"Accept.", "ACCEPT", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		keyword, rest := leadingKeyword(tt.reply)
		assert.Equal(t, tt.keyword, keyword, "reply %q", tt.reply)
		assert.Equal(t, tt.rest, rest, "reply %q", tt.reply)
	}
}

func TestSuggestions_AcceptStringOrList(t *testing.T) {
	var e evaluation
	require.NoError(t, json.Unmarshal([]byte(`{"suggestions": "one"}`), &e))
	assert.Equal(t, suggestions{"one"}, e.Suggestions)

	e = evaluation{}
	require.NoError(t, json.Unmarshal([]byte(`{"suggestions": ["one", "two"]}`), &e))
	assert.Equal(t, suggestions{"one", "two"}, e.Suggestions)

	e = evaluation{}
	require.NoError(t, json.Unmarshal([]byte(`{"suggestions": ""}`), &e))
	assert.Empty(t, e.Suggestions)
}

func TestRevisionInstruction(t *testing.T) {
	assert.Equal(t, "- Cite sources\n- Shorten\n\nToo vague.",
		revisionInstruction(&evaluation{Suggestions: suggestions{"Cite sources", " ", "Shorten"}, Feedback: "Too vague."}))
	assert.Equal(t, "Too vague.", revisionInstruction(&evaluation{Feedback: " Too vague. "}))
	assert.NotEmpty(t, revisionInstruction(&evaluation{}))
}

func TestResolveAssignments(t *testing.T) {
	targets := []string{"search", "summarize"}

	resolved, err := resolveAssignments([]Assignment{
		{Target: "Summarize", Instruction: " condense "},
		{Target: "`search`", Instruction: "find prices"},
	}, targets)
	require.NoError(t, err)
	assert.Equal(t, []Assignment{
		{Target: "summarize", Instruction: "condense"},
		{Target: "search", Instruction: "find prices"},
	}, resolved)

	_, err = resolveAssignments(nil, targets)
	assert.ErrorContains(t, err, "no worker selected")

	_, err = resolveAssignments([]Assignment{{Target: "translate"}}, targets)
	assert.ErrorContains(t, err, `unknown worker "translate"`)

	_, err = resolveAssignments([]Assignment{{Target: "search"}, {Target: "SEARCH"}}, targets)
	assert.ErrorContains(t, err, "selected twice")
}

func TestExecutorFor_CoversEveryKind(t *testing.T) {
	for _, kind := range NodeKinds() {
		assert.NotPanics(t, func() { executorFor(kind) }, kind.String())
	}
}

func evaluatorInput(client *fakeClient, config map[string]any) *NodeInput {
	return &NodeInput{
		Node:   &Node{ID: "judge", Kind: KindEvaluator, Prompt: "role:judge", Config: config},
		Text:   "candidate",
		Goal:   "the request",
		Client: client,
	}
}

func TestEvaluator_ThresholdFromConfig(t *testing.T) {
	client := newFakeClient().onText("role:judge", `{"passed": false, "score": 70}`)

	out, err := evaluatorExecutor{}.Execute(context.Background(), evaluatorInput(client, nil))
	require.NoError(t, err)
	assert.True(t, out.Verdict.Accept, "70 clears the default threshold")
	assert.Equal(t, "candidate", out.Text)

	out, err = evaluatorExecutor{}.Execute(context.Background(), evaluatorInput(client, map[string]any{"threshold": 80}))
	require.NoError(t, err)
	assert.False(t, out.Verdict.Accept)
	require.NotNil(t, out.Verdict.Score)
	assert.Equal(t, 70.0, *out.Verdict.Score)

	request := client.requestsFor("role:judge")[1]
	assert.Contains(t, request.SystemPrompt, "threshold of 80")
	assert.Equal(t, "Original request:\nthe request\n\nCandidate response:\ncandidate", lastUser(request))
}

func TestEvaluator_PassedWithoutScore(t *testing.T) {
	client := newFakeClient().onText("role:judge", `{"passed": true}`)
	out, err := evaluatorExecutor{}.Execute(context.Background(), evaluatorInput(client, nil))
	require.NoError(t, err)
	assert.True(t, out.Verdict.Accept)
	assert.Equal(t, "accept", out.Decision)
}

func TestEvaluator_UnreadableReply(t *testing.T) {
	client := newFakeClient().onText("role:judge", "It is fine I guess")
	_, err := evaluatorExecutor{}.Execute(context.Background(), evaluatorInput(client, nil))
	assert.ErrorIs(t, err, ErrClassification)
}

func TestGate_UnreadableReply(t *testing.T) {
	client := newFakeClient().onText("role:gate", "maybe")
	in := &NodeInput{Node: &Node{ID: "g", Kind: KindGate, Prompt: "role:gate"}, Text: "x", Client: client}
	_, err := gateExecutor{}.Execute(context.Background(), in)
	assert.ErrorIs(t, err, ErrClassification)
}

func TestGate_RejectionWithoutReason(t *testing.T) {
	client := newFakeClient().onText("role:gate", `{"pass": false}`)
	in := &NodeInput{Node: &Node{ID: "g", Kind: KindGate, Prompt: "role:gate"}, Text: "x", Client: client}
	out, err := gateExecutor{}.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.Rejected)
	assert.Equal(t, "The request was rejected by g.", out.Text)
}

func TestWorker_WithoutRegisteredToolsActsAsLLM(t *testing.T) {
	client := newFakeClient().onEcho("role:w", "W")
	in := &NodeInput{
		Node:   &Node{ID: "w", Kind: KindWorker, Prompt: "role:w", Tools: []string{"missing"}},
		Text:   "hi",
		Client: client,
		Tools:  searchCatalog(),
	}
	out, err := workerExecutor{}.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "W(hi)", out.Text)
	assert.Empty(t, client.requestsFor("role:w")[0].Tools)
}

func TestJoin_SingleUpstreamIsNotLabelled(t *testing.T) {
	client := newFakeClient().onEcho("role:s", "S")
	in := &NodeInput{
		Node:     &Node{ID: "s", Kind: KindSynthesizer, Prompt: "role:s"},
		Text:     "only",
		Upstream: []Upstream{{From: "a", Text: "only"}},
		Client:   client,
	}
	out, err := joinExecutor{fallback: defaultSynthesizerPrompt}.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "S(only)", out.Text)
}
