package observability

// Attribute keys, span names, event names and metric names shared by the
// pipeline engine, the model client and the tools. Token keys refer to model
// tokens, not credentials.

// Model calls.
const (
	AttrLLMProvider         = "llm.provider"
	AttrLLMModel            = "llm.model"
	AttrLLMEndpoint         = "llm.endpoint"
	AttrLLMFinishReason     = "llm.finish_reason"
	AttrLLMStreaming        = "llm.streaming"
	AttrLLMTokensPrompt     = "llm.tokens.prompt"     // #nosec G101
	AttrLLMTokensCompletion = "llm.tokens.completion" // #nosec G101
	AttrLLMTokensTotal      = "llm.tokens.total"      // #nosec G101
	AttrLLMToolCalls        = "llm.tool_calls"

	AttrRequestMessagesCount = "request.messages_count"
	AttrRequestToolsCount    = "request.tools_count"
)

// Tool calls. Input and output are only logged at trace level.
const (
	AttrToolName     = "tool.name"
	AttrToolInput    = "tool.input"
	AttrToolOutput   = "tool.output"
	AttrToolDuration = "tool.duration"
	AttrToolError    = "tool.error"
)

// Pipeline runs and node visits.
const (
	AttrPipelineID        = "pipeline.id"
	AttrPipelineRunID     = "pipeline.run.id"
	AttrPipelineNodeCount = "pipeline.node.count"
	AttrPipelineEdgeCount = "pipeline.edge.count"
	AttrPipelineStreaming = "pipeline.streaming"

	AttrNodeID          = "pipeline.node.id"
	AttrNodeKind        = "pipeline.node.kind"
	AttrNodeVisit       = "pipeline.node.visit"
	AttrNodeIterations  = "pipeline.node.iterations"
	AttrNodeToolCalls   = "pipeline.node.tool_calls"
	AttrNodeDecision    = "pipeline.node.decision"
	AttrNodeCapExceeded = "pipeline.node.cap_exceeded"
)

// Outgoing HTTP requests of providers and tools.
const (
	AttrHTTPMethod           = "http.method"
	AttrHTTPStatusCode       = "http.status_code"
	AttrHTTPURL              = "http.url"
	AttrHTTPRequestBodySize  = "http.request.body.size"
	AttrHTTPResponseBodySize = "http.response.body.size"
)

const (
	AttrError             = "error"
	AttrDuration          = "duration"
	AttrStatus            = "status"
	AttrStatusDescription = "status.description"
)

// Span names.
const (
	SpanPipelineRun    = "pipeline.run"
	SpanNodeExecute    = "pipeline.node.execute"
	SpanClientComplete = "client.complete"
	SpanToolExecution  = "tool.execution"
)

// Span event names.
const (
	EventLLMRequestStart    = "llm.request.start"
	EventToolExecutionStart = "tool.execution.start"
	EventToolExecutionEnd   = "tool.execution.end"
	EventFeedbackRevision   = "pipeline.feedback.revision"
	EventBranchShortCircuit = "pipeline.branch.short_circuit"
)

// Metric names.
const (
	MetricClientRequestCount     = "fissio.client.request.count"
	MetricClientRequestDuration  = "fissio.client.request.duration"
	MetricClientTokensPrompt     = "fissio.client.tokens.prompt"
	MetricClientTokensCompletion = "fissio.client.tokens.completion"

	MetricPipelineRunCount    = "fissio.pipeline.run.count"
	MetricPipelineRunDuration = "fissio.pipeline.run.duration"
	MetricNodeCount           = "fissio.pipeline.node.count"
	MetricNodeDuration        = "fissio.pipeline.node.duration"
	MetricToolCalls           = "fissio.tool.calls"
)
