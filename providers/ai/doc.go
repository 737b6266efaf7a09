// Package ai defines the provider-agnostic request, response and streaming
// types shared by every model adapter. Adapters map [ChatRequest] to their
// own wire format and back to [ChatResponse]; streaming adapters return a
// [ChatStream] of [StreamEvent] deltas.
package ai
