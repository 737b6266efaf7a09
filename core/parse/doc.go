// Package parse turns raw model output into typed values. Models wrap JSON in
// prose or markdown fences, emit single quotes and trailing commas, and
// sometimes answer with a schema envelope instead of data; [ParseStringAs]
// recovers from all of these before giving up with an error.
package parse
