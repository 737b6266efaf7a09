// Package utils holds low-level helpers shared by the provider adapters and
// tools: JSON-over-HTTP round trips ([DoPostSync], [DoGetSync]), streaming
// requests ([DoPostStream]) consumed with [ReadSSE], and the typed [HTTPError]
// used to classify failures.
package utils
