// Package slogobs provides an observability.Provider backed by log/slog.
// Spans become "span started" and "span ended" records carrying span_id and
// parent_id; failed spans end at warn level. Metric values are kept in memory
// ([Observer.CounterValue], [Observer.HistogramStats]) and logged at debug.
//
// Format and level default to FISSIO_LOG_FORMAT and FISSIO_LOG_LEVEL.
package slogobs
