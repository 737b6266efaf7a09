package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leofalp/fissio/patterns/pipeline"
)

// Metrics holds the Prometheus collectors of one server, registered on a
// private registry.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runsActive  prometheus.Gauge
	tokens      *prometheus.CounterVec
	toolCalls   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers the server metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fissio_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fissio_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fissio_pipeline_runs_total",
				Help: "Pipeline runs by pipeline and outcome",
			},
			[]string{"pipeline", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fissio_pipeline_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"pipeline"},
		),
		runsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fissio_pipeline_runs_active",
				Help: "Pipeline runs in progress",
			},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fissio_pipeline_tokens_total",
				Help: "Model tokens consumed by pipeline runs",
			},
			[]string{"pipeline", "direction"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fissio_pipeline_tool_calls_total",
				Help: "Tool calls made by pipeline runs",
			},
			[]string{"pipeline"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.runsTotal,
		m.runDuration,
		m.runsActive,
		m.tokens,
		m.toolCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records a completed HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RunStarted marks a run in progress; the returned func records its outcome.
func (m *Metrics) RunStarted(pipelineID string) func(*pipeline.Result, error) {
	m.runsActive.Inc()
	start := time.Now()
	return func(result *pipeline.Result, err error) {
		m.runsActive.Dec()
		m.runDuration.WithLabelValues(pipelineID).Observe(time.Since(start).Seconds())
		m.runsTotal.WithLabelValues(pipelineID, runStatus(err)).Inc()
		if result == nil {
			return
		}
		meta := result.Metadata
		m.tokens.WithLabelValues(pipelineID, "input").Add(float64(meta.InputTokens))
		m.tokens.WithLabelValues(pipelineID, "output").Add(float64(meta.OutputTokens))
		m.toolCalls.WithLabelValues(pipelineID).Add(float64(meta.ToolCalls))
	}
}

// runStatus is "ok" or the pipeline error kind.
func runStatus(err error) string {
	if err == nil {
		return "ok"
	}
	_, resp := runError(err, "")
	return resp.Code
}
