package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat stream outcomes
const (
	ChatCompleted     = "completed"
	ChatCancelled     = "cancelled"
	ChatRejected      = "rejected"
	ChatUpstreamError = "upstream_error"
)

// Transcription outcomes
const (
	TranscriptionText   = "text"
	TranscriptionEmpty  = "empty"
	TranscriptionFailed = "failed"
)

// Metrics contains the relay's Prometheus metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Chat relay metrics
	ChatStreams        *prometheus.CounterVec
	ChatFragments      prometheus.Counter
	ChatStreamDuration prometheus.Histogram
	StreamsInFlight    prometheus.Gauge

	// Transcription metrics
	Transcriptions        *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the metrics on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ChatStreams: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wenzhen_chat_streams_total",
			Help: "Chat sends by outcome",
		}, []string{"result"}),
		ChatFragments: factory.NewCounter(prometheus.CounterOpts{
			Name: "wenzhen_chat_fragments_total",
			Help: "Reply fragments relayed to clients",
		}),
		ChatStreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wenzhen_chat_stream_duration_seconds",
			Help:    "Time from opening the upstream stream to its end",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		StreamsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wenzhen_chat_streams_in_flight",
			Help: "Chat streams currently open",
		}),
		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wenzhen_transcriptions_total",
			Help: "Transcription calls by outcome",
		}, []string{"result"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wenzhen_transcription_duration_seconds",
			Help:    "Speech provider latency",
			Buckets: prometheus.DefBuckets,
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wenzhen_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wenzhen_http_request_duration_seconds",
			Help:    "HTTP request duration, including streamed bodies",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordStreamOpened marks a chat stream as in flight
func (m *Metrics) RecordStreamOpened() {
	if m == nil {
		return
	}
	m.StreamsInFlight.Inc()
}

// RecordStreamClosed records the end of an opened stream
func (m *Metrics) RecordStreamClosed(result string, fragments int, duration time.Duration) {
	if m == nil {
		return
	}
	m.StreamsInFlight.Dec()
	m.ChatStreams.WithLabelValues(result).Inc()
	m.ChatFragments.Add(float64(fragments))
	m.ChatStreamDuration.Observe(duration.Seconds())
}

// RecordSendFailed records a send that never opened a stream
func (m *Metrics) RecordSendFailed(result string) {
	if m == nil {
		return
	}
	m.ChatStreams.WithLabelValues(result).Inc()
}

// RecordTranscription records one transcription call
func (m *Metrics) RecordTranscription(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Transcriptions.WithLabelValues(result).Inc()
	m.TranscriptionDuration.Observe(duration.Seconds())
}

// Middleware records every request by its route pattern
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			m.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
