// Package metrics exposes Prometheus counters for the API and the mail
// pipelines.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	EmailsSent      *prometheus.CounterVec
	RepliesIngested prometheus.Counter
	RepliesSkipped  *prometheus.CounterVec
	SyncRuns        *prometheus.CounterVec
	AICalls         *prometheus.CounterVec
	AIDuration      *prometheus.HistogramVec
	Attachments     prometheus.Counter
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadflow_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		EmailsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_emails_sent_total",
				Help: "Outbound emails by type and result",
			},
			[]string{"type", "result"}, // INITIAL|REPLY, ok|error
		),
		RepliesIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_replies_ingested_total",
			Help: "Inbound replies stored by mailbox sync",
		}),
		RepliesSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_replies_skipped_total",
				Help: "Inbound messages skipped by mailbox sync",
			},
			[]string{"reason"}, // unmatched, duplicate
		),
		SyncRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_sync_runs_total",
				Help: "Mailbox sync runs by result",
			},
			[]string{"result"},
		),
		AICalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_ai_calls_total",
				Help: "Generator calls by operation and result",
			},
			[]string{"operation", "result"},
		),
		AIDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadflow_ai_call_duration_seconds",
				Help:    "Generator latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 45},
			},
			[]string{"operation"},
		),
		Attachments: f.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_attachments_uploaded_total",
			Help: "Attachments accepted by the upload endpoint",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAI records one generator call.
func (m *Metrics) ObserveAI(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AICalls.WithLabelValues(op, result).Inc()
	m.AIDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveSend records one delivery attempt.
func (m *Metrics) ObserveSend(emailType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EmailsSent.WithLabelValues(emailType, result).Inc()
}

// Middleware counts requests by chi route pattern, so path parameters do
// not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
