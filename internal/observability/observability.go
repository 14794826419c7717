// Package observability implements the HTTP request metrics/tracing
// middleware and per-agent rate limiting that back C11. Grounded
// directly on gateway/middleware/observability.go's Observability type.
package observability

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config controls what the Observability middleware emits.
type Config struct {
	ServiceName   string
	MetricsPrefix string
	LogRequests   bool
	Enabled       bool
}

// Observability wires Prometheus counters/histograms and an OpenTelemetry
// tracer around every route the HTTP surface registers.
type Observability struct {
	cfg       Config
	logger    *log.Logger
	tracer    trace.Tracer
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	blocked   *prometheus.CounterVec
	registry  *prometheus.Registry
}

// New constructs an Observability instance with its own Prometheus
// registry, mirroring the teacher's NewObservability.
func New(cfg Config, logger *log.Logger) *Observability {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "sardis-core"
	}
	if cfg.MetricsPrefix == "" {
		cfg.MetricsPrefix = "sardis"
	}
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.MetricsPrefix,
		Name:      "requests_total",
		Help:      "Total HTTP requests processed by the control plane.",
	}, []string{"route", "method", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.MetricsPrefix,
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	blocked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.MetricsPrefix,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-agent rate limiter.",
	}, []string{"agent_id"})
	registry.MustRegister(requests, durations, blocked)
	tracer := otel.Tracer(cfg.ServiceName)
	return &Observability{
		cfg: cfg, logger: logger, tracer: tracer,
		requests: requests, durations: durations, blocked: blocked, registry: registry,
	}
}

// Middleware decorates an http.Handler with request counting, duration
// histograms, and a trace span, keyed by the caller-supplied route name
// so dynamic path segments don't explode Prometheus's cardinality.
func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !o.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ctx, span := o.tracer.Start(r.Context(), route, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
			span.End()
			duration := time.Since(start).Seconds()
			o.requests.WithLabelValues(route, r.Method, http.StatusText(recorder.status)).Inc()
			o.durations.WithLabelValues(route, r.Method).Observe(duration)
			if o.cfg.LogRequests {
				o.logger.Printf("%s %s -> %d (%.2fms)", r.Method, r.URL.Path, recorder.status, duration*1000)
			}
		})
	}
}

// RecordRateLimited increments the rate-limit rejection counter for
// agentID, called by the rate-limiting middleware on a 429.
func (o *Observability) RecordRateLimited(agentID string) {
	if !o.cfg.Enabled {
		return
	}
	o.blocked.WithLabelValues(agentID).Inc()
}

// MetricsHandler exposes the registry on /metrics.
func (o *Observability) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
