package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace         = "variantedge"
	promVariantSubsystem  = "variant"
	promOriginSubsystem   = "origin"
	promStreamSubsystem   = "streaming"
	promResponseSubsystem = "response"
)

// Prometheus implements the prometheus metrics backend.
type Prometheus struct {
	assignmentsM     *prometheus.CounterVec
	originM          *prometheus.HistogramVec
	originErrorsM    *prometheus.CounterVec
	streamingErrorsM prometheus.Counter
	responseM        *prometheus.HistogramVec

	opts     Options
	registry *prometheus.Registry
	handler  http.Handler
}

// namespaceOf converts a dotted metrics prefix into a valid Prometheus
// namespace: edge.eu. becomes edge_eu.
func namespaceOf(prefix string) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return promNamespace
	}

	ns := []byte(prefix)
	for i, c := range ns {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == ':':
		case c >= '0' && c <= '9' && i > 0:
		default:
			ns[i] = '_'
		}
	}

	return string(ns)
}

// NewPrometheus returns a new Prometheus metric backend.
func NewPrometheus(opts Options) *Prometheus {
	namespace := namespaceOf(opts.Prefix)

	if len(opts.HistogramBuckets) == 0 {
		opts.HistogramBuckets = prometheus.DefBuckets
	}

	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promVariantSubsystem,
		Name:      "assignments_total",
		Help:      "Total number of requests served with a variant.",
	}, []string{"variant", "assignment"})

	origin := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promOriginSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of the requests to the manifest and the variant origins.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"stage", "code"})

	originErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promOriginSubsystem,
		Name:      "error_total",
		Help:      "Total number of failed requests to the manifest and the variant origins.",
	}, []string{"stage"})

	streamingErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promStreamSubsystem,
		Name:      "error_total",
		Help:      "Total number of failed rewrite streams.",
	})

	response := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promResponseSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of a response.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"code", "method"})

	p := &Prometheus{
		assignmentsM:     assignments,
		originM:          origin,
		originErrorsM:    originErrors,
		streamingErrorsM: streamingErrors,
		responseM:        response,
		opts:             opts,
		registry:         prometheus.NewRegistry(),
	}

	p.registerMetrics()
	p.handler = promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	return p
}

// sinceS returns the seconds passed since the start time until now.
func (p *Prometheus) sinceS(start time.Time) float64 {
	return time.Since(start).Seconds()
}

func (p *Prometheus) registerMetrics() {
	p.registry.MustRegister(p.assignmentsM)
	p.registry.MustRegister(p.originM)
	p.registry.MustRegister(p.originErrorsM)
	p.registry.MustRegister(p.streamingErrorsM)
	p.registry.MustRegister(p.responseM)

	// Register prometheus runtime collectors if required.
	if p.opts.EnableRuntimeMetrics {
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		p.registry.MustRegister(collectors.NewGoCollector())
	}
}

func assignmentLabel(isNew bool) string {
	if isNew {
		return "new"
	}

	return "sticky"
}

// IncVariantAssignment satisfies Metrics interface.
func (p *Prometheus) IncVariantAssignment(variant int, isNew bool) {
	p.assignmentsM.WithLabelValues(strconv.Itoa(variant), assignmentLabel(isNew)).Inc()
}

// MeasureOrigin satisfies Metrics interface. A zero status code means
// that no response was received.
func (p *Prometheus) MeasureOrigin(stage string, start time.Time, statusCode int) {
	p.originM.WithLabelValues(stage, strconv.Itoa(statusCode)).Observe(p.sinceS(start))
}

// IncOriginErrors satisfies Metrics interface.
func (p *Prometheus) IncOriginErrors(stage string) {
	p.originErrorsM.WithLabelValues(stage).Inc()
}

// IncStreamingErrors satisfies Metrics interface.
func (p *Prometheus) IncStreamingErrors() {
	p.streamingErrorsM.Inc()
}

// MeasureResponse satisfies Metrics interface.
func (p *Prometheus) MeasureResponse(statusCode int, method string, start time.Time) {
	p.responseM.WithLabelValues(strconv.Itoa(statusCode), method).Observe(p.sinceS(start))
}

// Handler satisfies Metrics interface.
func (p *Prometheus) Handler() http.Handler {
	return p.handler
}
