package metrics

import (
	"net/http"
	"time"
)

const (
	// StageManifest labels the request to the manifest endpoint.
	StageManifest = "manifest"

	// StageVariant labels the request to a variant origin.
	StageVariant = "variant"
)

// Options for initializing metrics collection.
type Options struct {
	// Common prefix for the metrics names, used as the Prometheus
	// namespace. The default is variantedge.
	Prefix string

	// If set, the Go runtime and process metrics are collected in
	// addition to the http traffic metrics.
	EnableRuntimeMetrics bool

	// HistogramBuckets define the buckets of the duration
	// histograms. The default is prometheus.DefBuckets.
	HistogramBuckets []float64
}

// Metrics collects the measurements of serving the variants.
type Metrics interface {
	IncVariantAssignment(variant int, isNew bool)
	MeasureOrigin(stage string, start time.Time, statusCode int)
	IncOriginErrors(stage string)
	IncStreamingErrors()
	MeasureResponse(statusCode int, method string, start time.Time)
	Handler() http.Handler
}

// Void is a Metrics implementation that discards all measurements.
var Void Metrics = void{}

type void struct{}

func (void) IncVariantAssignment(int, bool) {}
func (void) MeasureOrigin(string, time.Time, int) {}
func (void) IncOriginErrors(string) {}
func (void) IncStreamingErrors() {}
func (void) MeasureResponse(int, string, time.Time) {}
func (void) Handler() http.Handler { return http.NotFoundHandler() }
