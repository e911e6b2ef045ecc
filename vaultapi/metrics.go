/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package vaultapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector is an interface for collecting metrics of vault API requests.
type MetricsCollector interface {
	// RequestDuration observes the duration of the request and the status code.
	// Endpoint is the first segment of the API path (vault, search, periodic, ...),
	// not the full vault file path.
	RequestDuration(method, endpoint, status string, startTime time.Time)
}

// PrometheusMetricsCollector is a Prometheus metrics collector.
type PrometheusMetricsCollector struct {
	// Durations is a histogram of the vault API request durations.
	Durations *prometheus.HistogramVec
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	return &PrometheusMetricsCollector{
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vault_api_request_duration_seconds",
			Help:      "A histogram of the vault API request durations.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "endpoint", "status"}),
	}
}

// MustRegister registers the Prometheus metrics.
func (p *PrometheusMetricsCollector) MustRegister() {
	prometheus.MustRegister(p.Durations)
}

// Unregister the Prometheus metrics.
func (p *PrometheusMetricsCollector) Unregister() {
	prometheus.Unregister(p.Durations)
}

// RequestDuration observes the duration of the request and the status code.
func (p *PrometheusMetricsCollector) RequestDuration(method, endpoint, status string, start time.Time) {
	p.Durations.WithLabelValues(method, endpoint, status).Observe(time.Since(start).Seconds())
}

// MetricsRoundTripper measures requests done.
type MetricsRoundTripper struct {
	Delegate  http.RoundTripper
	Collector MetricsCollector
}

// NewMetricsRoundTripper creates an HTTP transport that measures requests done.
func NewMetricsRoundTripper(delegate http.RoundTripper, collector MetricsCollector) *MetricsRoundTripper {
	return &MetricsRoundTripper{Delegate: delegate, Collector: collector}
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *MetricsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.Collector == nil {
		return rt.Delegate.RoundTrip(req)
	}

	status := "0"
	start := time.Now()
	resp, err := rt.Delegate.RoundTrip(req)
	if err == nil && resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	rt.Collector.RequestDuration(req.Method, classifyEndpoint(req.URL.Path), status, start)
	return resp, err
}

// classifyEndpoint produces a non-parameterized label for the request path
// so that vault file paths don't explode metric cardinality.
func classifyEndpoint(path string) string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "root"
	}
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}
