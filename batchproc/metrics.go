/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package batchproc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives counters about processed work items.
type MetricsCollector interface {
	// IncItemsSucceeded increments the total number of items that settled successfully.
	IncItemsSucceeded()

	// IncItemsFailed increments the total number of items that exhausted all attempts.
	IncItemsFailed()

	// AddRetryAttempts increments the total number of retry (second and later) attempts.
	AddRetryAttempts(int)

	// ObserveItemDuration observes the total wall time one item spent being processed,
	// retries and inter-attempt delays included.
	ObserveItemDuration(time.Duration)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames is a list of label names that will be curried with the provided labels.
	// See PrometheusMetrics.MustCurryWith method for more details.
	// Keep in mind that if this list is not empty,
	// PrometheusMetrics.MustCurryWith method must be called further with the same labels.
	// Otherwise, the collector will panic.
	CurriedLabelNames []string
}

// PrometheusMetrics represents Prometheus metrics for batch processing.
type PrometheusMetrics struct {
	ItemsSucceededTotal *prometheus.CounterVec
	ItemsFailedTotal    *prometheus.CounterVec
	RetryAttemptsTotal  *prometheus.CounterVec
	ItemDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	itemsSucceededTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "batch_items_succeeded_total",
			Help:        "Number of work items that settled successfully.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	itemsFailedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "batch_items_failed_total",
			Help:        "Number of work items that exhausted all attempts.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	retryAttemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "batch_item_retry_attempts_total",
			Help:        "Number of retry attempts made for work items.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	itemDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "batch_item_duration_seconds",
			Help:        "Total time spent processing one work item including retries.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	return &PrometheusMetrics{
		ItemsSucceededTotal: itemsSucceededTotal,
		ItemsFailedTotal:    itemsFailedTotal,
		RetryAttemptsTotal:  retryAttemptsTotal,
		ItemDurationSeconds: itemDurationSeconds,
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		ItemsSucceededTotal: pm.ItemsSucceededTotal.MustCurryWith(labels),
		ItemsFailedTotal:    pm.ItemsFailedTotal.MustCurryWith(labels),
		RetryAttemptsTotal:  pm.RetryAttemptsTotal.MustCurryWith(labels),
		ItemDurationSeconds: pm.ItemDurationSeconds.MustCurryWith(labels).(*prometheus.HistogramVec),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.ItemsSucceededTotal,
		pm.ItemsFailedTotal,
		pm.RetryAttemptsTotal,
		pm.ItemDurationSeconds,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.ItemsSucceededTotal)
	prometheus.Unregister(pm.ItemsFailedTotal)
	prometheus.Unregister(pm.RetryAttemptsTotal)
	prometheus.Unregister(pm.ItemDurationSeconds)
}

// IncItemsSucceeded increments the total number of items that settled successfully.
func (pm *PrometheusMetrics) IncItemsSucceeded() {
	pm.ItemsSucceededTotal.With(nil).Inc()
}

// IncItemsFailed increments the total number of items that exhausted all attempts.
func (pm *PrometheusMetrics) IncItemsFailed() {
	pm.ItemsFailedTotal.With(nil).Inc()
}

// AddRetryAttempts increments the total number of retry attempts.
func (pm *PrometheusMetrics) AddRetryAttempts(n int) {
	pm.RetryAttemptsTotal.With(nil).Add(float64(n))
}

// ObserveItemDuration observes the total wall time one item spent being processed.
func (pm *PrometheusMetrics) ObserveItemDuration(d time.Duration) {
	pm.ItemDurationSeconds.With(nil).Observe(d.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) IncItemsSucceeded()                {}
func (disabledMetrics) IncItemsFailed()                   {}
func (disabledMetrics) AddRetryAttempts(int)              {}
func (disabledMetrics) ObserveItemDuration(time.Duration) {}

var disabledMetricsCollector = disabledMetrics{}
