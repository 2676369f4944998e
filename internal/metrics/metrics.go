// Package metrics provides Prometheus metrics for the harvester.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "harvester"

// Metrics groups the collectors of the pipeline. A nil *Metrics records nothing.
type Metrics struct {
	// ItemsFetched counts new source items by priority tier.
	ItemsFetched *prometheus.CounterVec
	// ItemsSkipped counts items closed without an article, by reason.
	ItemsSkipped *prometheus.CounterVec
	// FeedErrors counts failed feed fetches.
	FeedErrors *prometheus.CounterVec
	// ProviderCalls counts AI provider calls by provider and outcome.
	ProviderCalls *prometheus.CounterVec
	// ArticlesPublished counts persisted articles.
	ArticlesPublished prometheus.Counter
	// CycleDuration measures scheduler cycles.
	CycleDuration *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ItemsFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_fetched_total",
				Help:      "Total number of new source items",
			},
			[]string{"priority"},
		),
		ItemsSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_skipped_total",
				Help:      "Total number of items skipped, by reason",
			},
			[]string{"reason"},
		),
		FeedErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_errors_total",
				Help:      "Total number of failed feed fetches",
			},
			[]string{"feed"},
		),
		ProviderCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of AI provider calls",
			},
			[]string{"provider", "outcome"},
		),
		ArticlesPublished: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "articles_published_total",
				Help:      "Total number of persisted articles",
			},
		),
		CycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of scheduler cycles in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"priority"},
		),
	}
}

// Handler serves the metrics of gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordFetched records n new items for a tier.
func (m *Metrics) RecordFetched(priority string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsFetched.WithLabelValues(priority).Add(float64(n))
}

// RecordSkip records one skipped item.
func (m *Metrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	m.ItemsSkipped.WithLabelValues(reason).Inc()
}

// RecordFeedError records a failed fetch of a feed.
func (m *Metrics) RecordFeedError(feed string) {
	if m == nil {
		return
	}
	m.FeedErrors.WithLabelValues(feed).Inc()
}

// RecordProviderCall records the outcome of one provider call.
func (m *Metrics) RecordProviderCall(provider, outcome string) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, outcome).Inc()
}

// RecordPublished records n persisted articles.
func (m *Metrics) RecordPublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ArticlesPublished.Add(float64(n))
}

// ObserveCycle records the duration of a cycle.
func (m *Metrics) ObserveCycle(priority string, d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.WithLabelValues(priority).Observe(d.Seconds())
}
