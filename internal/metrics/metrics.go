// Package metrics exposes Prometheus metrics for searches and catalog reloads.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot and reloader collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Searches by outcome: "hit" or "miss"
	Searches *prometheus.CounterVec

	SearchResults prometheus.Histogram

	Commands *prometheus.CounterVec

	// Reloads by result: "ok" or "error"
	Reloads *prometheus.CounterVec

	ReloadDuration prometheus.Histogram

	UpstreamFailures prometheus.Counter

	CatalogRecords prometheus.Gauge
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Searches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_check_searches_total",
			Help: "Total searches by outcome",
		}, []string{"outcome"}),

		SearchResults: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "donor_check_search_results",
			Help:    "Number of rules returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_check_commands_total",
			Help: "Total bot commands by name",
		}, []string{"command"}),

		Reloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_check_catalog_reloads_total",
			Help: "Total catalog reloads by result",
		}, []string{"result"}),

		ReloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "donor_check_catalog_reload_duration_seconds",
			Help:    "Duration of catalog reloads including the upstream pull",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		UpstreamFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "donor_check_catalog_upstream_failures_total",
			Help: "Upstream catalog pulls that failed and fell back to the stored snapshot",
		}),

		CatalogRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "donor_check_catalog_records",
			Help: "Number of normalized rules in the active catalog",
		}),
	}
}

// ObserveSearch records one search and its result count.
func (m *Metrics) ObserveSearch(results int) {
	if m == nil {
		return
	}
	outcome := "hit"
	if results == 0 {
		outcome = "miss"
	}
	m.Searches.WithLabelValues(outcome).Inc()
	m.SearchResults.Observe(float64(results))
}

// IncrementCommand records a bot command.
func (m *Metrics) IncrementCommand(cmd string) {
	if m != nil {
		m.Commands.WithLabelValues(cmd).Inc()
	}
}

// ObserveReload records a finished reload.
func (m *Metrics) ObserveReload(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Reloads.WithLabelValues(result).Inc()
	m.ReloadDuration.Observe(d.Seconds())
}

// IncrementUpstreamFailure records a failed upstream pull.
func (m *Metrics) IncrementUpstreamFailure() {
	if m != nil {
		m.UpstreamFailures.Inc()
	}
}

// SetCatalogRecords records the size of the active catalog.
func (m *Metrics) SetCatalogRecords(n int) {
	if m != nil {
		m.CatalogRecords.Set(float64(n))
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
