// Package observability exports crawl metrics to Prometheus.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"realestate-scraper/models"
)

// MetricsNamespace prefixes every metric.
const MetricsNamespace = "realestate"

// Metrics counts crawl events per site. It satisfies scraper.Observer.
type Metrics struct {
	PagesFetched      *prometheus.CounterVec
	ListingsScraped   *prometheus.CounterVec
	ListingsSkipped   *prometheus.CounterVec
	ListingsFailed    *prometheus.CounterVec
	PersistedTotal    *prometheus.CounterVec
	DedupDegradations *prometheus.CounterVec
	RunsFinished      *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	RunsActive        *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the crawl metrics on reg. A nil reg gets a fresh
// registry, so tests and multiple instances never collide.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	site := []string{"site"}

	return &Metrics{
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "index_pages_fetched_total",
			Help:      "Index pages enumerated.",
		}, site),
		ListingsScraped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "listings_scraped_total",
			Help:      "Listings fetched and extracted.",
		}, site),
		ListingsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "listings_skipped_total",
			Help:      "Listing URLs skipped by deduplication.",
		}, []string{"site", "reason"}),
		ListingsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "listings_failed_total",
			Help:      "Listings that failed, by failure kind.",
		}, []string{"site", "kind"}),
		PersistedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "listings_persisted_total",
			Help:      "Listings written to the store.",
		}, site),
		DedupDegradations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "dedup_degraded_total",
			Help:      "Stored-URL checks that failed and were treated as unseen.",
		}, site),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "runs_finished_total",
			Help:      "Crawl runs by terminal state.",
		}, []string{"site", "state"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of crawl runs.",
			Buckets:   []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, site),
		RunsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "runs_active",
			Help:      "Crawl runs in progress.",
		}, site),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RunStarted marks a run of site as active.
func (m *Metrics) RunStarted(site string) {
	m.RunsActive.WithLabelValues(site).Inc()
}

// PageFetched counts one index page.
func (m *Metrics) PageFetched(site string) {
	m.PagesFetched.WithLabelValues(site).Inc()
}

// ListingScraped counts one extracted listing.
func (m *Metrics) ListingScraped(site string) {
	m.ListingsScraped.WithLabelValues(site).Inc()
}

// ListingSkipped counts a listing skipped as seen or stored.
func (m *Metrics) ListingSkipped(site, reason string) {
	m.ListingsSkipped.WithLabelValues(site, reason).Inc()
}

// ListingFailed counts a failed listing by kind (fetch, extract, store).
func (m *Metrics) ListingFailed(site, kind string) {
	m.ListingsFailed.WithLabelValues(site, kind).Inc()
}

// ListingsPersisted adds n written rows.
func (m *Metrics) ListingsPersisted(site string, n int) {
	m.PersistedTotal.WithLabelValues(site).Add(float64(n))
}

// DedupDegraded counts a failed stored-URL lookup.
func (m *Metrics) DedupDegraded(site string) {
	m.DedupDegradations.WithLabelValues(site).Inc()
}

// RunFinished records the terminal state and clears the active gauge.
func (m *Metrics) RunFinished(site string, state models.RunState, elapsed time.Duration) {
	m.RunsFinished.WithLabelValues(site, string(state)).Inc()
	m.RunDuration.WithLabelValues(site).Observe(elapsed.Seconds())
	m.RunsActive.WithLabelValues(site).Dec()
}
