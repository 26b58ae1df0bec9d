package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus collectors for scrape runs. All methods
// are safe on a nil *Collector.
type Collector struct {
	Registry           *prometheus.Registry
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	CardsLocatedTotal  *prometheus.CounterVec
	CardsSkippedTotal  *prometheus.CounterVec
	RecordsTotal       prometheus.Counter
	ValidationFailures *prometheus.CounterVec
	RowsPersistedTotal prometheus.Counter
}

// New registers every collector on a dedicated registry.
func New() *Collector {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Scrape runs by final status.",
		},
		[]string{"status"},
	)
	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Wall time of a scrape run from navigation to persistence.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)
	located := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cards_located_total",
			Help: "Card candidates found, by the strategy that found them.",
		},
		[]string{"strategy"},
	)
	skipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cards_skipped_total",
			Help: "Cards that produced no record, by reason.",
		},
		[]string{"reason"},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_records_extracted_total",
			Help: "Raw records built from cards.",
		},
	)
	validation := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_validation_failures_total",
			Help: "Schema failure cases, by column and check.",
		},
		[]string{"column", "check"},
	)
	persisted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_rows_persisted_total",
			Help: "Rows appended to the sink.",
		},
	)

	registry.MustRegister(runs, runDuration, located, skipped, records, validation, persisted)

	return &Collector{
		Registry:           registry,
		RunsTotal:          runs,
		RunDuration:        runDuration,
		CardsLocatedTotal:  located,
		CardsSkippedTotal:  skipped,
		RecordsTotal:       records,
		ValidationFailures: validation,
		RowsPersistedTotal: persisted,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

func (c *Collector) CardsLocated(strategy string, n int) {
	if c == nil || n == 0 {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	c.CardsLocatedTotal.WithLabelValues(strategy).Add(float64(n))
}

func (c *Collector) CardSkipped(reason string) {
	if c == nil {
		return
	}
	c.CardsSkippedTotal.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordExtracted() {
	if c == nil {
		return
	}
	c.RecordsTotal.Inc()
}

func (c *Collector) ValidationFailure(column, check string) {
	if c == nil {
		return
	}
	c.ValidationFailures.WithLabelValues(column, check).Inc()
}

func (c *Collector) RowsPersisted(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.RowsPersistedTotal.Add(float64(n))
}

func (c *Collector) RunFinished(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.RunsTotal.WithLabelValues(status).Inc()
	c.RunDuration.Observe(d.Seconds())
}
