package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawler. It implements
// fetcher.Observer so the HTTP layer can report without importing this
// package.
type Metrics struct {
	Registry             *prometheus.Registry
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      prometheus.Histogram
	ItemsCrawledTotal    prometheus.Counter
	ItemsDroppedTotal    prometheus.Counter
	PagesVisitedTotal    prometheus.Counter
	RetriesTotal         prometheus.Counter
	ErrorsTotal          *prometheus.CounterVec
	RunsTotal            *prometheus.CounterVec
	BooksReconciledTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_requests_total",
			Help: "Total HTTP requests issued by the crawler.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_request_duration_seconds",
			Help:    "HTTP request latency for crawler requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsCrawled := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_items_crawled_total",
			Help: "Total number of detail pages successfully extracted.",
		},
	)
	itemsDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_items_dropped_total",
			Help: "Total number of items dropped after fetch or parse failures.",
		},
	)
	pagesVisited := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_pages_visited_total",
			Help: "Total number of listing pages visited.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Total number of crawler errors by type.",
		},
		[]string{"error_type"},
	)
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_runs_total",
			Help: "Total number of crawl runs by terminal status.",
		},
		[]string{"status"},
	)
	booksReconciled := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_books_reconciled_total",
			Help: "Total number of reconciled books by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, itemsCrawled, itemsDropped,
		pagesVisited, retries, errorsTotal, runsTotal, booksReconciled)

	return &Metrics{
		Registry:             registry,
		RequestsTotal:        requests,
		RequestDuration:      requestDuration,
		ItemsCrawledTotal:    itemsCrawled,
		ItemsDroppedTotal:    itemsDropped,
		PagesVisitedTotal:    pagesVisited,
		RetriesTotal:         retries,
		ErrorsTotal:          errorsTotal,
		RunsTotal:            runsTotal,
		BooksReconciledTotal: booksReconciled,
	}
}

// FetchStarted increments the requests total counter.
func (m *Metrics) FetchStarted(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// FetchSucceeded records an HTTP request duration.
func (m *Metrics) FetchSucceeded(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// FetchRetried increments the retries counter.
func (m *Metrics) FetchRetried() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// FetchFailed increments the errors counter for a type label.
func (m *Metrics) FetchFailed(category string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(category).Inc()
}

// IncItem increments the extracted-items counter.
func (m *Metrics) IncItem() {
	if m == nil {
		return
	}
	m.ItemsCrawledTotal.Inc()
}

// IncDropped increments the dropped-items counter.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.ItemsDroppedTotal.Inc()
}

// IncPage increments the visited-pages counter.
func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.PagesVisitedTotal.Inc()
}

// IncRun increments the runs counter for a terminal status.
func (m *Metrics) IncRun(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

// IncReconciled increments the reconciled-books counter for an outcome.
func (m *Metrics) IncReconciled(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BooksReconciledTotal.WithLabelValues(outcome).Add(float64(n))
}
