// Package metrics provides Prometheus metrics for the greenpoints reward service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Accrual
	submissionsAccepted prometheus.Counter
	submissionsRejected *prometheus.CounterVec
	unitsCredited       prometheus.Counter
	ledgerAccounts      prometheus.Gauge
	ledgerLatency       *prometheus.HistogramVec

	// Distribution
	distributions        *prometheus.CounterVec
	unitsDistributed     prometheus.Counter
	distributionAccounts prometheus.Gauge
	disbursements        *prometheus.CounterVec
	disbursementLatency  prometheus.Histogram
	payoutQueueSize      prometheus.Gauge
	payoutWorkers        prometheus.Gauge

	// Catalog
	catalogLookups *prometheus.CounterVec
	catalogLatency prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "greenpoints",
		subsystem:        "rewards",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.submissionsAccepted = m.counter("submissions_accepted_total", "Submissions accepted and credited")
	m.submissionsRejected = m.counterVec("submissions_rejected_total", "Submissions rejected by reason", "reason")
	m.unitsCredited = m.counter("units_credited_total", "Reward units credited to accounts")
	m.ledgerAccounts = m.gauge("ledger_accounts", "Accounts known to the ledger")
	m.ledgerLatency = m.histogramVec("ledger_latency_milliseconds", "Ledger operation latency in milliseconds", "op")

	m.distributions = m.counterVec("distributions_total", "Distribution rounds by outcome", "outcome")
	m.unitsDistributed = m.counter("units_distributed_total", "Reward units allocated by distribution rounds")
	m.distributionAccounts = m.gauge("distribution_last_accounts", "Accounts allocated in the last distribution")
	m.disbursements = m.counterVec("disbursements_total", "Disbursement attempts by outcome", "outcome")
	m.disbursementLatency = m.histogram("disbursement_latency_milliseconds", "Disbursement latency in milliseconds")
	m.payoutQueueSize = m.gauge("payout_queue_size", "Pending payout jobs")
	m.payoutWorkers = m.gauge("payout_workers", "Payout worker goroutines")

	m.catalogLookups = m.counterVec("catalog_lookups_total", "Catalog lookups by outcome", "outcome")
	m.catalogLatency = m.histogram("catalog_latency_milliseconds", "Catalog lookup latency in milliseconds")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")
}

// RecordSubmissionAccepted counts an accepted submission and its credited units.
func RecordSubmissionAccepted(units int64) {
	globalManager.submissionsAccepted.Inc()
	globalManager.unitsCredited.Add(float64(units))
}

// RecordSubmissionRejected counts a rejected submission.
func RecordSubmissionRejected(reason string) {
	globalManager.submissionsRejected.WithLabelValues(reason).Inc()
}

// UpdateLedgerAccounts sets the number of accounts in the ledger.
func UpdateLedgerAccounts(count int) {
	globalManager.ledgerAccounts.Set(float64(count))
}

// RecordLedgerLatency observes the latency of a ledger operation.
func RecordLedgerLatency(op string, latencyMs float64) {
	globalManager.ledgerLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordDistribution counts a distribution round.
func RecordDistribution(outcome string, units int64, accounts int) {
	globalManager.distributions.WithLabelValues(outcome).Inc()
	if units > 0 {
		globalManager.unitsDistributed.Add(float64(units))
		globalManager.distributionAccounts.Set(float64(accounts))
	}
}

// RecordDisbursement counts a disbursement attempt and observes its latency.
func RecordDisbursement(outcome string, latencyMs float64) {
	globalManager.disbursements.WithLabelValues(outcome).Inc()
	globalManager.disbursementLatency.Observe(latencyMs)
}

// UpdatePayoutQueueSize sets the payout queue length.
func UpdatePayoutQueueSize(size int) {
	globalManager.payoutQueueSize.Set(float64(size))
}

// UpdatePayoutWorkers sets the number of payout workers.
func UpdatePayoutWorkers(count int) {
	globalManager.payoutWorkers.Set(float64(count))
}

// RecordCatalogLookup counts a catalog lookup and observes its latency.
func RecordCatalogLookup(outcome string, latencyMs float64) {
	globalManager.catalogLookups.WithLabelValues(outcome).Inc()
	globalManager.catalogLatency.Observe(latencyMs)
}

// RecordHTTPRequest counts an HTTP request and observes its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// GetRegistry returns the registry holding the service metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
