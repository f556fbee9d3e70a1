package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for storage, cache and manager.
type Metrics struct {
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheEvictions  *prometheus.CounterVec
	CacheEntries    *prometheus.GaugeVec
	StorageLatency  *prometheus.HistogramVec
	StorageErrors   *prometheus.CounterVec
	PartialScans    *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	RetryQueueDepth prometheus.Gauge
	RetryDropped    prometheus.Counter
	RetryOutcomes   *prometheus.CounterVec
	BreakerState    prometheus.Gauge
	EventsPublished prometheus.Counter
	EventsFailed    prometheus.Counter
	AuditEvents     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry() so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cache_hits_total",
			Help: "Active cache lookups answered from memory",
		}, []string{"type"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cache_misses_total",
			Help: "Active cache lookups that fell through to storage",
		}, []string{"type"}),
		CacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cache_evictions_total",
			Help: "Cache entries removed, by reason (capacity, inactive, revoked, removed)",
		}, []string{"type", "reason"}),
		CacheEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_cache_owners",
			Help: "Owners currently held in the active cache",
		}, []string{"type"}),
		StorageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_storage_operation_duration_seconds",
			Help:    "Repository operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"repository", "backend", "op"}),
		StorageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_storage_errors_total",
			Help: "Repository operations that failed in the backend",
		}, []string{"repository", "backend", "op"}),
		PartialScans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_aggregate_partial_scans_total",
			Help: "Whole-store scans that skipped a failing repository",
		}, []string{"repository"}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_manager_persist_failures_total",
			Help: "Durable writes that failed after the in-memory view was updated",
		}, []string{"op"}),
		RetryQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_retry_queue_depth",
			Help: "Durable writes waiting for retry",
		}),
		RetryDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_retry_queue_dropped_total",
			Help: "Durable writes dropped because the retry queue was full",
		}),
		RetryOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_retry_outcomes_total",
			Help: "Retry attempts by outcome (persisted, failed, skipped)",
		}, []string{"outcome"}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_retry_circuit_breaker_state",
			Help: "Retry circuit breaker state (0=closed, 1=open)",
		}),
		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_storage_events_published_total",
			Help: "Storage events delivered to the event topic",
		}),
		EventsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_storage_events_failed_total",
			Help: "Storage events the producer failed to deliver",
		}),
		AuditEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_audit_events_total",
			Help: "Audited manager actions by event and punishment type",
		}, []string{"event", "type"}),
	}
}

func (m *Metrics) IncCacheHit(typ string)  { m.CacheHits.WithLabelValues(typ).Inc() }
func (m *Metrics) IncCacheMiss(typ string) { m.CacheMisses.WithLabelValues(typ).Inc() }

func (m *Metrics) IncCacheEviction(typ, reason string) {
	m.CacheEvictions.WithLabelValues(typ, reason).Inc()
}

func (m *Metrics) SetCacheOwners(typ string, n int) {
	m.CacheEntries.WithLabelValues(typ).Set(float64(n))
}

// ObserveStorage records one repository operation.
func (m *Metrics) ObserveStorage(repository, backend, op string, took time.Duration, err error) {
	m.StorageLatency.WithLabelValues(repository, backend, op).Observe(took.Seconds())
	if err != nil {
		m.StorageErrors.WithLabelValues(repository, backend, op).Inc()
	}
}

func (m *Metrics) IncPartialScan(repository string) {
	m.PartialScans.WithLabelValues(repository).Inc()
}

func (m *Metrics) IncPersistFailure(op string) {
	m.PersistFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) SetRetryQueueDepth(n int) { m.RetryQueueDepth.Set(float64(n)) }
func (m *Metrics) IncRetryDropped()         { m.RetryDropped.Inc() }

func (m *Metrics) IncRetryOutcome(outcome string) {
	m.RetryOutcomes.WithLabelValues(outcome).Inc()
}

// SetBreakerOpen records the retry breaker state.
func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}

func (m *Metrics) IncEventsPublished() { m.EventsPublished.Inc() }
func (m *Metrics) IncEventsFailed()    { m.EventsFailed.Inc() }

func (m *Metrics) IncAuditEvent(event, typ string) { m.AuditEvents.WithLabelValues(event, typ).Inc() }
