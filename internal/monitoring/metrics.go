// Package monitoring exposes Prometheus metrics and a health endpoint.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Submission outcomes
const (
	OutcomeNew           = "new"
	OutcomeAlreadyExists = "already_exists"
	OutcomeDecodeError   = "decode_error"
	OutcomeStorageError  = "storage_error"
	OutcomeError         = "error"
	OutcomeRateLimited   = "rate_limited"
	OutcomeSkipped       = "skipped"
)

// Metrics holds the bot's collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	latency     prometheus.Histogram
	partitions  prometheus.Gauge
	indexed     prometheus.Gauge
	audits      *prometheus.CounterVec
	startTime   time.Time
}

// NewMetrics creates and registers all collectors, including the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupeguard_submissions_total",
			Help: "Images submitted for duplicate detection, by outcome",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dupeguard_submit_duration_seconds",
			Help:    "Time to classify one image, including partition load",
			Buckets: prometheus.DefBuckets,
		}),
		partitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dupeguard_partitions",
			Help: "Chats with a loaded fingerprint index",
		}),
		indexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dupeguard_indexed_images",
			Help: "Images across all loaded fingerprint indexes",
		}),
		audits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupeguard_storage_audit_findings_total",
			Help: "Problems found by the storage audit, by kind",
		}, []string{"kind"}),
		startTime: time.Now(),
	}

	m.registry.MustRegister(
		m.submissions,
		m.latency,
		m.partitions,
		m.indexed,
		m.audits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveSubmit counts one submission.
func (m *Metrics) ObserveSubmit(outcome string, d time.Duration) {
	m.submissions.WithLabelValues(outcome).Inc()
	if outcome != OutcomeRateLimited && outcome != OutcomeSkipped {
		m.latency.Observe(d.Seconds())
	}
}

// SetPartitions sets the number of loaded partitions.
func (m *Metrics) SetPartitions(n int) { m.partitions.Set(float64(n)) }

// SetIndexedImages sets the number of indexed images.
func (m *Metrics) SetIndexedImages(n int) { m.indexed.Set(float64(n)) }

// AddAuditFindings counts storage audit findings of one kind.
func (m *Metrics) AddAuditFindings(kind string, n int) {
	if n > 0 {
		m.audits.WithLabelValues(kind).Add(float64(n))
	}
}

// Uptime returns the time since NewMetrics.
func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }
