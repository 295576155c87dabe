// Package metrics exposes Prometheus collectors for the session subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ValidationsTotal counts validation outcomes by result status.
	ValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homemeal",
		Subsystem: "session",
		Name:      "validations_total",
		Help:      "Session validation results by status.",
	}, []string{"status"})

	// StorageFallbacksTotal counts reads and writes served by the fallback
	// storage backend after the preferred backend failed.
	StorageFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "homemeal",
		Subsystem: "authstore",
		Name:      "fallbacks_total",
		Help:      "Operations that fell back to the secondary storage backend.",
	})

	// RecordCreatesTotal counts backend user records created lazily by the
	// reconciler.
	RecordCreatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "homemeal",
		Subsystem: "session",
		Name:      "record_creates_total",
		Help:      "Backend user records created during claim recovery.",
	})

	// ClaimRecoveriesTotal counts refresh failures routed through the claim
	// recovery path.
	ClaimRecoveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "homemeal",
		Subsystem: "session",
		Name:      "claim_recoveries_total",
		Help:      "Validations that entered the claim recovery path.",
	})
)

// Register registers all subsystem collectors with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(
		ValidationsTotal,
		StorageFallbacksTotal,
		RecordCreatesTotal,
		ClaimRecoveriesTotal,
	)
}

// Source is anything exposing counter snapshots, such as the resilient
// Supabase transport.
type Source interface {
	Metrics() map[string]int64
}

// SourceCollector adapts a Source into a Prometheus collector.
type SourceCollector struct {
	src  Source
	desc *prometheus.Desc
}

// NewSourceCollector creates a collector named homemeal_<subsystem>_requests
// with a "kind" label per counter in the source snapshot.
func NewSourceCollector(subsystem string, src Source) *SourceCollector {
	return &SourceCollector{
		src: src,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName("homemeal", subsystem, "requests"),
			"Request counters reported by the "+subsystem+" client.",
			[]string{"kind"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *SourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *SourceCollector) Collect(ch chan<- prometheus.Metric) {
	for kind, v := range c.src.Metrics() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), kind)
	}
}
