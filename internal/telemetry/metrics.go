package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sentinel service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ScanTotal             *prometheus.CounterVec
	ScanDurationMs        *prometheus.HistogramVec
	LayerDurationMs       *prometheus.HistogramVec
	FindingTotal          *prometheus.CounterVec
	CacheTotal            *prometheus.CounterVec
	DependencyUnavailable *prometheus.CounterVec
	OverrideTotal         *prometheus.CounterVec
	LedgerConflictTotal   prometheus.Counter
	RateLimitHitTotal     *prometheus.CounterVec
	HTTPRequestTotal      *prometheus.CounterVec
	HTTPDurationMs        *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScanTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_scan_total",
			Help: "Total scans by direction and fused label.",
		}, []string{"direction", "label", "flagged"}),

		ScanDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_scan_duration_ms",
			Help:    "End-to-end scan latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"direction"}),

		LayerDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_layer_duration_ms",
			Help:    "Per-layer detector latency in milliseconds.",
			Buckets: []float64{0.5, 1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"layer"}),

		FindingTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_finding_total",
			Help: "Flagged findings by category and detection method.",
		}, []string{"category", "method"}),

		CacheTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_cache_total",
			Help: "Results cache lookups by outcome.",
		}, []string{"result"}),

		DependencyUnavailable: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_dependency_unavailable_total",
			Help: "Layers skipped because an external dependency failed.",
		}, []string{"dependency"}),

		OverrideTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_override_total",
			Help: "Human overrides by layer and action.",
		}, []string{"layer", "action"}),

		LedgerConflictTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_ledger_conflict_total",
			Help: "Ledger compare-and-swap conflicts that triggered a retry.",
		}),

		RateLimitHitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_rate_limit_hit_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"key_prefix"}),

		HTTPRequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_http_request_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),

		HTTPDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_http_duration_ms",
			Help:    "HTTP request duration in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		}, []string{"route"}),
	}
}

// ScanLabels holds the label values for one completed scan.
type ScanLabels struct {
	Direction  string
	Label      string
	Flagged    bool
	DurationMs float64
}

func (m *Metrics) RecordScan(l ScanLabels) {
	if m == nil {
		return
	}
	flagged := "false"
	if l.Flagged {
		flagged = "true"
	}
	m.ScanTotal.WithLabelValues(l.Direction, l.Label, flagged).Inc()
	m.ScanDurationMs.WithLabelValues(l.Direction).Observe(l.DurationMs)
}

func (m *Metrics) RecordLayer(layer string, durationMs float64) {
	if m == nil {
		return
	}
	m.LayerDurationMs.WithLabelValues(layer).Observe(durationMs)
}

func (m *Metrics) RecordFinding(category, method string) {
	if m == nil {
		return
	}
	m.FindingTotal.WithLabelValues(category, method).Inc()
}

func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDependencyUnavailable(dep string) {
	if m == nil {
		return
	}
	m.DependencyUnavailable.WithLabelValues(dep).Inc()
}

func (m *Metrics) RecordOverride(layer, action string) {
	if m == nil {
		return
	}
	m.OverrideTotal.WithLabelValues(layer, action).Inc()
}

func (m *Metrics) RecordLedgerConflict() {
	if m == nil {
		return
	}
	m.LedgerConflictTotal.Inc()
}

func (m *Metrics) RecordRateLimitHit(keyPrefix string) {
	if m == nil {
		return
	}
	m.RateLimitHitTotal.WithLabelValues(keyPrefix).Inc()
}

func (m *Metrics) RecordHTTP(route, status string, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestTotal.WithLabelValues(route, status).Inc()
	m.HTTPDurationMs.WithLabelValues(route).Observe(durationMs)
}
