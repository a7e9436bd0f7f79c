// Package metrics provides Prometheus metrics for smbhood.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scan metrics
	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smbhood_scans_total",
			Help: "Total topology scans",
		},
		[]string{"status"},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smbhood_scan_duration_seconds",
			Help:    "Topology scan duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	topologyEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smbhood_topology_entries",
			Help: "Number of shares in the published topology cache",
		},
	)

	workgroupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smbhood_workgroup_failures_total",
			Help: "Workgroups that contributed nothing to a scan because enumeration failed",
		},
	)

	serverFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smbhood_server_failures_total",
			Help: "Servers whose shares could not be listed during a scan",
		},
	)

	// Negative cache metrics
	negativeCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smbhood_negative_cache_hits_total",
			Help: "Lookups answered from the negative cache",
		},
	)

	negativeCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smbhood_negative_cache_entries",
			Help: "Number of entries in the negative cache",
		},
	)

	// Handle recovery metrics
	handleRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smbhood_handle_recoveries_total",
			Help: "Reopen attempts after stale handle errors",
		},
		[]string{"result"},
	)

	// Connection metrics
	mountsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smbhood_mounts_open",
			Help: "Number of mounted shares in the connection pool",
		},
	)

	mountsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smbhood_mounts_purged_total",
			Help: "Idle mounts closed by the housekeeping loop",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordScan records a finished scan.
func RecordScan(entries int, duration time.Duration, success bool) {
	scansTotal.WithLabelValues(statusLabel(success)).Inc()
	scanDuration.Observe(duration.Seconds())
	if success {
		topologyEntries.Set(float64(entries))
	}
}

// RecordWorkgroupFailure counts a workgroup that could not be enumerated.
func RecordWorkgroupFailure() {
	workgroupFailuresTotal.Inc()
}

// RecordServerFailure counts a server whose shares could not be listed.
func RecordServerFailure() {
	serverFailuresTotal.Inc()
}

// RecordNegativeCacheHit counts a short-circuited lookup.
func RecordNegativeCacheHit() {
	negativeCacheHitsTotal.Inc()
}

// SetNegativeCacheEntries sets the negative cache size.
func SetNegativeCacheEntries(n int) {
	negativeCacheEntries.Set(float64(n))
}

// RecordHandleRecovery records the outcome of a stale handle reopen.
func RecordHandleRecovery(success bool) {
	handleRecoveriesTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordPurge records a connection purge pass.
func RecordPurge(purged, open int) {
	mountsPurgedTotal.Add(float64(purged))
	mountsOpen.Set(float64(open))
}
