// Package metrics exposes the core's internal gauges/counters over
// Prometheus: package-level pre-registered vectors, a Handler() for
// mounting on the mux.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	ServersKnown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cctv_registry_servers_known",
		Help: "Number of feed servers currently tracked (pruned servers are removed).",
	})
	CamerasKnown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cctv_registry_cameras_known",
		Help: "Number of camera names currently tracked (includes forgotten slots).",
	})
	DiscoveryScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cctv_discovery_scans_total",
		Help: "Discovery rounds run, partitioned by outcome.",
	}, []string{"result"})
	DiscoveryScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cctv_discovery_scan_duration_seconds",
		Help:    "Wall-clock time of one discovery round across all peers.",
		Buckets: prometheus.DefBuckets,
	})

	TransferQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cctv_transfer_queue_depth",
		Help: "Number of pending (IDLE or ACTIVE) transfer slots.",
	})
	TransferActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cctv_transfer_active",
		Help: "1 if a transfer is currently ACTIVE, 0 otherwise.",
	})
	TransfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cctv_transfers_total",
		Help: "Completed transfers, partitioned by outcome (done, failed, dropped_full).",
	}, []string{"result"})
	TransferBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cctv_transfer_bytes_total",
		Help: "Total bytes written to the archive across all completed transfers.",
	})

	StorageUsedPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cctv_storage_used_percent",
		Help: "Archive filesystem used percent, as computed for budget enforcement.",
	})
	StorageCleanupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cctv_storage_cleanups_total",
		Help: "Directories removed by the disk-budget cleaner, partitioned by reason.",
	}, []string{"reason"})
)

func init() {
	Registry.MustRegister(
		ServersKnown, CamerasKnown, DiscoveryScansTotal, DiscoveryScanDuration,
		TransferQueueDepth, TransferActive, TransfersTotal, TransferBytesTotal,
		StorageUsedPercent, StorageCleanupsTotal,
	)
}

// Handler exposes the registry for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
