package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	CustomersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vapter_customers_total",
			Help: "Total number of live customers",
		},
	)

	TargetsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vapter_targets_total",
			Help: "Total number of live targets",
		},
	)

	ScanTypesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vapter_scan_types_total",
			Help: "Total number of live scan types",
		},
	)

	PortListsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vapter_port_lists_total",
			Help: "Total number of live port lists",
		},
	)

	// Pipeline metrics
	ScansTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vapter_scans_total",
			Help: "Total number of scans by status",
		},
		[]string{"status"},
	)

	ScansCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vapter_scans_created_total",
			Help: "Total number of scans created",
		},
	)

	ScansCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vapter_scans_completed_total",
			Help: "Total number of scans that reached Completed",
		},
	)

	ScansFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vapter_scans_failed_total",
			Help: "Total number of scans that reached Failed",
		},
	)

	StageDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vapter_stage_dispatches_total",
			Help: "Total number of stage requests published by module",
		},
		[]string{"module"},
	)

	StatusEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vapter_status_events_total",
			Help: "Total number of status events consumed by module and result",
		},
		[]string{"module", "result"},
	)

	// Watchdog metrics
	WatchdogSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vapter_watchdog_sweeps_total",
			Help: "Total number of watchdog sweeps",
		},
	)

	WatchdogSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vapter_watchdog_sweep_duration_seconds",
			Help:    "Watchdog sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScanTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vapter_scan_timeouts_total",
			Help: "Total number of scans failed by the watchdog deadline",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vapter_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vapter_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CustomersTotal)
	prometheus.MustRegister(TargetsTotal)
	prometheus.MustRegister(ScanTypesTotal)
	prometheus.MustRegister(PortListsTotal)
	prometheus.MustRegister(ScansTotal)
	prometheus.MustRegister(ScansCreatedTotal)
	prometheus.MustRegister(ScansCompletedTotal)
	prometheus.MustRegister(ScansFailedTotal)
	prometheus.MustRegister(StageDispatchesTotal)
	prometheus.MustRegister(StatusEventsTotal)
	prometheus.MustRegister(WatchdogSweepsTotal)
	prometheus.MustRegister(WatchdogSweepDuration)
	prometheus.MustRegister(ScanTimeoutsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
