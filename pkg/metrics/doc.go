/*
Package metrics provides Prometheus instrumentation and health
reporting for the scan pipeline control plane.

# Architecture

Three feeds populate the metric surface:

	┌────────────┐   samples    ┌────────────┐
	│ Collector  │─────────────▶│  gauges    │  inventory + scans by status
	└────────────┘   (15s)      └────────────┘
	┌────────────┐   bus events ┌────────────┐
	│ Updater    │─────────────▶│  counters  │  created / completed / failed
	└────────────┘              └────────────┘
	┌────────────┐   inline     ┌────────────┐
	│ callers    │─────────────▶│ histograms │  sweep + API durations
	└────────────┘              └────────────┘

The Collector samples the store on a ticker, so gauges survive process
restarts (they are re-derived, not replayed). The Updater subscribes to
the in-process lifecycle bus and counts transitions as they happen.
Dispatch and consume paths increment their counters inline.

# Metric Inventory

Inventory gauges:

  - vapter_customers_total, vapter_targets_total,
    vapter_scan_types_total, vapter_port_lists_total
  - vapter_scans_total{status} - live scans per state-machine status

Pipeline counters:

  - vapter_scans_created_total, vapter_scans_completed_total,
    vapter_scans_failed_total
  - vapter_stage_dispatches_total{module} - stage requests published
  - vapter_status_events_total{module,result} - consumed worker events
    by outcome (applied, duplicate, stale, ignored, invalid)

Watchdog:

  - vapter_watchdog_sweeps_total, vapter_watchdog_sweep_duration_seconds
  - vapter_scan_timeouts_total - scans failed by the deadline sweep

API:

  - vapter_api_requests_total{method,status}
  - vapter_api_request_duration_seconds{method}

# Health and Readiness

A Registry aggregates component reports. /health turns unhealthy when
any registered component is down; /ready gates on the critical set only
(store, broker, api for the default registry); /live answers 200
whenever the process runs.

	metrics.SetComponent("broker", true, "")
	router.Get("/health", metrics.HealthHandler())
	router.Get("/ready", metrics.ReadyHandler())
	router.Get("/live", metrics.LiveHandler())

# Usage

Expose the scrape endpoint and start the background feeds:

	router.Handle("/metrics", metrics.Handler())

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	updater := metrics.NewUpdater(bus)
	updater.Start()
	defer updater.Stop()

Time an operation:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WatchdogSweepDuration)

# Best Practices

Do:
  - Report component health transitions as they happen
  - Use the Timer helper for durations instead of hand-rolled math
  - Compare counter deltas in tests; the registry is process-global

Don't:
  - Block on metric updates in hot paths
  - Reset counters at runtime
  - Gate readiness on components that can self-heal in the background

# See Also

  - pkg/events - lifecycle bus feeding the Updater
  - pkg/orchestrator - watchdog and consumer instrumentation
  - pkg/api - request middleware and endpoint wiring
*/
package metrics
