/*
Package log provides structured logging for Vapter using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe concurrent writes

Log Levels:
  - Debug: detailed diagnostics (message bodies, dispatch decisions)
  - Info: lifecycle events (scan created, stage dispatched, worker started)
  - Warn: recoverable anomalies (late status event, requeued message)
  - Error: failed operations (publish failure, store write failure)
  - Fatal: unrecoverable init errors (process exits)

Context Loggers:
  - WithComponent: adds a component name to all logs
  - WithScanID: adds scan context
  - WithModule: adds pipeline stage context
  - WithQueue: adds broker queue context

# Usage

Initializing:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Structured logging:

	log.Logger.Info().
		Str("scan_id", scan.ID).
		Str("status", string(scan.Status)).
		Msg("scan status updated")

Component loggers:

	consumerLog := log.WithComponent("status-consumer")
	consumerLog.Warn().Str("scan_id", ev.ScanID).Msg("late status event ignored")

Every asynchronous failure path in the orchestrator and the workers logs
with the scan id attached so a single scan's trail can be reassembled from
aggregated logs.

# Integration Points

  - pkg/orchestrator: logs transitions, dispatch decisions, reconciliation
  - pkg/broker: logs connect/reconnect attempts and publish retries
  - pkg/worker: logs stage execution, tool invocation, upload retries
  - pkg/api: request logging middleware
*/
package log
