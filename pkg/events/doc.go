/*
Package events provides an in-memory event broker for Vapter's scan
lifecycle notifications.

The events package implements a lightweight pub/sub bus for broadcasting
scan lifecycle changes to interested subscribers inside the orchestrator
process. It decouples the state machine from the components that react
to state changes (metrics counters, log streams) without putting those
concerns on the reconciliation path.

This bus is process-local and advisory. Anything that must survive a
crash or cross a process boundary goes through pkg/broker and
pkg/storage instead; a dropped lifecycle event costs at most a metrics
tick.

# Architecture

	┌────────────────── EVENT BROKER ───────────────────┐
	│                                                    │
	│  Publisher (orchestrator state machine)            │
	│       ↓                                            │
	│  Event Channel (buffer: 100)                       │
	│       ↓                                            │
	│  Broadcast Loop                                    │
	│       ↓                                            │
	│  Subscriber Channels (buffer: 50 each)             │
	│       ↓                                            │
	│  Metrics updater, API event stream                 │
	│                                                    │
	└────────────────────────────────────────────────────┘

Publishing never blocks the caller: the main channel is buffered, and a
subscriber whose buffer is full misses the event rather than stalling
the broadcast loop.

# Event Types

Scan lifecycle:
  - scan.created: a scan row was accepted
  - scan.queued: the first stage request was published
  - scan.completed: the pipeline finished cleanly
  - scan.failed: a stage failed or the scan was aborted
  - scan.cancelled: a user cancelled the scan
  - scan.restarted: a terminal scan was reset to Pending

Stage lifecycle:
  - scan.stage.started: a stage transitioned to Running
  - scan.stage.completed: a stage reported completed

# Usage

Publishing from the state machine:

	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	bus.PublishScan(events.EventStageStarted, scan, types.ModuleNmap, "nmap scan dispatched")

Consuming from a metrics updater:

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for event := range sub {
		switch event.Type {
		case events.EventScanCompleted:
			scansCompleted.Inc()
		case events.EventScanFailed:
			scansFailed.Inc()
		}
	}

# Best Practices

Do:
  - Start the broker before publishing
  - Keep subscriber loops fast; hand heavy work to another goroutine
  - Unsubscribe when done (leaked subscribers hold buffers forever)

Don't:
  - Drive scan state transitions from this bus (that is the status
    consumer's job, fed by pkg/broker)
  - Block inside a subscriber loop
  - Rely on delivery for correctness

# See Also

  - pkg/orchestrator for the publisher
  - pkg/metrics for the subscriber that feeds Prometheus counters
  - pkg/broker for the durable cross-process bus
*/
package events
