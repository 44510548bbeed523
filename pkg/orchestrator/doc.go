/*
Package orchestrator drives scans through the assessment pipeline: it
owns the scan state machine, the stage dispatcher, the status-update
consumer and the watchdog.

# Architecture

	                    ┌──────────────────────────────┐
	 status events ────▶│ Consumer ──▶ FSM ──▶ store   │
	 (broker queue)     │               │     (CAS)    │
	                    │               ▼              │
	                    │          Dispatcher ─────────┼──▶ stage queues
	                    │               ▲              │
	                    │           Watchdog (sweep)   │
	                    └──────────────────────────────┘

Workers publish progress on one shared status queue. The Consumer
decodes each event and hands it to the FSM, which resolves it against a
literal transition table and commits the new status through the store's
compare-and-set. A committed stage completion triggers the Dispatcher,
which picks the next enabled stage from the scan's recipe and publishes
its request. The Watchdog sweeps for scans that stopped moving: Running
past deadline become Failed, parked between stages get re-driven.

# Delivery Semantics

The status queue is at-least-once, so every event must be safe to
replay. The FSM classifies each application:

	applied    transition committed
	duplicate  scan already in the target status
	stale      scan moved past the event (late or replayed delivery)
	ignored    informational event (received, parsing)
	invalid    no legal transition from the current status

All five classes acknowledge the delivery. Requeueing a duplicate or a
stale event would loop forever; the only requeues are store failures.
Malformed bodies and events for unknown scans are rejected outright.

Publishes happen after the transition commits. A publish failure leaves
the scan in a Running or Pending state that the Watchdog later resolves,
so no delivery outcome ever depends on a second network operation.

# Pipeline Order

Port discovery always runs first. The post-discovery stages execute in
canonical order, filtered by the scan type's plugin flags:

	nmap → fingerprint → vuln_engine → web → vuln_lookup → report

Stages whose parsed results already exist are skipped on re-dispatch,
which makes duplicate completion events harmless. Report assembly is
optional and non-fatal: a failed report still completes the scan, with
the error recorded on the row.

# Usage

	o, err := orchestrator.New(cfg)
	if err != nil {
		return err
	}
	defer o.Shutdown()
	o.Start()

	consumer := o.NewStatusConsumer(1)
	go consumer.Run(ctx)

	scan, err := o.CreateScan(ctx, targetID, scanTypeID)

# Best Practices

Do:
  - Route every status write through the FSM or the store's CAS helper
  - Treat dispatcher races as benign; the compare-and-set arbitrates
  - Size consumer prefetch to 1 unless replay volume demands more

Don't:
  - Mutate scan status via UpdateScan; it bypasses the transition table
  - Requeue events the FSM classified; they are final
  - Assume a Running scan has a live worker; only the watchdog knows

# See Also

  - pkg/storage - compare-and-set and the persistence invariants
  - pkg/broker - queue topology and acknowledgement outcomes
  - pkg/events - in-process lifecycle notifications
  - pkg/api - control surface invoking CreateScan/CancelScan/RestartScan
*/
package orchestrator
