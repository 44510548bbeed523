/*
Package worker implements the stage worker runtime and the pipeline stages
it hosts. A worker binds one Stage implementation to one request queue,
consumes stage requests one at a time, runs the stage against the target,
and reports progress back to the orchestrator over the status queue.

# Architecture

Each worker process owns exactly one stage:

	┌────────────────────────────────────────────────┐
	│                 Worker Process                 │
	│                                                │
	│  ┌──────────┐   ┌──────────┐   ┌────────────┐  │
	│  │ Consumer │──▶│  Stage   │──▶│  Status    │  │
	│  │ (1 msg)  │   │  Run()   │   │  Publisher │  │
	│  └──────────┘   └──────────┘   └────────────┘  │
	│        │              │               │        │
	└────────┼──────────────┼───────────────┼────────┘
	         │              │               │
	   request queue   REST gateway   scan_status_updates

The runtime is deliberately small. It validates incoming requests,
enforces the stage timeout, publishes lifecycle events, and translates
stage errors into queue outcomes. Everything scan specific lives in the
Stage implementations: nmap discovery, service fingerprinting, the
vulnerability engine driver, and report generation.

# Message Flow

For every consumed request the runtime publishes status events in order:

 1. "received" as soon as the request parses
 2. "running" before the stage starts
 3. "running" again every 30 seconds while the stage executes
 4. "parsing" from stages that post-process tool output
 5. "completed" or "failed" as the terminal event

The terminal event is published before the message is acknowledged so the
orchestrator never observes an acked request without a verdict.

# Error Discipline

Stage errors map onto queue outcomes:

  - Malformed request bodies are rejected. They will never parse, so
    requeueing wastes broker cycles.
  - Requests for entities the gateway no longer knows (404) are rejected.
    The scan was deleted mid-flight.
  - Transient errors (broker hiccups, gateway 5xx, engine connect
    failures) requeue the message for another attempt. Wrap with
    Transient to opt in.
  - Everything else publishes a "failed" event with the error detail and
    acks. The orchestrator moves the scan to Failed.

Shutdown is treated as transient: if the run context is cancelled while a
stage executes, the message requeues and the next worker picks it up.

# Usage

Workers are constructed from configuration and a stage:

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	api := client.NewClient(cfg)
	w, err := worker.New(cfg, worker.NewNmapStage(cfg, api))
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Run(ctx)

Run blocks until the context is cancelled. Preflight checks (tool
binaries, gateway liveness, broker reachability) run once before the
consume loop starts and fail fast; they keep running in the background
afterwards to feed the health endpoints.

# Stages

A Stage supplies its module identity, its hard timeout, optional
preflight checks, and the Run method:

	type Stage interface {
		Module() types.Module
		Timeout() time.Duration
		Preflight() []Check
		Run(ctx context.Context, req *types.StageRequest, publish StatusFunc) error
	}

Stages receive a publish callback for intermediate progress ("parsing",
engine progress percentages) and should return errors rather than
publishing "failed" themselves; the runtime owns terminal events.

# Integration Points

  - pkg/broker supplies the queue consumer and status publisher
  - pkg/client is how stages read and write scan state
  - pkg/health implements the dependency checks the runtime schedules
  - pkg/metrics exposes per-dependency health to the ready endpoint
  - cmd/vapter wires stages to the worker subcommands
*/
package worker
