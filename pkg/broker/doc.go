/*
Package broker provides the message-bus adapter connecting the Vapter
orchestrator to its stage workers.

The broker package abstracts a durable FIFO message bus behind a small
interface with two implementations: a RabbitMQ client built on amqp091
for production, and a channel-backed in-process bus for tests and
single-process deployments. Connect selects the implementation from the
URL scheme (amqp://, amqps:// or memory://).

# Architecture

The pipeline communicates over named queues. Each post-discovery stage
owns one request queue; every worker reports back on a single shared
status queue:

	┌───────────────────── MESSAGE TOPOLOGY ─────────────────────┐
	│                                                             │
	│  orchestrator ──► nmap_scan_requests        ──► nmap       │
	│  orchestrator ──► fingerprint_scan_requests ──► fingerprint│
	│  orchestrator ──► vuln_engine_scan_requests ──► vuln engine│
	│  orchestrator ──► web_scan_requests         ──► web        │
	│  orchestrator ──► vuln_lookup_requests      ──► vuln lookup│
	│  orchestrator ──► report_requests           ──► report     │
	│                                                             │
	│  all workers  ──► scan_status_updates       ──► orchestrator│
	│                                                             │
	└─────────────────────────────────────────────────────────────┘

Queue properties (applied on every declaration):
  - Durable, persistent messages (survive broker restart)
  - Per-message TTL of 1 hour
  - Depth capped at 10 000 messages, drop-head overflow

# Connection Discipline

The AMQP broker keeps publishing and consuming on separate connections.
A consumer channel blocks for the whole handler run, which for a stage
worker can be hours; the dedicated publisher connection stays free to
emit progress events and service heartbeat frames (60 s interval).

Consumers run with prefetch 1 and manual acknowledgement. The handler's
Outcome decides the fate of each delivery:

	Ack     → processed, remove from queue
	Requeue → transient failure, redeliver later
	Reject  → permanent failure, discard

Lost connections are redialed with exponential backoff starting at 5 s,
doubling up to a 5 min cap, for at most 10 attempts. The queue is
re-declared after every reconnect.

# Usage

	b, err := broker.Connect(cfg.BrokerURL)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.DeclareQueues(broker.AllQueues()...); err != nil {
		return err
	}

	err = b.Consume(ctx, broker.QueueScanStatus, 1, func(ctx context.Context, body []byte) broker.Outcome {
		event, err := types.ParseStatusEvent(body)
		if err != nil {
			return broker.Reject
		}
		if err := reconcile(ctx, event); err != nil {
			return broker.Requeue
		}
		return broker.Ack
	})

# Best Practices

Do:
  - Declare queues at process start, before publishing or consuming
  - Ack only after results are durably persisted
  - Reject malformed payloads (requeueing them loops forever)
  - Cancel the Consume context before calling Close

Don't:
  - Share one connection between a consumer and a publisher
  - Auto-ack stage requests (a crash would lose the scan)
  - Requeue permanent failures
  - Publish from inside a handler without a deadline

# See Also

  - pkg/orchestrator for the status consumer and dispatcher
  - pkg/worker for the stage worker runtime
  - pkg/types for the message schemas crossing the bus
  - AMQP 0-9-1 model: https://www.rabbitmq.com/tutorials/amqp-concepts
*/
package broker
