package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vapter/vapter/pkg/types"
)

// Queue names used by the pipeline. Each post-discovery stage owns one
// request queue; all workers share a single status-update queue.
const (
	QueueNmapScan        = "nmap_scan_requests"
	QueueFingerprintScan = "fingerprint_scan_requests"
	QueueVulnEngineScan  = "vuln_engine_scan_requests"
	QueueWebScan         = "web_scan_requests"
	QueueVulnLookup      = "vuln_lookup_requests"
	QueueReport          = "report_requests"
	QueueScanStatus      = "scan_status_updates"
)

// Queue tuning shared by every queue declaration.
const (
	// messageTTL is how long a message may sit in a queue before the
	// broker discards it, in milliseconds (1 hour).
	messageTTL = 3600000

	// maxQueueLength caps queue depth. Oldest messages are dropped
	// first when the cap is reached.
	maxQueueLength = 10000
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker is closed")

// Outcome is the consumer verdict on a single delivery.
type Outcome int

const (
	// Ack removes the message from the queue.
	Ack Outcome = iota
	// Requeue returns the message to the queue for another attempt.
	// Used for transient failures.
	Requeue
	// Reject discards the message without requeueing. Used for
	// permanent failures such as malformed payloads.
	Reject
)

// Handler processes one delivery body and reports what to do with it.
type Handler func(ctx context.Context, body []byte) Outcome

// Broker is a durable FIFO message bus with named queues.
type Broker interface {
	// DeclareQueues creates the named queues if they do not exist.
	// Declaration is idempotent.
	DeclareQueues(queues ...string) error

	// Publish enqueues a message body on the named queue.
	Publish(ctx context.Context, queue string, body []byte) error

	// Consume delivers messages from the named queue to handler, one
	// at a time, until ctx is cancelled. prefetch caps unacknowledged
	// deliveries in flight (values below 1 mean 1). The handler's
	// Outcome drives the acknowledgement. Consume blocks for the life
	// of the subscription and reconnects on broker failures.
	Consume(ctx context.Context, queue string, prefetch int, handler Handler) error

	// Close releases broker connections. In-flight Consume calls
	// should be stopped via their contexts before Close.
	Close() error
}

// Connect opens a broker for the given URL. amqp:// and amqps:// URLs
// dial RabbitMQ; memory:// URLs return a process-local broker, shared
// by name across Connect calls.
func Connect(url string) (Broker, error) {
	switch {
	case strings.HasPrefix(url, "memory://"):
		return sharedMemoryBroker(strings.TrimPrefix(url, "memory://")), nil
	case strings.HasPrefix(url, "amqp://"), strings.HasPrefix(url, "amqps://"):
		return NewAMQPBroker(url)
	default:
		return nil, fmt.Errorf("unsupported broker url %q", url)
	}
}

// StageQueues returns the request queues in pipeline order.
func StageQueues() []string {
	return []string{
		QueueNmapScan,
		QueueFingerprintScan,
		QueueVulnEngineScan,
		QueueWebScan,
		QueueVulnLookup,
		QueueReport,
	}
}

// AllQueues returns every queue the pipeline declares.
func AllQueues() []string {
	return append(StageQueues(), QueueScanStatus)
}

// RequestQueue maps a pipeline module to its stage-request queue.
func RequestQueue(module types.Module) (string, error) {
	switch module {
	case types.ModuleNmap:
		return QueueNmapScan, nil
	case types.ModuleFingerprint:
		return QueueFingerprintScan, nil
	case types.ModuleVulnEngine:
		return QueueVulnEngineScan, nil
	case types.ModuleWeb:
		return QueueWebScan, nil
	case types.ModuleVulnLookup:
		return QueueVulnLookup, nil
	case types.ModuleReport:
		return QueueReport, nil
	default:
		return "", fmt.Errorf("no request queue for module %q", module)
	}
}

// PublishJSON marshals v and publishes it on the named queue.
func PublishJSON(ctx context.Context, b Broker, queue string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message for queue %s: %w", queue, err)
	}
	return b.Publish(ctx, queue, body)
}
