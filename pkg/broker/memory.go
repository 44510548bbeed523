package broker

import (
	"context"
	"sync"
)

// memoryQueueDepth is the per-queue buffer of the in-memory broker.
const memoryQueueDepth = 256

var (
	memMu      sync.Mutex
	memBrokers = make(map[string]*MemoryBroker)
)

// sharedMemoryBroker returns the process-wide broker registered under
// name, creating it on first use. Connect("memory://x") from different
// components of one process lands on the same bus.
func sharedMemoryBroker(name string) *MemoryBroker {
	memMu.Lock()
	defer memMu.Unlock()
	if b, ok := memBrokers[name]; ok && !b.isClosed() {
		return b
	}
	b := NewMemoryBroker()
	memBrokers[name] = b
	return b
}

// MemoryBroker is an in-process Broker backed by buffered channels,
// used by tests and single-process deployments. Requeued messages
// rejoin the tail of the queue rather than the head.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]chan []byte
	done   chan struct{}
	closed bool
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]chan []byte),
		done:   make(chan struct{}),
	}
}

func (m *MemoryBroker) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// queue returns the channel for name, creating it on first use.
// Publishing and consuming both declare implicitly.
func (m *MemoryBroker) queue(name string) chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = make(chan []byte, memoryQueueDepth)
		m.queues[name] = q
	}
	return q
}

// DeclareQueues creates the named queues.
func (m *MemoryBroker) DeclareQueues(queues ...string) error {
	if m.isClosed() {
		return ErrClosed
	}
	for _, q := range queues {
		m.queue(q)
	}
	return nil
}

// Publish appends the body to the named queue. When the queue is full
// the oldest message is dropped to make room.
func (m *MemoryBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if m.isClosed() {
		return ErrClosed
	}
	q := m.queue(queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrClosed
		case q <- body:
			return nil
		default:
			select {
			case <-q:
			default:
			}
		}
	}
}

// Consume delivers queued bodies to handler one at a time until ctx is
// cancelled or the broker is closed. prefetch is accepted for interface
// parity; in-memory delivery is always sequential.
func (m *MemoryBroker) Consume(ctx context.Context, queue string, prefetch int, handler Handler) error {
	q := m.queue(queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.done:
			return nil
		case body := <-q:
			if handler(ctx, body) == Requeue {
				select {
				case q <- body:
				default:
				}
			}
		}
	}
}

// QueueDepth reports the number of buffered messages on the named
// queue.
func (m *MemoryBroker) QueueDepth(queue string) int {
	return len(m.queue(queue))
}

// Close stops all consumers and releases the broker.
func (m *MemoryBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}
