package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vapter/vapter/pkg/types"
)

// EventType represents the type of scan lifecycle event
type EventType string

const (
	EventScanCreated    EventType = "scan.created"
	EventScanQueued     EventType = "scan.queued"
	EventStageStarted   EventType = "scan.stage.started"
	EventStageCompleted EventType = "scan.stage.completed"
	EventScanCompleted  EventType = "scan.completed"
	EventScanFailed     EventType = "scan.failed"
	EventScanCancelled  EventType = "scan.cancelled"
	EventScanRestarted  EventType = "scan.restarted"
)

// Event represents a scan lifecycle event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	ScanID    string
	TargetID  string
	Module    types.Module
	Message   string
	Metadata  map[string]string
}

// NewScanEvent creates an event describing a lifecycle change of scan.
// module is empty for whole-scan events (created, completed, failed).
func NewScanEvent(eventType EventType, scan *types.Scan, module types.Module, message string) *Event {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Module:    module,
		Message:   message,
	}
	if scan != nil {
		event.ScanID = scan.ID
		event.TargetID = scan.TargetID
	}
	return event
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// PublishScan builds and publishes a lifecycle event for scan
func (b *Broker) PublishScan(eventType EventType, scan *types.Scan, module types.Module, message string) {
	b.Publish(NewScanEvent(eventType, scan, module, message))
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
