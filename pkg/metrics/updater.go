package metrics

import (
	"github.com/vapter/vapter/pkg/events"
)

// Updater turns scan lifecycle events into counters. It consumes the
// in-process event bus so the state machine never touches metrics
// directly.
type Updater struct {
	bus    *events.Broker
	sub    events.Subscriber
	doneCh chan struct{}
}

// NewUpdater creates an updater bound to bus
func NewUpdater(bus *events.Broker) *Updater {
	return &Updater{
		bus:    bus,
		doneCh: make(chan struct{}),
	}
}

// Start subscribes to the bus and begins counting
func (u *Updater) Start() {
	u.sub = u.bus.Subscribe()
	go u.run()
}

// Stop unsubscribes; the run loop drains and exits
func (u *Updater) Stop() {
	u.bus.Unsubscribe(u.sub)
	<-u.doneCh
}

func (u *Updater) run() {
	defer close(u.doneCh)

	for event := range u.sub {
		switch event.Type {
		case events.EventScanCreated:
			ScansCreatedTotal.Inc()
		case events.EventScanCompleted:
			ScansCompletedTotal.Inc()
		case events.EventScanFailed, events.EventScanCancelled:
			ScansFailedTotal.Inc()
		}
	}
}
