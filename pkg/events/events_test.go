package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vapter/vapter/pkg/types"
)

func receiveEvent(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case event := <-sub:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// TestPublishSubscribe verifies events reach every subscriber
func TestPublishSubscribe(t *testing.T) {
	bus := NewBroker()
	bus.Start()
	defer bus.Stop()

	first := bus.Subscribe()
	second := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	scan := &types.Scan{ID: "scan-1", TargetID: "target-1"}
	bus.PublishScan(EventStageStarted, scan, types.ModuleNmap, "nmap scan dispatched")

	for _, sub := range []Subscriber{first, second} {
		event := receiveEvent(t, sub)
		assert.Equal(t, EventStageStarted, event.Type)
		assert.Equal(t, "scan-1", event.ScanID)
		assert.Equal(t, "target-1", event.TargetID)
		assert.Equal(t, types.ModuleNmap, event.Module)
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
	}
}

// TestUnsubscribe verifies removed subscribers stop receiving
func TestUnsubscribe(t *testing.T) {
	bus := NewBroker()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	bus.Unsubscribe(sub)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-sub
	assert.False(t, open, "unsubscribed channel must be closed")
}

// TestPublishFillsDefaults verifies ID and timestamp are stamped
func TestPublishFillsDefaults(t *testing.T) {
	bus := NewBroker()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	bus.Publish(&Event{Type: EventScanCreated, ScanID: "scan-1"})

	event := receiveEvent(t, sub)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
}

// TestSlowSubscriberDoesNotBlock verifies full buffers are skipped
func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBroker()
	bus.Start()
	defer bus.Stop()

	// Never drained; its 50-slot buffer will fill.
	_ = bus.Subscribe()
	live := bus.Subscribe()

	scan := &types.Scan{ID: "scan-1", TargetID: "target-1"}
	for i := 0; i < 80; i++ {
		bus.PublishScan(EventStageCompleted, scan, types.ModuleFingerprint, "probe finished")
	}

	// The live subscriber still gets events.
	event := receiveEvent(t, live)
	require.Equal(t, EventStageCompleted, event.Type)
}

// TestNewScanEventWithoutScan verifies nil scan is tolerated
func TestNewScanEventWithoutScan(t *testing.T) {
	event := NewScanEvent(EventScanFailed, nil, "", "store unavailable")
	assert.Empty(t, event.ScanID)
	assert.Empty(t, event.TargetID)
	assert.Equal(t, "store unavailable", event.Message)
}
