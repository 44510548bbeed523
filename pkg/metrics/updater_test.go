package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vapter/vapter/pkg/events"
)

// waitForDelta polls a counter read until it grows by want or the
// deadline passes. Counters are process-global, so tests compare deltas.
func waitForDelta(t *testing.T, read func() float64, before, want float64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if read()-before >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("counter delta = %v, want %v", read()-before, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestUpdaterCountsLifecycle tests that bus events move the scan counters
func TestUpdaterCountsLifecycle(t *testing.T) {
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	updater := NewUpdater(bus)
	updater.Start()
	defer updater.Stop()

	created := testutil.ToFloat64(ScansCreatedTotal)
	completed := testutil.ToFloat64(ScansCompletedTotal)
	failed := testutil.ToFloat64(ScansFailedTotal)

	bus.PublishScan(events.EventScanCreated, nil, "", "")
	bus.PublishScan(events.EventScanCompleted, nil, "", "")
	bus.PublishScan(events.EventScanFailed, nil, "", "")
	bus.PublishScan(events.EventScanCancelled, nil, "", "")

	waitForDelta(t, func() float64 { return testutil.ToFloat64(ScansCreatedTotal) }, created, 1)
	waitForDelta(t, func() float64 { return testutil.ToFloat64(ScansCompletedTotal) }, completed, 1)
	waitForDelta(t, func() float64 { return testutil.ToFloat64(ScansFailedTotal) }, failed, 2)
}

// TestUpdaterIgnoresStageEvents tests that stage-level events do not
// move whole-scan counters
func TestUpdaterIgnoresStageEvents(t *testing.T) {
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	updater := NewUpdater(bus)
	updater.Start()

	completed := testutil.ToFloat64(ScansCompletedTotal)

	bus.PublishScan(events.EventStageStarted, nil, "nmap", "")
	bus.PublishScan(events.EventStageCompleted, nil, "nmap", "")

	// Give the updater time to mishandle them before checking
	time.Sleep(50 * time.Millisecond)
	updater.Stop()

	if delta := testutil.ToFloat64(ScansCompletedTotal) - completed; delta != 0 {
		t.Errorf("stage events moved ScansCompletedTotal by %v", delta)
	}
}
