package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/events"
	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/metrics"
	"github.com/vapter/vapter/pkg/storage"
	"github.com/vapter/vapter/pkg/types"
)

const (
	// watchdogInterval is the default sweep cadence
	watchdogInterval = time.Minute

	// deadlineFloor keeps short per-probe timeouts from killing a
	// stage that is legitimately still working through its ports
	deadlineFloor = 15 * time.Minute

	// dispatchGrace is how long a scan may sit between stages before
	// the watchdog re-drives the dispatcher
	dispatchGrace = 10 * time.Minute
)

// Watchdog guarantees pipeline closure. A worker that dies without a
// failed event leaves its scan parked in a Running status forever; the
// watchdog sweeps periodically, fails scans past their stage deadline
// and re-drives scans whose dispatch was lost.
type Watchdog struct {
	store      storage.Store
	dispatcher *Dispatcher
	bus        *events.Broker
	stages     config.StagesConfig
	interval   time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewWatchdog creates a watchdog sweeping at the default interval
func NewWatchdog(store storage.Store, dispatcher *Dispatcher, bus *events.Broker, stages config.StagesConfig) *Watchdog {
	return &Watchdog{
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
		stages:     stages,
		interval:   watchdogInterval,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the sweep loop
func (w *Watchdog) Start() {
	log.Logger.Info().
		Str("component", "watchdog").
		Dur("interval", w.interval).
		Msg("Starting watchdog")
	go w.run()
}

// Stop stops the sweep loop and waits for an in-progress sweep
func (w *Watchdog) Stop() {
	close(w.stopCh)
	<-w.doneCh
	log.Logger.Info().
		Str("component", "watchdog").
		Msg("Watchdog stopped")
}

func (w *Watchdog) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(context.Background())
		case <-w.stopCh:
			return
		}
	}
}

// sweep examines every live scan once
func (w *Watchdog) sweep(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.WatchdogSweepDuration)
		metrics.WatchdogSweepsTotal.Inc()
	}()

	scans, err := w.store.ListScans()
	if err != nil {
		log.Logger.Error().Err(err).
			Str("component", "watchdog").
			Msg("failed to list scans")
		return
	}

	now := time.Now().UTC()
	for _, scan := range scans {
		if scan.Status.IsTerminal() {
			continue
		}
		w.check(ctx, scan, now)
	}
}

// check applies the deadline policy to one scan
func (w *Watchdog) check(ctx context.Context, scan *types.Scan, now time.Time) {
	age := now.Sub(scan.UpdatedAt)

	if deadline, ok := w.stageDeadline(scan.Status); ok {
		if age > deadline {
			w.failTimedOut(scan, deadline)
		}
		return
	}

	// Between stages: Pending means the initial dispatch was lost,
	// a stage-completed status means the follow-up dispatch was.
	if age <= dispatchGrace {
		return
	}

	logger := log.Logger.With().
		Str("component", "watchdog").
		Str("scan_id", scan.ID).
		Str("scan_status", string(scan.Status)).
		Logger()

	if scan.Status == types.StatusPending {
		logger.Warn().Msg("re-driving scan stuck before dispatch")
		if err := w.dispatcher.StartScan(ctx, scan); err != nil {
			logger.Error().Err(err).Msg("failed to re-drive scan start")
		}
		return
	}

	if _, ok := completedModule(scan.Status); ok {
		logger.Warn().Msg("re-driving scan stuck between stages")
		if err := w.dispatcher.DispatchNext(ctx, scan); err != nil {
			logger.Error().Err(err).Msg("failed to re-drive dispatch")
		}
	}
}

// stageDeadline returns how long a scan may hold status before it is
// declared lost. Stages without their own knob share the discovery
// timeout. Probe-level timeouts are floored so they bound single
// probes, not the whole stage.
func (w *Watchdog) stageDeadline(status types.ScanStatus) (time.Duration, bool) {
	var deadline time.Duration
	switch status {
	case types.StatusQueued, types.StatusNmapRunning,
		types.StatusWebRunning, types.StatusVulnLookupRunning:
		deadline = time.Duration(w.stages.NmapTimeout) * time.Second
	case types.StatusFingerRunning:
		deadline = time.Duration(w.stages.FingerprintTimeout) * time.Second
	case types.StatusVulnEngineRunning:
		deadline = time.Duration(w.stages.VulnEngineMaxScanTime) * time.Second
	case types.StatusReportRunning:
		deadline = time.Duration(w.stages.ReportTimeout) * time.Second
	default:
		return 0, false
	}

	if deadline < deadlineFloor {
		deadline = deadlineFloor
	}
	return deadline, true
}

// failTimedOut moves a scan past its deadline to Failed. The
// compare-and-set pins the exact status observed during the sweep, so
// a scan that progressed meanwhile is left alone.
func (w *Watchdog) failTimedOut(scan *types.Scan, deadline time.Duration) {
	now := time.Now().UTC()
	message := fmt.Sprintf("stage timed out after %s in status %q", deadline, scan.Status)

	updated, err := w.store.UpdateScanStatus(scan.ID,
		[]types.ScanStatus{scan.Status}, types.StatusFailed, func(s *types.Scan) {
			s.CompletedAt = &now
			s.ErrorMessage = message
		})
	if err != nil {
		var conflict *storage.StatusConflictError
		if errors.As(err, &conflict) {
			return
		}
		log.Logger.Error().Err(err).
			Str("component", "watchdog").
			Str("scan_id", scan.ID).
			Msg("failed to time out scan")
		return
	}

	metrics.ScanTimeoutsTotal.Inc()
	log.Logger.Warn().
		Str("component", "watchdog").
		Str("scan_id", scan.ID).
		Str("scan_status", string(scan.Status)).
		Dur("deadline", deadline).
		Msg("scan timed out")
	w.bus.PublishScan(events.EventScanFailed, updated, "", message)
}
