package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vapter/vapter/pkg/broker"
	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/events"
	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/metrics"
	"github.com/vapter/vapter/pkg/storage"
	"github.com/vapter/vapter/pkg/types"
)

// Dispatcher selects the next pipeline stage for a scan and publishes
// its stage request. The status transition always commits before the
// request is published; a scan left in a Running state by a publish
// failure is reclaimed by the watchdog.
type Dispatcher struct {
	store  storage.Store
	broker broker.Broker
	queues config.QueuesConfig
	bus    *events.Broker
}

// NewDispatcher creates a dispatcher publishing on b's queues
func NewDispatcher(store storage.Store, b broker.Broker, queues config.QueuesConfig, bus *events.Broker) *Dispatcher {
	return &Dispatcher{
		store:  store,
		broker: b,
		queues: queues,
		bus:    bus,
	}
}

// StartScan moves a fresh or restarted scan from Pending to Queued and
// publishes the port-discovery request. Racing a second start is
// benign: the loser's compare-and-set misses and nothing is published
// twice from here.
func (d *Dispatcher) StartScan(ctx context.Context, scan *types.Scan) error {
	target, err := d.store.GetTarget(scan.TargetID)
	if err != nil {
		return fmt.Errorf("failed to load target %s: %w", scan.TargetID, err)
	}

	updated, err := d.store.UpdateScanStatus(scan.ID,
		[]types.ScanStatus{types.StatusPending}, types.StatusQueued, nil)
	if err != nil {
		var conflict *storage.StatusConflictError
		if errors.As(err, &conflict) {
			log.Logger.Info().
				Str("scan_id", scan.ID).
				Str("scan_status", string(conflict.Current)).
				Msg("scan already dispatched")
			return nil
		}
		return fmt.Errorf("failed to queue scan %s: %w", scan.ID, err)
	}

	if err := d.publishRequest(ctx, updated, target, types.ModuleNmap); err != nil {
		return err
	}

	d.bus.PublishScan(events.EventScanQueued, updated, types.ModuleNmap, "port discovery queued")
	return nil
}

// DispatchNext advances the pipeline after a stage completion. scan
// must carry the freshly committed stage-completed status. The next
// stage is the first enabled plugin, in pipeline order, whose results
// are still missing; with none left the scan moves to report assembly
// or straight to Completed.
func (d *Dispatcher) DispatchNext(ctx context.Context, scan *types.Scan) error {
	scanType, err := d.store.GetScanType(scan.ScanTypeID)
	if err != nil {
		return fmt.Errorf("failed to load scan type %s: %w", scan.ScanTypeID, err)
	}
	target, err := d.store.GetTarget(scan.TargetID)
	if err != nil {
		return fmt.Errorf("failed to load target %s: %w", scan.TargetID, err)
	}

	if next, ok := nextStage(scan, scanType); ok {
		return d.dispatchStage(ctx, scan, target, next)
	}
	if scanType.ReportEnabled && !scanType.OnlyDiscovery {
		return d.dispatchStage(ctx, scan, target, types.ModuleReport)
	}
	return d.finalize(scan)
}

// nextStage returns the first outstanding plugin after the scan's
// current position. Plugins whose results already exist are skipped so
// a replayed completion cannot run a stage twice.
func nextStage(scan *types.Scan, scanType *types.ScanType) (types.Module, bool) {
	if scanType.OnlyDiscovery {
		return "", false
	}

	completed, ok := completedModule(scan.Status)
	if !ok {
		return "", false
	}

	start := 0
	if completed != types.ModuleNmap {
		start = pluginIndex(completed) + 1
	}
	for _, m := range types.PluginOrder[start:] {
		if scanType.PluginEnabled(m) && scan.ParsedResults(m) == nil {
			return m, true
		}
	}
	return "", false
}

// completedModule maps a stage-completed status to its module
func completedModule(status types.ScanStatus) (types.Module, bool) {
	switch status {
	case types.StatusNmapCompleted:
		return types.ModuleNmap, true
	case types.StatusFingerCompleted:
		return types.ModuleFingerprint, true
	case types.StatusVulnEngineCompleted:
		return types.ModuleVulnEngine, true
	case types.StatusWebCompleted:
		return types.ModuleWeb, true
	case types.StatusVulnLookupCompleted:
		return types.ModuleVulnLookup, true
	default:
		return "", false
	}
}

// runningStatus maps a module to its Running status
func runningStatus(module types.Module) types.ScanStatus {
	switch module {
	case types.ModuleNmap:
		return types.StatusNmapRunning
	case types.ModuleFingerprint:
		return types.StatusFingerRunning
	case types.ModuleVulnEngine:
		return types.StatusVulnEngineRunning
	case types.ModuleWeb:
		return types.StatusWebRunning
	case types.ModuleVulnLookup:
		return types.StatusVulnLookupRunning
	case types.ModuleReport:
		return types.StatusReportRunning
	default:
		return ""
	}
}

// pluginIndex returns the module's position in the plugin order, -1 for
// the discovery stage
func pluginIndex(m types.Module) int {
	for i, p := range types.PluginOrder {
		if p == m {
			return i
		}
	}
	return -1
}

// dispatchStage marks the scan running for module and publishes its
// stage request. A compare-and-set miss means another dispatcher won
// the race; that is not an error.
func (d *Dispatcher) dispatchStage(ctx context.Context, scan *types.Scan, target *types.Target, module types.Module) error {
	now := time.Now().UTC()
	updated, err := d.store.UpdateScanStatus(scan.ID,
		[]types.ScanStatus{scan.Status}, runningStatus(module), func(s *types.Scan) {
			if s.StartedAt == nil {
				s.StartedAt = &now
			}
		})
	if err != nil {
		var conflict *storage.StatusConflictError
		if errors.As(err, &conflict) {
			log.Logger.Info().
				Str("scan_id", scan.ID).
				Str("module", string(module)).
				Str("scan_status", string(conflict.Current)).
				Msg("stage already dispatched")
			return nil
		}
		return fmt.Errorf("failed to mark scan %s running for %s: %w", scan.ID, module, err)
	}

	stampStageTimestamp(d.store, updated, module, types.EventRunning, now)

	if err := d.publishRequest(ctx, updated, target, module); err != nil {
		return err
	}

	d.bus.PublishScan(events.EventStageStarted, updated, module,
		fmt.Sprintf("%s stage dispatched", module))
	return nil
}

// publishRequest enqueues the stage request for module on its queue
func (d *Dispatcher) publishRequest(ctx context.Context, scan *types.Scan, target *types.Target, module types.Module) error {
	queue, err := d.queues.RequestQueue(module)
	if err != nil {
		return err
	}

	req := &types.StageRequest{
		ScanID:     scan.ID,
		TargetID:   scan.TargetID,
		TargetHost: target.Address,
		ScanTypeID: scan.ScanTypeID,
		Plugin:     module,
		Timestamp:  time.Now().UTC(),
	}
	if err := broker.PublishJSON(ctx, d.broker, queue, req); err != nil {
		return fmt.Errorf("failed to publish %s request for scan %s: %w", module, scan.ID, err)
	}

	metrics.StageDispatchesTotal.WithLabelValues(string(module)).Inc()
	log.Logger.Info().
		Str("scan_id", scan.ID).
		Str("module", string(module)).
		Str("queue", queue).
		Msg("stage request published")
	return nil
}

// finalize completes a scan that has no stages left and no report to
// assemble
func (d *Dispatcher) finalize(scan *types.Scan) error {
	now := time.Now().UTC()
	updated, err := d.store.UpdateScanStatus(scan.ID,
		[]types.ScanStatus{scan.Status}, types.StatusCompleted, func(s *types.Scan) {
			s.CompletedAt = &now
		})
	if err != nil {
		var conflict *storage.StatusConflictError
		if errors.As(err, &conflict) {
			log.Logger.Info().
				Str("scan_id", scan.ID).
				Str("scan_status", string(conflict.Current)).
				Msg("scan already finalized")
			return nil
		}
		return fmt.Errorf("failed to complete scan %s: %w", scan.ID, err)
	}

	d.bus.PublishScan(events.EventScanCompleted, updated, "", "pipeline finished")
	log.Logger.Info().Str("scan_id", scan.ID).Msg("scan completed")
	return nil
}
