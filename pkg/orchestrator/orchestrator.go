package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vapter/vapter/pkg/broker"
	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/events"
	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/metrics"
	"github.com/vapter/vapter/pkg/storage"
	"github.com/vapter/vapter/pkg/types"
)

// cancelledMessage is the canonical error message of a user-cancelled scan
const cancelledMessage = "Scan cancelled by user"

// Orchestrator owns the control-plane components: the store, the broker
// connection, the lifecycle event bus, the dispatcher, the state machine
// and the watchdog. One orchestrator runs per control-plane process.
type Orchestrator struct {
	cfg        *config.Config
	store      storage.Store
	broker     broker.Broker
	bus        *events.Broker
	dispatcher *Dispatcher
	fsm        *FSM
	watchdog   *Watchdog
	collector  *metrics.Collector
	updater    *metrics.Updater
	started    bool
}

// New creates an orchestrator: opens the store under cfg.DataDir,
// connects the broker, declares the pipeline queues and starts the
// event bus. The watchdog and the metrics feeds are created but not
// started; call Start.
func New(cfg *config.Config) (*Orchestrator, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	metrics.SetComponent("store", true, "")

	b, err := broker.Connect(cfg.BrokerURL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect broker: %w", err)
	}
	if err := b.DeclareQueues(cfg.Queues.All()...); err != nil {
		b.Close()
		store.Close()
		return nil, fmt.Errorf("failed to declare queues: %w", err)
	}
	metrics.SetComponent("broker", true, "")

	bus := events.NewBroker()
	bus.Start()

	dispatcher := NewDispatcher(store, b, cfg.Queues, bus)
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		broker:     b,
		bus:        bus,
		dispatcher: dispatcher,
		fsm:        NewFSM(store, dispatcher, bus),
		watchdog:   NewWatchdog(store, dispatcher, bus, cfg.Stages),
		collector:  metrics.NewCollector(store),
		updater:    metrics.NewUpdater(bus),
	}

	log.Logger.Info().
		Str("component", "orchestrator").
		Str("data_dir", cfg.DataDir).
		Msg("Orchestrator initialized")
	return o, nil
}

// Start launches the background components
func (o *Orchestrator) Start() {
	o.updater.Start()
	o.collector.Start()
	o.watchdog.Start()
	o.started = true
}

// Shutdown stops components in reverse initialization order
func (o *Orchestrator) Shutdown() error {
	log.Logger.Info().
		Str("component", "orchestrator").
		Msg("Shutting down orchestrator")

	if o.started {
		o.watchdog.Stop()
		o.collector.Stop()
		o.updater.Stop()
	}
	o.bus.Stop()

	var errs []error
	if err := o.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close broker: %w", err))
	}
	metrics.SetComponent("broker", false, "shutting down")
	if err := o.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	metrics.SetComponent("store", false, "shutting down")
	return errors.Join(errs...)
}

// Store exposes the persistence layer to the control surface
func (o *Orchestrator) Store() storage.Store {
	return o.store
}

// Bus exposes the lifecycle event bus
func (o *Orchestrator) Bus() *events.Broker {
	return o.bus
}

// NewStatusConsumer builds a consumer bound to the configured
// status-update queue
func (o *Orchestrator) NewStatusConsumer(prefetch int) *Consumer {
	return NewConsumer(o.fsm, o.broker, o.cfg.Queues.ScanStatusUpdate, prefetch)
}

// CreateScan creates a scan for the target under the scan type and
// starts it. A failed initial dispatch does not undo the creation; the
// scan stays Pending and the watchdog re-drives it.
func (o *Orchestrator) CreateScan(ctx context.Context, targetID, scanTypeID string) (*types.Scan, error) {
	scan := &types.Scan{
		ID:          uuid.New().String(),
		TargetID:    targetID,
		ScanTypeID:  scanTypeID,
		Status:      types.StatusPending,
		InitiatedAt: time.Now().UTC(),
	}
	if err := o.store.CreateScan(scan); err != nil {
		return nil, err
	}

	o.bus.PublishScan(events.EventScanCreated, scan, "", "scan created")
	log.Logger.Info().
		Str("scan_id", scan.ID).
		Str("target_id", targetID).
		Str("scan_type_id", scanTypeID).
		Msg("scan created")

	if err := o.dispatcher.StartScan(ctx, scan); err != nil {
		log.Logger.Warn().Err(err).
			Str("scan_id", scan.ID).
			Msg("initial dispatch failed, watchdog will retry")
	}

	current, err := o.store.GetScan(scan.ID)
	if err != nil {
		return scan, nil
	}
	return current, nil
}

// CancelScan fails a non-terminal scan with the canonical cancellation
// message. Late worker events for a cancelled scan are discarded as
// stale by the state machine.
func (o *Orchestrator) CancelScan(id string) (*types.Scan, error) {
	now := time.Now().UTC()
	updated, err := o.store.UpdateScanStatus(id, types.RunningStatuses, types.StatusFailed,
		func(s *types.Scan) {
			s.CompletedAt = &now
			s.ErrorMessage = cancelledMessage
		})
	if err != nil {
		return nil, err
	}

	o.bus.PublishScan(events.EventScanCancelled, updated, "", cancelledMessage)
	log.Logger.Info().Str("scan_id", id).Msg("scan cancelled")
	return updated, nil
}

// RestartScan resets a terminal scan to Pending, clears every artifact
// of the previous run and re-enqueues port discovery.
func (o *Orchestrator) RestartScan(ctx context.Context, id string) (*types.Scan, error) {
	updated, err := o.store.UpdateScanStatus(id,
		[]types.ScanStatus{types.StatusCompleted, types.StatusFailed}, types.StatusPending,
		func(s *types.Scan) {
			s.ParsedNmapResults = nil
			s.ParsedFingerResults = nil
			s.ParsedGceResults = nil
			s.ParsedWebResults = nil
			s.ParsedVulnLookupResults = nil
			s.FingerprintSummary = nil
			s.ErrorMessage = ""
			s.ReportPath = ""
			s.StartedAt = nil
			s.CompletedAt = nil
			s.InitiatedAt = time.Now().UTC()
		})
	if err != nil {
		return nil, err
	}

	if err := o.store.PurgeScanChildren(id); err != nil {
		log.Logger.Warn().Err(err).
			Str("scan_id", id).
			Msg("failed to purge previous run artifacts")
	}

	o.bus.PublishScan(events.EventScanRestarted, updated, "", "scan restarted")
	log.Logger.Info().Str("scan_id", id).Msg("scan restarted")

	if err := o.dispatcher.StartScan(ctx, updated); err != nil {
		log.Logger.Warn().Err(err).
			Str("scan_id", id).
			Msg("restart dispatch failed, watchdog will retry")
	}

	current, err := o.store.GetScan(id)
	if err != nil {
		return updated, nil
	}
	return current, nil
}
