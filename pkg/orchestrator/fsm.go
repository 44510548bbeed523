package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vapter/vapter/pkg/events"
	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/storage"
	"github.com/vapter/vapter/pkg/types"
)

// ApplyResult classifies what the state machine did with a status event
type ApplyResult int

const (
	// ResultApplied means a transition committed
	ResultApplied ApplyResult = iota
	// ResultDuplicate means the scan is already in the event's target state
	ResultDuplicate
	// ResultStale means the scan has moved past the event's target state
	ResultStale
	// ResultIgnored means the event was informational (received, parsing)
	ResultIgnored
	// ResultInvalid means no legal transition exists for the event
	ResultInvalid
)

// String returns the result name for logging
func (r ApplyResult) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultDuplicate:
		return "duplicate"
	case ResultStale:
		return "stale"
	case ResultIgnored:
		return "ignored"
	case ResultInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// transition is one row of the scan state table. from lists the statuses
// the scan may hold when the event arrives; anything else is a conflict
// classified by rank. dispatch runs next-stage selection after commit.
type transition struct {
	module   types.Module
	event    types.EventStatus
	from     []types.ScanStatus
	to       types.ScanStatus
	dispatch bool
}

// scanTransitions is the literal state table driving scan progression.
// Completed rows accept the stage's predecessors as well as its Running
// state so a scan whose running event was lost still advances. Report
// failure maps to Completed: a finished assessment is not discarded
// because its report could not be written.
var scanTransitions = []transition{
	// Port discovery
	{
		module: types.ModuleNmap,
		event:  types.EventRunning,
		from:   []types.ScanStatus{types.StatusPending, types.StatusQueued},
		to:     types.StatusNmapRunning,
	},
	{
		module:   types.ModuleNmap,
		event:    types.EventCompleted,
		from:     []types.ScanStatus{types.StatusPending, types.StatusQueued, types.StatusNmapRunning},
		to:       types.StatusNmapCompleted,
		dispatch: true,
	},

	// Service fingerprinting
	{
		module: types.ModuleFingerprint,
		event:  types.EventRunning,
		from:   []types.ScanStatus{types.StatusNmapCompleted},
		to:     types.StatusFingerRunning,
	},
	{
		module:   types.ModuleFingerprint,
		event:    types.EventCompleted,
		from:     []types.ScanStatus{types.StatusNmapCompleted, types.StatusFingerRunning},
		to:       types.StatusFingerCompleted,
		dispatch: true,
	},

	// Vulnerability engine
	{
		module: types.ModuleVulnEngine,
		event:  types.EventRunning,
		from:   []types.ScanStatus{types.StatusNmapCompleted, types.StatusFingerCompleted},
		to:     types.StatusVulnEngineRunning,
	},
	{
		module: types.ModuleVulnEngine,
		event:  types.EventCompleted,
		from: []types.ScanStatus{
			types.StatusNmapCompleted, types.StatusFingerCompleted,
			types.StatusVulnEngineRunning,
		},
		to:       types.StatusVulnEngineCompleted,
		dispatch: true,
	},

	// Web probing
	{
		module: types.ModuleWeb,
		event:  types.EventRunning,
		from: []types.ScanStatus{
			types.StatusNmapCompleted, types.StatusFingerCompleted,
			types.StatusVulnEngineCompleted,
		},
		to: types.StatusWebRunning,
	},
	{
		module: types.ModuleWeb,
		event:  types.EventCompleted,
		from: []types.ScanStatus{
			types.StatusNmapCompleted, types.StatusFingerCompleted,
			types.StatusVulnEngineCompleted, types.StatusWebRunning,
		},
		to:       types.StatusWebCompleted,
		dispatch: true,
	},

	// Vulnerability lookup
	{
		module: types.ModuleVulnLookup,
		event:  types.EventRunning,
		from: []types.ScanStatus{
			types.StatusNmapCompleted, types.StatusFingerCompleted,
			types.StatusVulnEngineCompleted, types.StatusWebCompleted,
		},
		to: types.StatusVulnLookupRunning,
	},
	{
		module: types.ModuleVulnLookup,
		event:  types.EventCompleted,
		from: []types.ScanStatus{
			types.StatusNmapCompleted, types.StatusFingerCompleted,
			types.StatusVulnEngineCompleted, types.StatusWebCompleted,
			types.StatusVulnLookupRunning,
		},
		to:       types.StatusVulnLookupCompleted,
		dispatch: true,
	},

	// Report assembly
	{
		module: types.ModuleReport,
		event:  types.EventRunning,
		from: []types.ScanStatus{
			types.StatusNmapCompleted, types.StatusFingerCompleted,
			types.StatusVulnEngineCompleted, types.StatusWebCompleted,
			types.StatusVulnLookupCompleted,
		},
		to: types.StatusReportRunning,
	},
	{
		module: types.ModuleReport,
		event:  types.EventCompleted,
		from:   []types.ScanStatus{types.StatusReportRunning},
		to:     types.StatusCompleted,
	},
	{
		module: types.ModuleReport,
		event:  types.EventFailed,
		from:   []types.ScanStatus{types.StatusReportRunning},
		to:     types.StatusCompleted,
	},
}

// statusRank orders statuses along the pipeline so late-arriving events
// can be told apart from illegal ones. Completed and Failed share the
// top rank; both absorb.
var statusRank = map[types.ScanStatus]int{
	types.StatusPending:             0,
	types.StatusQueued:              1,
	types.StatusNmapRunning:         2,
	types.StatusNmapCompleted:       3,
	types.StatusFingerRunning:       4,
	types.StatusFingerCompleted:     5,
	types.StatusVulnEngineRunning:   6,
	types.StatusVulnEngineCompleted: 7,
	types.StatusWebRunning:          8,
	types.StatusWebCompleted:        9,
	types.StatusVulnLookupRunning:   10,
	types.StatusVulnLookupCompleted: 11,
	types.StatusReportRunning:       12,
	types.StatusCompleted:           13,
	types.StatusFailed:              13,
}

// TransitionAllowed reports whether a scan may move directly between
// two statuses. The edge set is the transition table plus the edges the
// dispatcher commits itself: queueing, finalisation and failure. Used
// by the control surface to vet status writes that arrive over REST.
func TransitionAllowed(from, to types.ScanStatus) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	switch to {
	case types.StatusQueued:
		return from == types.StatusPending
	case types.StatusFailed:
		return !from.IsTerminal()
	case types.StatusCompleted:
		if from == types.StatusReportRunning {
			return true
		}
		_, ok := completedModule(from)
		return ok
	}
	for _, row := range scanTransitions {
		if row.to != to {
			continue
		}
		for _, s := range row.from {
			if s == from {
				return true
			}
		}
	}
	return false
}

// lookupTransition finds the table row for a module/event pair. Stage
// failures share one row shape, so they are synthesised here rather than
// written out five times.
func lookupTransition(module types.Module, event types.EventStatus) (transition, bool) {
	for _, row := range scanTransitions {
		if row.module == module && row.event == event {
			return row, true
		}
	}
	if event == types.EventFailed && module != types.ModuleReport && module.Valid() {
		return transition{
			module: module,
			event:  types.EventFailed,
			from:   types.RunningStatuses,
			to:     types.StatusFailed,
		}, true
	}
	return transition{}, false
}

// FSM advances scans through the pipeline in response to worker status
// events. Every write goes through the store's compare-and-set, so
// concurrent consumers and API handlers cannot regress a scan.
type FSM struct {
	store      storage.Store
	dispatcher *Dispatcher
	bus        *events.Broker
}

// NewFSM creates the scan state machine
func NewFSM(store storage.Store, dispatcher *Dispatcher, bus *events.Broker) *FSM {
	return &FSM{
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
	}
}

// Apply processes one worker status event. The returned error is
// reserved for store failures the caller may want to retry; conflicting
// or unknown events resolve to an ApplyResult and a log line.
func (f *FSM) Apply(ctx context.Context, event *types.StatusEvent) (ApplyResult, error) {
	logger := log.Logger.With().
		Str("scan_id", event.ScanID).
		Str("module", string(event.Module)).
		Str("status", string(event.Status)).
		Logger()

	if _, err := f.store.GetScan(event.ScanID); err != nil {
		return ResultInvalid, fmt.Errorf("failed to load scan %s: %w", event.ScanID, err)
	}

	// Progress riding on any event is recorded even when the event
	// itself turns out to be a duplicate.
	if event.Progress != nil {
		f.recordProgress(event, logger)
	}

	switch event.Status {
	case types.EventReceived, types.EventParsing:
		logger.Debug().Msg("worker progress event")
		return ResultIgnored, nil
	}

	row, ok := lookupTransition(event.Module, event.Status)
	if !ok {
		logger.Warn().Msg("no transition for status event")
		return ResultInvalid, nil
	}

	now := time.Now().UTC()
	updated, err := f.store.UpdateScanStatus(event.ScanID, row.from, row.to, func(s *types.Scan) {
		mutateForTransition(s, row, event, now)
	})
	if err != nil {
		var conflict *storage.StatusConflictError
		if errors.As(err, &conflict) {
			return classifyConflict(row, conflict, logger), nil
		}
		return ResultInvalid, fmt.Errorf("failed to apply %s/%s to scan %s: %w",
			event.Module, event.Status, event.ScanID, err)
	}

	logger.Info().Str("scan_status", string(row.to)).Msg("scan status advanced")
	f.afterCommit(ctx, updated, row, event, now)
	return ResultApplied, nil
}

// classifyConflict decides whether a compare-and-set miss was a
// duplicate delivery, a late arrival or an illegal jump. All three are
// acknowledged; requeueing any of them would loop forever.
func classifyConflict(row transition, conflict *storage.StatusConflictError, logger zerolog.Logger) ApplyResult {
	switch {
	case conflict.Current == row.to:
		logger.Debug().Msg("duplicate status event")
		return ResultDuplicate
	case statusRank[conflict.Current] >= statusRank[row.to]:
		logger.Info().
			Str("scan_status", string(conflict.Current)).
			Msg("stale status event ignored")
		return ResultStale
	default:
		logger.Warn().
			Str("scan_status", string(conflict.Current)).
			Msg("illegal status transition ignored")
		return ResultInvalid
	}
}

// mutateForTransition stamps scan timestamps and error details inside
// the store transaction that commits the transition.
func mutateForTransition(scan *types.Scan, row transition, event *types.StatusEvent, now time.Time) {
	switch {
	case row.to == types.StatusFailed:
		scan.CompletedAt = &now
		scan.ErrorMessage = failureMessage(event)
	case row.to == types.StatusCompleted:
		scan.CompletedAt = &now
		if event.Status == types.EventFailed {
			scan.ErrorMessage = "report generation failed: " + failureMessage(event)
		}
	case event.Status == types.EventRunning:
		if scan.StartedAt == nil {
			scan.StartedAt = &now
		}
	}
}

// failureMessage picks the most specific error text the worker sent
func failureMessage(event *types.StatusEvent) string {
	if event.ErrorDetails != "" {
		return event.ErrorDetails
	}
	if event.Message != "" {
		return event.Message
	}
	return fmt.Sprintf("stage %s failed", event.Module)
}

// afterCommit runs the side effects of a committed transition: stage
// timing, lifecycle events and next-stage dispatch. None of them may
// fail the already-applied event.
func (f *FSM) afterCommit(ctx context.Context, scan *types.Scan, row transition, event *types.StatusEvent, now time.Time) {
	stampStageTimestamp(f.store, scan, event.Module, event.Status, now)

	switch {
	case row.to == types.StatusFailed:
		f.bus.PublishScan(events.EventScanFailed, scan, event.Module, scan.ErrorMessage)
	case row.to == types.StatusCompleted:
		f.bus.PublishScan(events.EventScanCompleted, scan, event.Module, "")
	case event.Status == types.EventRunning:
		f.bus.PublishScan(events.EventStageStarted, scan, event.Module, event.Message)
	case event.Status == types.EventCompleted:
		f.bus.PublishScan(events.EventStageCompleted, scan, event.Module, event.Message)
	}

	if row.dispatch {
		if err := f.dispatcher.DispatchNext(ctx, scan); err != nil {
			log.Logger.Error().Err(err).
				Str("scan_id", scan.ID).
				Msg("failed to dispatch next stage")
		}
	}
}

// stampStageTimestamp records per-stage timing on the scan's detail
// row, creating it on first touch. Timing is best effort; a failed
// stamp never blocks the pipeline. The report stage has no detail
// columns and is skipped.
func stampStageTimestamp(store storage.Store, scan *types.Scan, module types.Module, status types.EventStatus, now time.Time) {
	if module == types.ModuleReport {
		return
	}
	if status != types.EventRunning && status != types.EventCompleted {
		return
	}

	logger := log.Logger.With().
		Str("scan_id", scan.ID).
		Str("module", string(module)).
		Logger()

	detail, err := store.GetScanDetailByScan(scan.ID)
	if errors.Is(err, storage.ErrNotFound) {
		detail = &types.ScanDetail{
			ID:       uuid.New().String(),
			ScanID:   scan.ID,
			TargetID: scan.TargetID,
		}
		setStageTimestamp(detail, module, status, now)
		if err := store.CreateScanDetail(detail); err != nil {
			logger.Warn().Err(err).Msg("failed to create scan detail for stage timing")
		}
		return
	}
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load scan detail for stage timing")
		return
	}

	setStageTimestamp(detail, module, status, now)
	if err := store.UpdateScanDetail(detail); err != nil {
		logger.Warn().Err(err).Msg("failed to record stage timing")
	}
}

// setStageTimestamp writes the module's started or completed column.
// Started stamps are first-wins so a worker restart does not erase the
// original start time.
func setStageTimestamp(detail *types.ScanDetail, module types.Module, status types.EventStatus, now time.Time) {
	ts := &now
	switch module {
	case types.ModuleNmap:
		if status == types.EventRunning {
			if detail.NmapStartedAt == nil {
				detail.NmapStartedAt = ts
			}
		} else {
			detail.NmapCompletedAt = ts
		}
	case types.ModuleFingerprint:
		if status == types.EventRunning {
			if detail.FingerStartedAt == nil {
				detail.FingerStartedAt = ts
			}
		} else {
			detail.FingerCompletedAt = ts
		}
	case types.ModuleVulnEngine:
		if status == types.EventRunning {
			if detail.GceStartedAt == nil {
				detail.GceStartedAt = ts
			}
		} else {
			detail.GceCompletedAt = ts
		}
	case types.ModuleWeb:
		if status == types.EventRunning {
			if detail.WebStartedAt == nil {
				detail.WebStartedAt = ts
			}
		} else {
			detail.WebCompletedAt = ts
		}
	case types.ModuleVulnLookup:
		if status == types.EventRunning {
			if detail.VulnLookupStartedAt == nil {
				detail.VulnLookupStartedAt = ts
			}
		} else {
			detail.VulnLookupCompletedAt = ts
		}
	}
}

// recordProgress mirrors engine progress onto the scan's engine result
// row when one exists. Progress before the first upload is log-only.
func (f *FSM) recordProgress(event *types.StatusEvent, logger zerolog.Logger) {
	logger.Info().Int("progress", *event.Progress).Msg("stage progress")

	if event.Module != types.ModuleVulnEngine {
		return
	}

	result, err := f.store.GetVulnEngineResultByScan(event.ScanID)
	if err != nil {
		return
	}

	result.Progress = *event.Progress
	if err := f.store.UpdateVulnEngineResult(result); err != nil {
		logger.Warn().Err(err).Msg("failed to record engine progress")
	}
}
