package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vapter/vapter/pkg/client"
	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/health"
	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/types"
)

// VulnEngineStage hands the target to the external vulnerability
// engine, follows the task to completion and uploads the full report.
type VulnEngineStage struct {
	cfg *config.Config
	api *client.Client

	// dial opens the engine connection. Swapped in tests.
	dial func(ctx context.Context) (*gmpClient, error)
}

// NewVulnEngineStage builds the engine stage
func NewVulnEngineStage(cfg *config.Config, api *client.Client) *VulnEngineStage {
	s := &VulnEngineStage{cfg: cfg, api: api}
	s.dial = func(ctx context.Context) (*gmpClient, error) {
		return dialGMP(ctx, cfg.VulnEngine.SocketPath)
	}
	return s
}

func (s *VulnEngineStage) Module() types.Module {
	return types.ModuleVulnEngine
}

// Timeout leaves room beyond the engine-side wall clock cap for the
// report fetch and upload.
func (s *VulnEngineStage) Timeout() time.Duration {
	return time.Duration(s.cfg.Stages.VulnEngineMaxScanTime)*time.Second + 10*time.Minute
}

func (s *VulnEngineStage) Preflight() []Check {
	return []Check{{
		Name:    "engine_socket",
		Checker: health.NewTCPChecker(s.cfg.VulnEngine.SocketPath).WithNetwork("unix"),
	}}
}

func (s *VulnEngineStage) Run(ctx context.Context, req *types.StageRequest, publish StatusFunc) error {
	logger := log.WithComponent("worker.vuln_engine").With().Str("scan_id", req.ScanID).Logger()

	if s.cfg.VulnEngine.Username == "" || s.cfg.VulnEngine.Password == "" {
		return errors.New("engine credentials not configured")
	}

	if _, err := s.api.GetScan(ctx, req.ScanID); err != nil {
		return apiFault(fmt.Errorf("failed to fetch scan: %w", err))
	}

	gmp, err := s.dial(ctx)
	if err != nil {
		return Transient(err)
	}
	defer gmp.Close()

	if err := gmp.authenticate(ctx, s.cfg.VulnEngine.Username, s.cfg.VulnEngine.Password); err != nil {
		return fmt.Errorf("engine authentication failed: %w", err)
	}

	// Engine object names must be unique, so requeued runs get a
	// fresh suffix.
	name := fmt.Sprintf("vapter-%s-%d", req.ScanID, time.Now().Unix())

	targetID, err := gmp.createTarget(ctx, name, req.TargetHost, s.cfg.VulnEngine.PortListID)
	if err != nil {
		return err
	}
	taskID, err := gmp.createTask(ctx, name, s.cfg.VulnEngine.ScanConfigID, targetID, s.cfg.VulnEngine.ScannerID)
	if err != nil {
		return err
	}
	logger.Info().Str("task_id", taskID).Msg("engine task created")

	if err := s.api.UpdateVulnEngineProgress(ctx, req.ScanID, 0, engineStatusRequested); err != nil {
		logger.Warn().Err(err).Msg("failed to seed engine progress")
	}

	started := time.Now().UTC()
	reportID, err := gmp.startTask(ctx, taskID)
	if err != nil {
		return err
	}

	if err := s.followTask(ctx, gmp, req, taskID, publish, logger); err != nil {
		return err
	}

	publish(types.EventParsing, "", nil)

	report, err := gmp.fetchReport(ctx, reportID)
	if err != nil {
		return Transient(err)
	}

	completed := time.Now().UTC()
	result := &types.VulnEngineResult{
		ExternalTaskID:   taskID,
		ExternalReportID: reportID,
		ExternalTargetID: targetID,
		ExternalStatus:   engineStatusDone,
		Progress:         100,
		ReportFormat:     types.ReportFormat(s.cfg.VulnEngine.ReportFormat),
		FullReport:       report,
		StartedAt:        &started,
		CompletedAt:      &completed,
	}
	if _, err := s.api.UploadVulnEngineResults(ctx, req.ScanID, result); err != nil {
		return apiFault(fmt.Errorf("failed to upload engine results: %w", err))
	}

	logger.Info().Str("report_id", reportID).Msg("engine report uploaded")
	return nil
}

// followTask polls the engine until the task finishes, forwarding
// progress changes to both the status queue and the control surface.
// The engine-side wall clock cap stops runaway tasks.
func (s *VulnEngineStage) followTask(ctx context.Context, gmp *gmpClient, req *types.StageRequest, taskID string, publish StatusFunc, logger zerolog.Logger) error {
	interval := time.Duration(s.cfg.VulnEngine.PollingInterval) * time.Second
	maxScanTime := time.Duration(s.cfg.Stages.VulnEngineMaxScanTime) * time.Second
	started := time.Now()
	lastProgress := -1

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if time.Since(started) > maxScanTime {
			if err := gmp.stopTask(ctx, taskID); err != nil {
				logger.Warn().Err(err).Msg("failed to stop overdue engine task")
			}
			return fmt.Errorf("engine task exceeded wall clock cap of %s", maxScanTime)
		}

		engineStatus, progress, err := gmp.taskStatus(ctx, taskID)
		if err != nil {
			return Transient(fmt.Errorf("engine poll failed: %w", err))
		}

		if progress != lastProgress {
			lastProgress = progress
			pct := progress
			publish(types.EventRunning, engineStatus, &pct)
			if err := s.api.UpdateVulnEngineProgress(ctx, req.ScanID, progress, engineStatus); err != nil {
				logger.Warn().Err(err).Int("progress", progress).Msg("failed to report engine progress")
			}
		}

		switch engineStatus {
		case engineStatusDone:
			return nil
		case engineStatusStopped, engineStatusStopRequested:
			return fmt.Errorf("engine abandoned the task: %s", engineStatus)
		}
	}
}
