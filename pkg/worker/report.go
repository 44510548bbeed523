package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vapter/vapter/pkg/client"
	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/types"
)

// reportDocument is the assembled scan report written to disk
type reportDocument struct {
	GeneratedAt     time.Time                 `json:"generated_at"`
	Scan            reportScan                `json:"scan"`
	Customer        reportCustomer            `json:"customer"`
	Target          reportTarget              `json:"target"`
	OpenPorts       *types.OpenPorts          `json:"open_ports,omitempty"`
	OSGuess         *types.OSGuess            `json:"os_guess,omitempty"`
	Services        []reportService           `json:"services"`
	Vulnerabilities *types.VulnerabilityCount `json:"vulnerability_counts,omitempty"`
}

type reportScan struct {
	ID           string     `json:"id"`
	ScanType     string     `json:"scan_type,omitempty"`
	Status       string     `json:"status"`
	InitiatedAt  time.Time  `json:"initiated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

type reportCustomer struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Email   string `json:"email,omitempty"`
}

type reportTarget struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type reportService struct {
	Port       int    `json:"port"`
	Protocol   string `json:"protocol"`
	Service    string `json:"service,omitempty"`
	Version    string `json:"version,omitempty"`
	Confidence int    `json:"confidence"`
}

// ReportStage assembles the final JSON report from everything the
// pipeline stored and records its path on the scan.
type ReportStage struct {
	cfg *config.Config
	api *client.Client
}

// NewReportStage builds the report stage
func NewReportStage(cfg *config.Config, api *client.Client) *ReportStage {
	return &ReportStage{cfg: cfg, api: api}
}

func (s *ReportStage) Module() types.Module {
	return types.ModuleReport
}

func (s *ReportStage) Timeout() time.Duration {
	return time.Duration(s.cfg.Stages.ReportTimeout) * time.Second
}

// Preflight has nothing stage-specific to verify; the output directory
// is created on demand.
func (s *ReportStage) Preflight() []Check {
	return nil
}

func (s *ReportStage) Run(ctx context.Context, req *types.StageRequest, publish StatusFunc) error {
	logger := log.WithComponent("worker.report").With().Str("scan_id", req.ScanID).Logger()

	scan, err := s.api.GetScan(ctx, req.ScanID)
	if err != nil {
		return apiFault(fmt.Errorf("failed to fetch scan: %w", err))
	}
	target, err := s.api.GetTarget(ctx, scan.TargetID)
	if err != nil {
		return apiFault(fmt.Errorf("failed to fetch target: %w", err))
	}
	customer, err := s.api.GetCustomer(ctx, target.CustomerID)
	if err != nil {
		return apiFault(fmt.Errorf("failed to fetch customer: %w", err))
	}

	doc := reportDocument{
		GeneratedAt: time.Now().UTC(),
		Scan: reportScan{
			ID:           scan.ID,
			Status:       string(scan.Status),
			InitiatedAt:  scan.InitiatedAt,
			StartedAt:    scan.StartedAt,
			CompletedAt:  scan.CompletedAt,
			ErrorMessage: scan.ErrorMessage,
		},
		Customer: reportCustomer{
			Name:    customer.Name,
			Company: customer.CompanyName,
			Email:   customer.Email,
		},
		Target: reportTarget{
			Name:    target.Name,
			Address: target.Address,
		},
		Services: []reportService{},
	}

	if scanType, err := s.api.GetScanType(ctx, scan.ScanTypeID); err == nil {
		doc.Scan.ScanType = scanType.Name
	} else if !client.IsNotFound(err) {
		return apiFault(fmt.Errorf("failed to fetch scan type: %w", err))
	}

	if detail, err := s.api.GetScanDetailByScan(ctx, req.ScanID); err == nil {
		doc.OpenPorts = detail.OpenPorts
		doc.OSGuess = detail.OSGuess
	} else if !client.IsNotFound(err) {
		return apiFault(fmt.Errorf("failed to fetch scan detail: %w", err))
	}

	fingerprints, err := s.api.ListFingerprintDetailsByScan(ctx, req.ScanID)
	if err != nil {
		return apiFault(fmt.Errorf("failed to fetch fingerprints: %w", err))
	}
	for _, fp := range fingerprints {
		doc.Services = append(doc.Services, reportService{
			Port:       fp.Port,
			Protocol:   string(fp.Protocol),
			Service:    fp.ServiceName,
			Version:    fp.ServiceVersion,
			Confidence: fp.ConfidenceScore,
		})
	}

	if engineResult, err := s.api.GetVulnEngineResultByScan(ctx, req.ScanID); err == nil {
		counts := engineResult.VulnerabilityCount
		doc.Vulnerabilities = &counts
	} else if !client.IsNotFound(err) {
		return apiFault(fmt.Errorf("failed to fetch engine results: %w", err))
	}

	publish(types.EventParsing, "", nil)

	path, err := s.write(req.ScanID, &doc)
	if err != nil {
		return err
	}

	if _, err := s.api.PatchScan(ctx, req.ScanID, client.ScanPatch{ReportPath: &path}); err != nil {
		return apiFault(fmt.Errorf("failed to record report path: %w", err))
	}

	logger.Info().Str("path", path).Int("services", len(doc.Services)).Msg("report written")
	return nil
}

// write renders the document under the configured output directory
func (s *ReportStage) write(scanID string, doc *reportDocument) (string, error) {
	if err := os.MkdirAll(s.cfg.Report.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	name := fmt.Sprintf("report_%s_%s.json", scanID, doc.GeneratedAt.Format("20060102T150405Z"))
	path := filepath.Join(s.cfg.Report.OutputDir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
