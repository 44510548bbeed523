package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/orchestrator"
	"github.com/vapter/vapter/pkg/types"
)

// scanPatch carries the PATCHable scan fields. Pointers distinguish
// "absent" from "set to empty"; artifact maps may be nulled to clear.
type scanPatch struct {
	Status                  *types.ScanStatus       `json:"status"`
	ParsedNmapResults       *map[string]interface{} `json:"parsed_nmap_results"`
	ParsedFingerResults     *map[string]interface{} `json:"parsed_finger_results"`
	ParsedGceResults        *map[string]interface{} `json:"parsed_gce_results"`
	ParsedWebResults        *map[string]interface{} `json:"parsed_web_results"`
	ParsedVulnLookupResults *map[string]interface{} `json:"parsed_vuln_lookup_results"`
	FingerprintSummary      *map[string]interface{} `json:"fingerprint_summary"`
	ErrorMessage            *string                 `json:"error_message"`
	ReportPath              *string                 `json:"report_path"`
}

// apply copies the present fields onto the scan
func (p *scanPatch) apply(scan *types.Scan) {
	if p.ParsedNmapResults != nil {
		scan.ParsedNmapResults = *p.ParsedNmapResults
	}
	if p.ParsedFingerResults != nil {
		scan.ParsedFingerResults = *p.ParsedFingerResults
	}
	if p.ParsedGceResults != nil {
		scan.ParsedGceResults = *p.ParsedGceResults
	}
	if p.ParsedWebResults != nil {
		scan.ParsedWebResults = *p.ParsedWebResults
	}
	if p.ParsedVulnLookupResults != nil {
		scan.ParsedVulnLookupResults = *p.ParsedVulnLookupResults
	}
	if p.FingerprintSummary != nil {
		scan.FingerprintSummary = *p.FingerprintSummary
	}
	if p.ErrorMessage != nil {
		scan.ErrorMessage = *p.ErrorMessage
	}
	if p.ReportPath != nil {
		scan.ReportPath = *p.ReportPath
	}
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := parseOrdering(r, "initiated_at", "completed_at", "status")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filtered, err := s.filterScans(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if order != nil {
		sort.SliceStable(filtered, order.direction(func(i, j int) bool {
			switch order.Field {
			case "completed_at":
				ti, tj := filtered[i].CompletedAt, filtered[j].CompletedAt
				switch {
				case ti == nil:
					return tj != nil
				case tj == nil:
					return false
				default:
					return ti.Before(*tj)
				}
			case "status":
				return filtered[i].Status < filtered[j].Status
			default:
				return filtered[i].InitiatedAt.Before(filtered[j].InitiatedAt)
			}
		}))
	} else {
		// Newest first by default
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].InitiatedAt.After(filtered[j].InitiatedAt)
		})
	}

	lo, hi := page.slice(len(filtered))
	writeJSON(w, http.StatusOK, listResponse{
		Count:    len(filtered),
		Page:     page.Page,
		PageSize: page.Size,
		Results:  s.scanViews(filtered[lo:hi]),
	})
}

// filterScans evaluates the scan listing filters against the store
func (s *Server) filterScans(r *http.Request) ([]*types.Scan, error) {
	q := r.URL.Query()

	initiatedAfter, err := parseTimeFilter(r, "initiated_after")
	if err != nil {
		return nil, err
	}
	initiatedBefore, err := parseTimeFilter(r, "initiated_before")
	if err != nil {
		return nil, err
	}
	completedAfter, err := parseTimeFilter(r, "completed_after")
	if err != nil {
		return nil, err
	}
	completedBefore, err := parseTimeFilter(r, "completed_before")
	if err != nil {
		return nil, err
	}

	var statusIn []types.ScanStatus
	if raw := q.Get("status_in"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			statusIn = append(statusIn, types.ScanStatus(strings.TrimSpace(part)))
		}
	}

	// customer_id filtering needs the target ownership map
	var customerTargets map[string]bool
	if cid := q.Get("customer_id"); cid != "" {
		targets, err := s.store.ListTargetsByCustomer(cid)
		if err != nil {
			return nil, err
		}
		customerTargets = make(map[string]bool, len(targets))
		for _, t := range targets {
			customerTargets[t.ID] = true
		}
	}

	scans, err := s.store.ListScans()
	if err != nil {
		return nil, err
	}

	filtered := scans[:0]
	for _, scan := range scans {
		if tid := q.Get("target_id"); tid != "" && scan.TargetID != tid {
			continue
		}
		if customerTargets != nil && !customerTargets[scan.TargetID] {
			continue
		}
		if status := q.Get("status"); status != "" && scan.Status != types.ScanStatus(status) {
			continue
		}
		if len(statusIn) > 0 && !statusMatches(scan.Status, statusIn) {
			continue
		}
		if raw := q.Get("is_running"); raw != "" {
			if running := raw == "true"; running == scan.Status.IsTerminal() {
				continue
			}
		}
		if raw := q.Get("is_completed"); raw != "" {
			if completed := raw == "true"; completed != (scan.Status == types.StatusCompleted) {
				continue
			}
		}
		if raw := q.Get("has_errors"); raw != "" {
			if hasErrors := raw == "true"; hasErrors != (scan.ErrorMessage != "") {
				continue
			}
		}
		if initiatedAfter != nil && scan.InitiatedAt.Before(*initiatedAfter) {
			continue
		}
		if initiatedBefore != nil && scan.InitiatedAt.After(*initiatedBefore) {
			continue
		}
		if completedAfter != nil && (scan.CompletedAt == nil || scan.CompletedAt.Before(*completedAfter)) {
			continue
		}
		if completedBefore != nil && (scan.CompletedAt == nil || scan.CompletedAt.After(*completedBefore)) {
			continue
		}
		filtered = append(filtered, scan)
	}
	return filtered, nil
}

func statusMatches(status types.ScanStatus, set []types.ScanStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// createScan accepts a bare scan body and routes it through the
// orchestrator so dispatch happens exactly as for POST /targets/{id}/scan
func (s *Server) createScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetID   string `json:"target_id"`
		ScanTypeID string `json:"scan_type_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TargetID == "" || req.ScanTypeID == "" {
		writeError(w, http.StatusBadRequest, "target_id and scan_type_id are required")
		return
	}
	if _, err := s.store.GetTarget(req.TargetID); err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.store.GetScanType(req.ScanTypeID); err != nil {
		writeStoreError(w, err)
		return
	}

	scan, err := s.orch.CreateScan(r.Context(), req.TargetID, req.ScanTypeID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.scanView(scan))
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.store.GetScan(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanView(scan))
}

// updateScan is the worker upload path. Status changes go through the
// transition table and the store's compare-and-set; artifact fields
// apply in the same write. A parsed_nmap_results upload refreshes the
// derived scan detail.
func (s *Server) updateScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scan, err := s.store.GetScan(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var patch scanPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var updated *types.Scan
	if patch.Status != nil && *patch.Status != scan.Status {
		next := *patch.Status
		if !orchestrator.TransitionAllowed(scan.Status, next) {
			writeError(w, http.StatusBadRequest,
				"illegal status transition from "+string(scan.Status)+" to "+string(next))
			return
		}
		if next == types.StatusFailed && patch.ErrorMessage == nil && scan.ErrorMessage == "" {
			writeError(w, http.StatusBadRequest, "failed status requires error_message")
			return
		}

		now := time.Now().UTC()
		updated, err = s.store.UpdateScanStatus(id, []types.ScanStatus{scan.Status}, next,
			func(sc *types.Scan) {
				patch.apply(sc)
				if next.IsTerminal() && sc.CompletedAt == nil {
					sc.CompletedAt = &now
				}
				if !next.IsTerminal() && sc.StartedAt == nil && next != types.StatusQueued {
					sc.StartedAt = &now
				}
			})
	} else {
		patch.apply(scan)
		err = s.store.UpdateScan(scan)
		updated = scan
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if patch.ParsedNmapResults != nil {
		if err := orchestrator.UpdateScanDetailFromResults(s.store, updated); err != nil {
			log.Logger.Warn().Err(err).
				Str("scan_id", id).
				Msg("failed to derive scan detail from upload")
		}
	}
	writeJSON(w, http.StatusOK, s.scanView(updated))
}

func (s *Server) deleteScan(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScan(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) restartScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.orch.RestartScan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanView(scan))
}

func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.orch.CancelScan(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanView(scan))
}

// scanStatistics summarises the whole scan history
func (s *Server) scanStatistics(w http.ResponseWriter, r *http.Request) {
	scans, err := s.store.ListScans()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	byStatus := map[types.ScanStatus]int{}
	var running, completed, failed, completedLast24h int
	var durations float64
	var durationCount int
	dayAgo := time.Now().UTC().Add(-24 * time.Hour)

	for _, scan := range scans {
		byStatus[scan.Status]++
		switch {
		case scan.Status == types.StatusCompleted:
			completed++
			if scan.CompletedAt != nil && scan.CompletedAt.After(dayAgo) {
				completedLast24h++
			}
		case scan.Status == types.StatusFailed:
			failed++
		default:
			running++
		}
		if scan.StartedAt != nil && scan.CompletedAt != nil {
			durations += scan.CompletedAt.Sub(*scan.StartedAt).Seconds()
			durationCount++
		}
	}

	var avgDuration float64
	if durationCount > 0 {
		avgDuration = durations / float64(durationCount)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":                len(scans),
		"by_status":            byStatus,
		"running":              running,
		"completed":            completed,
		"failed":               failed,
		"completed_last_24h":   completedLast24h,
		"avg_duration_seconds": avgDuration,
	})
}

// updateVulnEngineProgress mirrors engine polling progress onto the
// scan's engine result row, creating it on first report.
func (s *Server) updateVulnEngineProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scan, err := s.store.GetScan(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req struct {
		Progress       *int   `json:"progress"`
		ExternalStatus string `json:"external_status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Progress == nil {
		writeError(w, http.StatusBadRequest, "progress is required")
		return
	}
	if *req.Progress < 0 || *req.Progress > 100 {
		writeError(w, http.StatusBadRequest, "progress must be within 0-100")
		return
	}

	result, err := s.store.GetVulnEngineResultByScan(id)
	if err != nil {
		result = &types.VulnEngineResult{
			ID:       uuid.New().String(),
			ScanID:   scan.ID,
			TargetID: scan.TargetID,
			Progress: *req.Progress,
		}
		result.ExternalStatus = req.ExternalStatus
		if err := s.store.CreateVulnEngineResult(result); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	result.Progress = *req.Progress
	if req.ExternalStatus != "" {
		result.ExternalStatus = req.ExternalStatus
	}
	if err := s.store.UpdateVulnEngineResult(result); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// uploadVulnEngineResults upserts the engine's full output for a scan.
// Severity counts are parsed out of the report server-side; a report
// that cannot be parsed is still stored.
func (s *Server) uploadVulnEngineResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scan, err := s.store.GetScan(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req types.VulnEngineResult
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.FullReport != "" {
		counts, err := orchestrator.ParseVulnReport(req.FullReport)
		if err != nil {
			log.Logger.Warn().Err(err).
				Str("scan_id", id).
				Msg("engine report not parseable, storing raw")
		} else {
			req.VulnerabilityCount = counts
		}
	}

	result, err := s.store.GetVulnEngineResultByScan(id)
	if err != nil {
		req.ID = uuid.New().String()
		req.ScanID = scan.ID
		req.TargetID = scan.TargetID
		if err := s.store.CreateVulnEngineResult(&req); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, &req)
		return
	}

	// Merge onto the existing row
	result.ExternalTaskID = firstNonEmpty(req.ExternalTaskID, result.ExternalTaskID)
	result.ExternalReportID = firstNonEmpty(req.ExternalReportID, result.ExternalReportID)
	result.ExternalTargetID = firstNonEmpty(req.ExternalTargetID, result.ExternalTargetID)
	result.ExternalStatus = firstNonEmpty(req.ExternalStatus, result.ExternalStatus)
	if req.ReportFormat != "" {
		result.ReportFormat = req.ReportFormat
	}
	if req.FullReport != "" {
		result.FullReport = req.FullReport
		result.VulnerabilityCount = req.VulnerabilityCount
	}
	if req.Progress > 0 {
		result.Progress = req.Progress
	}
	if req.StartedAt != nil {
		result.StartedAt = req.StartedAt
	}
	if req.CompletedAt != nil {
		result.CompletedAt = req.CompletedAt
	}
	if err := s.store.UpdateVulnEngineResult(result); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
