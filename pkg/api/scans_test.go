package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vapter/vapter/pkg/types"
)

// scanBody is the subset of a scan view the tests read back
type scanBody struct {
	ID              string                 `json:"id"`
	TargetID        string                 `json:"target_id"`
	Status          types.ScanStatus       `json:"status"`
	StartedAt       *time.Time             `json:"started_at"`
	CompletedAt     *time.Time             `json:"completed_at"`
	ErrorMessage    string                 `json:"error_message"`
	TargetAddress   string                 `json:"target_address"`
	ScanTypeName    string                 `json:"scan_type_name"`
	DurationSeconds *float64               `json:"duration_seconds"`
	Detail          *types.ScanDetail      `json:"detail"`
	ParsedNmap      map[string]interface{} `json:"parsed_nmap_results"`
}

// startScan launches a scan over HTTP and returns its body
func (a *testAPI) startScan(targetID, scanTypeID string) scanBody {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/orchestrator/targets/"+targetID+"/scan",
		map[string]string{"scan_type_id": scanTypeID})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var scan scanBody
	a.decode(rec, &scan)
	return scan
}

func TestStartScanFlow(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.30")
	recipe := a.newScanType(false, types.ModuleFingerprint)

	rec := a.do(http.MethodPost, "/api/orchestrator/targets/"+target.ID+"/scan",
		map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code, "scan_type_id is mandatory")

	rec = a.do(http.MethodPost, "/api/orchestrator/targets/"+target.ID+"/scan",
		map[string]string{"scan_type_id": uuid.New().String()})
	require.Equal(t, http.StatusNotFound, rec.Code)

	scan := a.startScan(target.ID, recipe.ID)
	assert.Equal(t, types.StatusQueued, scan.Status, "dispatch happens on create")
	assert.Equal(t, "192.0.2.30", scan.TargetAddress)
	assert.Equal(t, recipe.Name, scan.ScanTypeName)

	// The target is busy until the first scan finishes
	rec = a.do(http.MethodPost, "/api/orchestrator/targets/"+target.ID+"/scan",
		map[string]string{"scan_type_id": recipe.ID})
	require.Equal(t, http.StatusConflict, rec.Code)
	var e errEnvelope
	a.decode(rec, &e)
	assert.Contains(t, e.Error, "already has scan")
}

// TestCreateScanEndpoint checks POST /scans routes through the same
// dispatch path as POST /targets/{id}/scan
func TestCreateScanEndpoint(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.31")
	recipe := a.newScanType(true)

	rec := a.do(http.MethodPost, "/api/orchestrator/scans", map[string]string{
		"target_id": target.ID,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/orchestrator/scans", map[string]string{
		"target_id":    target.ID,
		"scan_type_id": recipe.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var scan scanBody
	a.decode(rec, &scan)
	assert.Equal(t, types.StatusQueued, scan.Status)
	assert.Equal(t, target.ID, scan.TargetID)
}

// TestScanArtifactPatch drives the worker upload path: status moves
// through the transition table and a parsed_nmap_results upload
// refreshes the derived detail row.
func TestScanArtifactPatch(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.32")
	recipe := a.newScanType(false, types.ModuleFingerprint)
	scan := a.startScan(target.ID, recipe.ID)

	rec := a.do(http.MethodPatch, "/api/orchestrator/scans/"+scan.ID, map[string]interface{}{
		"status": types.StatusNmapRunning,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var running scanBody
	a.decode(rec, &running)
	assert.Equal(t, types.StatusNmapRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	parsed := map[string]interface{}{
		"hosts": []interface{}{
			map[string]interface{}{
				"ports": []interface{}{
					map[string]interface{}{
						"portid":   443,
						"protocol": "tcp",
						"state":    "open",
						"service":  map[string]interface{}{"name": "https", "product": "nginx"},
					},
					map[string]interface{}{
						"portid":   8080,
						"protocol": "tcp",
						"state":    "closed",
					},
				},
				"os": map[string]interface{}{"name": "Linux 5.4", "accuracy": 95},
			},
		},
	}
	rec = a.do(http.MethodPatch, "/api/orchestrator/scans/"+scan.ID, map[string]interface{}{
		"status":              types.StatusNmapCompleted,
		"parsed_nmap_results": parsed,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var completed scanBody
	a.decode(rec, &completed)
	assert.Equal(t, types.StatusNmapCompleted, completed.Status)
	assert.NotNil(t, completed.ParsedNmap)

	rec = a.do(http.MethodGet,
		"/api/orchestrator/scan-details/by_scan?scan_id="+scan.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var detail types.ScanDetail
	a.decode(rec, &detail)
	require.NotNil(t, detail.OpenPorts)
	require.Len(t, detail.OpenPorts.TCP, 1)
	assert.Equal(t, 443, detail.OpenPorts.TCP[0].Port)
	assert.Equal(t, "https", detail.OpenPorts.TCP[0].Service)
	require.NotNil(t, detail.OSGuess)
	assert.Equal(t, "Linux 5.4", detail.OSGuess.Name)

	// Artifact-only patch, no status change
	rec = a.do(http.MethodPatch, "/api/orchestrator/scans/"+scan.ID, map[string]interface{}{
		"fingerprint_summary": map[string]interface{}{"total": 1},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var patched scanBody
	a.decode(rec, &patched)
	assert.Equal(t, types.StatusNmapCompleted, patched.Status, "status untouched")
}

func TestScanStatusPatchLegality(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.33")
	recipe := a.newScanType(false, types.ModuleFingerprint)
	scan := a.startScan(target.ID, recipe.ID)

	// Queued cannot jump straight to Completed
	rec := a.do(http.MethodPatch, "/api/orchestrator/scans/"+scan.ID, map[string]interface{}{
		"status": types.StatusCompleted,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var e errEnvelope
	a.decode(rec, &e)
	assert.Contains(t, e.Error, "illegal status transition")

	// Failing requires an error message
	rec = a.do(http.MethodPatch, "/api/orchestrator/scans/"+scan.ID, map[string]interface{}{
		"status": types.StatusFailed,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPatch, "/api/orchestrator/scans/"+scan.ID, map[string]interface{}{
		"status":        types.StatusFailed,
		"error_message": "tool crashed",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var failed scanBody
	a.decode(rec, &failed)
	assert.Equal(t, types.StatusFailed, failed.Status)
	assert.Equal(t, "tool crashed", failed.ErrorMessage)
	require.NotNil(t, failed.CompletedAt)

	// Terminal scans reject further moves
	rec = a.do(http.MethodPatch, "/api/orchestrator/scans/"+scan.ID, map[string]interface{}{
		"status": types.StatusNmapRunning,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPatch, "/api/orchestrator/scans/"+scan.ID, map[string]interface{}{
		"status": "Sideways",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, "unknown statuses are rejected")
}

func TestCancelRestartEndpoints(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.34")
	recipe := a.newScanType(true)
	scan := a.startScan(target.ID, recipe.ID)

	rec := a.do(http.MethodPost, "/api/orchestrator/scans/"+scan.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled scanBody
	a.decode(rec, &cancelled)
	assert.Equal(t, types.StatusFailed, cancelled.Status)
	assert.Contains(t, cancelled.ErrorMessage, "cancelled")

	rec = a.do(http.MethodPost, "/api/orchestrator/scans/"+scan.ID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code, "terminal scans cannot be cancelled")

	rec = a.do(http.MethodPost, "/api/orchestrator/scans/"+scan.ID+"/restart", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var restarted scanBody
	a.decode(rec, &restarted)
	assert.Equal(t, types.StatusQueued, restarted.Status)
	assert.Empty(t, restarted.ErrorMessage)
	assert.Nil(t, restarted.CompletedAt)

	rec = a.do(http.MethodPost, "/api/orchestrator/scans/"+scan.ID+"/restart", nil)
	require.Equal(t, http.StatusConflict, rec.Code, "running scans cannot be restarted")

	rec = a.do(http.MethodPost, "/api/orchestrator/scans/"+uuid.New().String()+"/cancel", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanListFilters(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	other := a.newCustomer("globex")
	recipe := a.newScanType(true)

	first := a.newTarget(customer.ID, "192.0.2.40")
	second := a.newTarget(customer.ID, "192.0.2.41")
	foreign := a.newTarget(other.ID, "203.0.113.40")

	live := a.startScan(first.ID, recipe.ID)
	a.startScan(foreign.ID, recipe.ID)

	failed := a.startScan(second.ID, recipe.ID)
	rec := a.do(http.MethodPost, "/api/orchestrator/scans/"+failed.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env listEnvelope
	rec = a.do(http.MethodGet, "/api/orchestrator/scans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a.decode(rec, &env)
	assert.Equal(t, 3, env.Count)

	rec = a.do(http.MethodGet, "/api/orchestrator/scans?customer_id="+customer.ID, nil)
	a.decode(rec, &env)
	assert.Equal(t, 2, env.Count)

	rec = a.do(http.MethodGet, "/api/orchestrator/scans?target_id="+first.ID, nil)
	a.decode(rec, &env)
	assert.Equal(t, 1, env.Count)

	rec = a.do(http.MethodGet, "/api/orchestrator/scans?is_running=true", nil)
	a.decode(rec, &env)
	assert.Equal(t, 2, env.Count)

	rec = a.do(http.MethodGet, "/api/orchestrator/scans?has_errors=true", nil)
	a.decode(rec, &env)
	assert.Equal(t, 1, env.Count)

	rec = a.do(http.MethodGet, "/api/orchestrator/scans?status="+string(types.StatusFailed), nil)
	a.decode(rec, &env)
	assert.Equal(t, 1, env.Count)

	rec = a.do(http.MethodGet,
		"/api/orchestrator/scans?status_in=Failed,Completed", nil)
	a.decode(rec, &env)
	assert.Equal(t, 1, env.Count)

	var scans []scanBody
	rec = a.do(http.MethodGet, "/api/orchestrator/scans?ordering=initiated_at", nil)
	a.decode(rec, &env)
	require.NoError(t, json.Unmarshal(env.Results, &scans))
	require.Len(t, scans, 3)
	assert.Equal(t, live.ID, scans[0].ID, "oldest first under ascending order")
}

func TestScanStatisticsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	recipe := a.newScanType(true)

	running := a.newTarget(customer.ID, "192.0.2.50")
	done := a.newTarget(customer.ID, "192.0.2.51")

	a.startScan(running.ID, recipe.ID)
	finished := a.startScan(done.ID, recipe.ID)

	// Walk the second scan to Completed through the worker path
	rec := a.do(http.MethodPatch, "/api/orchestrator/scans/"+finished.ID, map[string]interface{}{
		"status": types.StatusNmapRunning,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = a.do(http.MethodPatch, "/api/orchestrator/scans/"+finished.ID, map[string]interface{}{
		"status": types.StatusNmapCompleted,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = a.do(http.MethodPatch, "/api/orchestrator/scans/"+finished.ID, map[string]interface{}{
		"status": types.StatusCompleted,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/orchestrator/scans/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats struct {
		Total              int            `json:"total"`
		ByStatus           map[string]int `json:"by_status"`
		Running            int            `json:"running"`
		Completed          int            `json:"completed"`
		Failed             int            `json:"failed"`
		CompletedLast24h   int            `json:"completed_last_24h"`
		AvgDurationSeconds float64        `json:"avg_duration_seconds"`
	}
	a.decode(rec, &stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Completed)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 1, stats.CompletedLast24h)
	assert.Equal(t, 1, stats.ByStatus[string(types.StatusQueued)])
	assert.GreaterOrEqual(t, stats.AvgDurationSeconds, 0.0)
}

func TestVulnEngineProgress(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.60")
	recipe := a.newScanType(false, types.ModuleVulnEngine)
	scan := a.startScan(target.ID, recipe.ID)

	path := "/api/orchestrator/scans/" + scan.ID + "/vuln-engine-progress"

	rec := a.do(http.MethodPatch, path, map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, rec.Code, "progress is mandatory")

	rec = a.do(http.MethodPatch, path, map[string]interface{}{"progress": 120})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPatch, path, map[string]interface{}{"progress": -1})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPatch, path, map[string]interface{}{
		"progress":        42,
		"external_status": "Running",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result types.VulnEngineResult
	a.decode(rec, &result)
	assert.Equal(t, 42, result.Progress)
	assert.Equal(t, "Running", result.ExternalStatus)
	assert.Equal(t, scan.ID, result.ScanID)
	firstID := result.ID

	rec = a.do(http.MethodPatch, path, map[string]interface{}{"progress": 80})
	require.Equal(t, http.StatusOK, rec.Code)
	a.decode(rec, &result)
	assert.Equal(t, firstID, result.ID, "progress updates reuse the row")
	assert.Equal(t, 80, result.Progress)
	assert.Equal(t, "Running", result.ExternalStatus, "absent external_status is kept")

	rec = a.do(http.MethodPatch,
		"/api/orchestrator/scans/"+uuid.New().String()+"/vuln-engine-progress",
		map[string]interface{}{"progress": 10})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVulnEngineResultsUpload(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.61")
	recipe := a.newScanType(false, types.ModuleVulnEngine)
	scan := a.startScan(target.ID, recipe.ID)

	path := "/api/orchestrator/scans/" + scan.ID + "/vuln-engine-results"
	report := `<report>
	  <result_count>42<full>42</full>
	    <hole>3</hole><warning>7</warning><info>12</info><log>20</log>
	  </result_count>
	</report>`

	rec := a.do(http.MethodPost, path, map[string]interface{}{
		"external_task_id": "task-1",
		"full_report":      report,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result types.VulnEngineResult
	a.decode(rec, &result)
	assert.Equal(t, "task-1", result.ExternalTaskID)
	assert.Equal(t, 3, result.VulnerabilityCount.High)
	assert.Equal(t, 7, result.VulnerabilityCount.Medium)
	assert.Equal(t, 12, result.VulnerabilityCount.Low)
	assert.Equal(t, 42, result.VulnerabilityCount.Total)
	firstID := result.ID

	// A second upload for the same scan updates in place
	modern := `<report><result_count><high>5</high><medium>1</medium></result_count></report>`
	rec = a.do(http.MethodPost, path, map[string]interface{}{
		"external_report_id": "report-9",
		"full_report":        modern,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	a.decode(rec, &result)
	assert.Equal(t, firstID, result.ID)
	assert.Equal(t, "task-1", result.ExternalTaskID, "merge keeps earlier fields")
	assert.Equal(t, "report-9", result.ExternalReportID)
	assert.Equal(t, 5, result.VulnerabilityCount.High)
	assert.Equal(t, 6, result.VulnerabilityCount.Total)

	rec = a.do(http.MethodGet,
		"/api/orchestrator/vuln-engine-results/by_scan?scan_id="+scan.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a.decode(rec, &result)
	assert.Equal(t, firstID, result.ID)
}

// TestVulnEngineResultsUnparseable checks a garbled report is stored
// with zero counts rather than rejected
func TestVulnEngineResultsUnparseable(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.62")
	recipe := a.newScanType(false, types.ModuleVulnEngine)
	scan := a.startScan(target.ID, recipe.ID)

	rec := a.do(http.MethodPost,
		"/api/orchestrator/scans/"+scan.ID+"/vuln-engine-results",
		map[string]interface{}{"full_report": "not xml at all"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result types.VulnEngineResult
	a.decode(rec, &result)
	assert.Equal(t, "not xml at all", result.FullReport)
	assert.Zero(t, result.VulnerabilityCount.Total)
}

func TestFingerprintBulkAndSummary(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.70")
	recipe := a.newScanType(false, types.ModuleFingerprint)
	scan := a.startScan(target.ID, recipe.ID)

	rec := a.do(http.MethodPost, "/api/orchestrator/fingerprint-details/bulk_create",
		map[string]interface{}{"fingerprint_details": []interface{}{}})
	require.Equal(t, http.StatusBadRequest, rec.Code, "empty batches are rejected")

	details := []map[string]interface{}{
		{
			"scan_id": scan.ID, "target_id": target.ID,
			"port": 443, "protocol": "tcp",
			"service_name": "https", "fingerprint_method": "fingerprintx",
			"confidence_score": 90,
		},
		{
			"scan_id": scan.ID, "target_id": target.ID,
			"port": 80, "protocol": "tcp",
			"service_name": "http", "fingerprint_method": "fingerprintx",
			"confidence_score": 95,
		},
		{
			"scan_id": scan.ID, "target_id": target.ID,
			"port": 8080, "protocol": "tcp",
			"service_name": "http", "fingerprint_method": "fingerprintx",
			"confidence_score": 70,
		},
	}
	rec = a.do(http.MethodPost, "/api/orchestrator/fingerprint-details/bulk_create",
		map[string]interface{}{"fingerprint_details": details})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Created int `json:"created"`
	}
	a.decode(rec, &created)
	assert.Equal(t, 3, created.Created)

	rec = a.do(http.MethodGet,
		"/api/orchestrator/fingerprint-details/by_scan?scan_id="+scan.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env listEnvelope
	a.decode(rec, &env)
	assert.Equal(t, 3, env.Count)
	var rows []types.FingerprintDetail
	require.NoError(t, json.Unmarshal(env.Results, &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, 80, rows[0].Port, "rows are sorted by port")

	rec = a.do(http.MethodGet,
		"/api/orchestrator/fingerprint-details/by_target?target_id="+target.ID, nil)
	a.decode(rec, &env)
	assert.Equal(t, 3, env.Count)

	rec = a.do(http.MethodGet,
		"/api/orchestrator/fingerprint-details/service_summary?scan_id="+scan.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		Total    int `json:"total"`
		Services map[string]struct {
			Count int   `json:"count"`
			Ports []int `json:"ports"`
		} `json:"services"`
	}
	a.decode(rec, &summary)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Services["http"].Count)
	assert.Equal(t, []int{80, 8080}, summary.Services["http"].Ports)
	assert.Equal(t, 1, summary.Services["https"].Count)

	rec = a.do(http.MethodGet, "/api/orchestrator/fingerprint-details/service_summary", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, "scan_id or target_id required")

	// A batch with an invalid row is rejected whole
	details[0]["port"] = 0
	rec = a.do(http.MethodPost, "/api/orchestrator/fingerprint-details/bulk_create",
		map[string]interface{}{"fingerprint_details": details})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFingerprintListFilters(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.71")
	recipe := a.newScanType(false, types.ModuleFingerprint)
	scan := a.startScan(target.ID, recipe.ID)

	details := []map[string]interface{}{
		{
			"scan_id": scan.ID, "target_id": target.ID,
			"port": 22, "protocol": "tcp",
			"service_name": "ssh", "fingerprint_method": "fingerprintx",
			"confidence_score": 99,
		},
		{
			"scan_id": scan.ID, "target_id": target.ID,
			"port": 53, "protocol": "udp",
			"service_name": "dns", "fingerprint_method": "fingerprintx",
			"confidence_score": 88,
		},
	}
	rec := a.do(http.MethodPost, "/api/orchestrator/fingerprint-details/bulk_create",
		map[string]interface{}{"fingerprint_details": details})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var env listEnvelope
	rec = a.do(http.MethodGet, "/api/orchestrator/fingerprint-details?protocol=udp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a.decode(rec, &env)
	assert.Equal(t, 1, env.Count)

	rec = a.do(http.MethodGet, "/api/orchestrator/fingerprint-details?service_name=ss", nil)
	a.decode(rec, &env)
	assert.Equal(t, 1, env.Count)

	rec = a.do(http.MethodGet, "/api/orchestrator/fingerprint-details?port=53", nil)
	a.decode(rec, &env)
	assert.Equal(t, 1, env.Count)

	rec = a.do(http.MethodGet, "/api/orchestrator/fingerprint-details?port=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet,
		"/api/orchestrator/fingerprint-details?ordering=-confidence_score", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a.decode(rec, &env)
	var rows []types.FingerprintDetail
	require.NoError(t, json.Unmarshal(env.Results, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 99, rows[0].ConfidenceScore)
}

func TestScanDetailByScanParams(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/orchestrator/scan-details/by_scan", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet,
		"/api/orchestrator/scan-details/by_scan?scan_id="+uuid.New().String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanDeleteEndpoint(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.80")
	recipe := a.newScanType(true)
	scan := a.startScan(target.ID, recipe.ID)

	rec := a.do(http.MethodDelete, "/api/orchestrator/scans/"+scan.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodGet, "/api/orchestrator/scans/"+scan.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
