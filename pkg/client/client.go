package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/types"
)

// Client talks to the orchestrator's REST control surface. Stage
// workers use it to fetch scan context and upload artifacts; the CLI
// uses it for inventory management.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries int
	retryDelay time.Duration
}

// APIError carries a non-2xx response from the control surface
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether the error is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsConflict reports whether the error is a 409 from the API
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// NewClient creates a client for the configured gateway URL, using the
// configured request timeout and retry policy.
func NewClient(cfg *config.Config) *Client {
	base := cfg.APIGatewayURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return &Client{
		baseURL:    base,
		http:       &http.Client{Timeout: cfg.Timeout()},
		maxRetries: cfg.Retries.MaxRetries,
		retryDelay: cfg.RetryBackoff(),
	}
}

// do runs one API call with retries. Transport failures and 5xx
// responses are retried with the configured delay; 4xx responses are
// returned immediately since they do not heal on their own.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		lastErr = c.once(ctx, method, path, payload, out)
		if lastErr == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Ping checks the control surface is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/live", nil, nil)
}

// Scan context

func (c *Client) GetScan(ctx context.Context, id string) (*types.Scan, error) {
	var scan types.Scan
	if err := c.do(ctx, http.MethodGet, "/api/orchestrator/scans/"+id, nil, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

func (c *Client) GetTarget(ctx context.Context, id string) (*types.Target, error) {
	var target types.Target
	if err := c.do(ctx, http.MethodGet, "/api/orchestrator/targets/"+id, nil, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*types.Customer, error) {
	var customer types.Customer
	if err := c.do(ctx, http.MethodGet, "/api/orchestrator/customers/"+id, nil, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (c *Client) GetScanType(ctx context.Context, id string) (*types.ScanType, error) {
	var scanType types.ScanType
	if err := c.do(ctx, http.MethodGet, "/api/orchestrator/scan-types/"+id, nil, &scanType); err != nil {
		return nil, err
	}
	return &scanType, nil
}

func (c *Client) GetPortList(ctx context.Context, id string) (*types.PortList, error) {
	var portList types.PortList
	if err := c.do(ctx, http.MethodGet, "/api/orchestrator/port-lists/"+id, nil, &portList); err != nil {
		return nil, err
	}
	return &portList, nil
}

// ScanPatch carries the fields a worker may upload against a scan.
// Nil fields are omitted from the request. Artifact fields accept any
// value that marshals to a JSON object.
type ScanPatch struct {
	Status                  *types.ScanStatus `json:"status,omitempty"`
	ParsedNmapResults       interface{}       `json:"parsed_nmap_results,omitempty"`
	ParsedFingerResults     interface{}       `json:"parsed_finger_results,omitempty"`
	ParsedGceResults        interface{}       `json:"parsed_gce_results,omitempty"`
	ParsedWebResults        interface{}       `json:"parsed_web_results,omitempty"`
	ParsedVulnLookupResults interface{}       `json:"parsed_vuln_lookup_results,omitempty"`
	FingerprintSummary      interface{}       `json:"fingerprint_summary,omitempty"`
	ErrorMessage            *string           `json:"error_message,omitempty"`
	ReportPath              *string           `json:"report_path,omitempty"`
}

// PatchScan uploads artifacts, and optionally a status move, for a scan
func (c *Client) PatchScan(ctx context.Context, id string, patch ScanPatch) (*types.Scan, error) {
	var scan types.Scan
	if err := c.do(ctx, http.MethodPatch, "/api/orchestrator/scans/"+id, patch, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

// Scan lifecycle

func (c *Client) StartScan(ctx context.Context, targetID, scanTypeID string) (*types.Scan, error) {
	body := map[string]string{"scan_type_id": scanTypeID}
	var scan types.Scan
	err := c.do(ctx, http.MethodPost, "/api/orchestrator/targets/"+targetID+"/scan", body, &scan)
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

func (c *Client) CancelScan(ctx context.Context, id string) (*types.Scan, error) {
	var scan types.Scan
	if err := c.do(ctx, http.MethodPost, "/api/orchestrator/scans/"+id+"/cancel", nil, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

func (c *Client) RestartScan(ctx context.Context, id string) (*types.Scan, error) {
	var scan types.Scan
	if err := c.do(ctx, http.MethodPost, "/api/orchestrator/scans/"+id+"/restart", nil, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

// Derived data

func (c *Client) GetScanDetailByScan(ctx context.Context, scanID string) (*types.ScanDetail, error) {
	var detail types.ScanDetail
	path := "/api/orchestrator/scan-details/by_scan?scan_id=" + url.QueryEscape(scanID)
	if err := c.do(ctx, http.MethodGet, path, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// BulkCreateFingerprintDetails uploads a fingerprint batch in one call
func (c *Client) BulkCreateFingerprintDetails(ctx context.Context, details []*types.FingerprintDetail) error {
	body := map[string]interface{}{"fingerprint_details": details}
	return c.do(ctx, http.MethodPost, "/api/orchestrator/fingerprint-details/bulk_create", body, nil)
}

func (c *Client) ListFingerprintDetailsByScan(ctx context.Context, scanID string) ([]*types.FingerprintDetail, error) {
	var env struct {
		Results []*types.FingerprintDetail `json:"results"`
	}
	path := "/api/orchestrator/fingerprint-details/by_scan?scan_id=" + url.QueryEscape(scanID)
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return env.Results, nil
}

// Engine results

func (c *Client) UpdateVulnEngineProgress(ctx context.Context, scanID string, progress int, externalStatus string) error {
	body := map[string]interface{}{"progress": progress}
	if externalStatus != "" {
		body["external_status"] = externalStatus
	}
	path := "/api/orchestrator/scans/" + scanID + "/vuln-engine-progress"
	return c.do(ctx, http.MethodPatch, path, body, nil)
}

func (c *Client) UploadVulnEngineResults(ctx context.Context, scanID string, result *types.VulnEngineResult) (*types.VulnEngineResult, error) {
	var stored types.VulnEngineResult
	path := "/api/orchestrator/scans/" + scanID + "/vuln-engine-results"
	if err := c.do(ctx, http.MethodPost, path, result, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (c *Client) GetVulnEngineResultByScan(ctx context.Context, scanID string) (*types.VulnEngineResult, error) {
	var result types.VulnEngineResult
	path := "/api/orchestrator/vuln-engine-results/by_scan?scan_id=" + url.QueryEscape(scanID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Inventory, used by the CLI

func (c *Client) CreateCustomer(ctx context.Context, customer *types.Customer) (*types.Customer, error) {
	var created types.Customer
	if err := c.do(ctx, http.MethodPost, "/api/orchestrator/customers", customer, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) CreateTarget(ctx context.Context, target *types.Target) (*types.Target, error) {
	var created types.Target
	if err := c.do(ctx, http.MethodPost, "/api/orchestrator/targets", target, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) CreatePortList(ctx context.Context, portList *types.PortList) (*types.PortList, error) {
	var created types.PortList
	if err := c.do(ctx, http.MethodPost, "/api/orchestrator/port-lists", portList, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) CreateScanType(ctx context.Context, scanType *types.ScanType) (*types.ScanType, error) {
	var created types.ScanType
	if err := c.do(ctx, http.MethodPost, "/api/orchestrator/scan-types", scanType, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// The inventory updates PATCH a subset of entity fields. Keys match the
// entity JSON tags; only the provided keys change.

func (c *Client) UpdateCustomer(ctx context.Context, id string, fields map[string]interface{}) (*types.Customer, error) {
	var updated types.Customer
	if err := c.do(ctx, http.MethodPatch, "/api/orchestrator/customers/"+id, fields, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) UpdateTarget(ctx context.Context, id string, fields map[string]interface{}) (*types.Target, error) {
	var updated types.Target
	if err := c.do(ctx, http.MethodPatch, "/api/orchestrator/targets/"+id, fields, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) UpdatePortList(ctx context.Context, id string, fields map[string]interface{}) (*types.PortList, error) {
	var updated types.PortList
	if err := c.do(ctx, http.MethodPatch, "/api/orchestrator/port-lists/"+id, fields, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) UpdateScanType(ctx context.Context, id string, fields map[string]interface{}) (*types.ScanType, error) {
	var updated types.ScanType
	if err := c.do(ctx, http.MethodPatch, "/api/orchestrator/scan-types/"+id, fields, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListTargets queries the target collection. The query values map
// straight onto the listing filters (customer_id, name, address).
func (c *Client) ListTargets(ctx context.Context, query url.Values) ([]*types.Target, error) {
	var env struct {
		Results []*types.Target `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, listPath("targets", query), nil, &env); err != nil {
		return nil, err
	}
	return env.Results, nil
}

func (c *Client) ListCustomers(ctx context.Context, query url.Values) ([]*types.Customer, error) {
	var env struct {
		Results []*types.Customer `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, listPath("customers", query), nil, &env); err != nil {
		return nil, err
	}
	return env.Results, nil
}

func (c *Client) ListScanTypes(ctx context.Context, query url.Values) ([]*types.ScanType, error) {
	var env struct {
		Results []*types.ScanType `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, listPath("scan-types", query), nil, &env); err != nil {
		return nil, err
	}
	return env.Results, nil
}

func (c *Client) ListPortLists(ctx context.Context, query url.Values) ([]*types.PortList, error) {
	var env struct {
		Results []*types.PortList `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, listPath("port-lists", query), nil, &env); err != nil {
		return nil, err
	}
	return env.Results, nil
}

func (c *Client) ListScans(ctx context.Context, query url.Values) ([]*types.Scan, error) {
	var env struct {
		Results []*types.Scan `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, listPath("scans", query), nil, &env); err != nil {
		return nil, err
	}
	return env.Results, nil
}

func listPath(collection string, query url.Values) string {
	path := "/api/orchestrator/" + collection
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return path
}
