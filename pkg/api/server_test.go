package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vapter/vapter/pkg/broker"
	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/orchestrator"
	"github.com/vapter/vapter/pkg/storage"
	"github.com/vapter/vapter/pkg/types"
)

// testAPI hosts the router over a real orchestrator with an in-memory
// broker and a bbolt store in a temp dir.
type testAPI struct {
	t      *testing.T
	router http.Handler
	store  storage.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := &config.Config{
		BrokerURL:  "memory://" + uuid.New().String(),
		DataDir:    t.TempDir(),
		ListenAddr: ":0",
		Queues: config.QueuesConfig{
			NmapScanRequest:        broker.QueueNmapScan,
			FingerprintScanRequest: broker.QueueFingerprintScan,
			VulnEngineScanRequest:  broker.QueueVulnEngineScan,
			WebScanRequest:         broker.QueueWebScan,
			VulnLookupRequest:      broker.QueueVulnLookup,
			ReportRequest:          broker.QueueReport,
			ScanStatusUpdate:       broker.QueueScanStatus,
		},
		Stages: config.StagesConfig{
			NmapTimeout:           3600,
			FingerprintTimeout:    60,
			VulnEngineMaxScanTime: 14400,
			ReportTimeout:         300,
		},
	}
	orch, err := orchestrator.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Shutdown() })

	srv := NewServer(orch)
	return &testAPI{t: t, router: srv.Router(), store: orch.Store()}
}

func (a *testAPI) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) decode(rec *httptest.ResponseRecorder, v interface{}) {
	a.t.Helper()
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

// listEnvelope mirrors the pagination wrapper
type listEnvelope struct {
	Count    int             `json:"count"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Results  json.RawMessage `json:"results"`
}

// errEnvelope mirrors the error body
type errEnvelope struct {
	Error string `json:"error"`
}

func (a *testAPI) newCustomer(name string) *types.Customer {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/orchestrator/customers", map[string]string{
		"name":  name,
		"email": uuid.New().String() + "@example.com",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var customer types.Customer
	a.decode(rec, &customer)
	return &customer
}

func (a *testAPI) newTarget(customerID, address string) *types.Target {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/orchestrator/targets", map[string]string{
		"customer_id": customerID,
		"name":        "host-" + address,
		"address":     address,
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var target types.Target
	a.decode(rec, &target)
	return &target
}

func (a *testAPI) newScanType(onlyDiscovery bool, plugins ...types.Module) *types.ScanType {
	a.t.Helper()
	body := map[string]interface{}{
		"name":           "recipe-" + uuid.New().String(),
		"only_discovery": onlyDiscovery,
	}
	for _, m := range plugins {
		switch m {
		case types.ModuleFingerprint:
			body["plugin_fingerprint"] = true
		case types.ModuleVulnEngine:
			body["plugin_vuln_engine"] = true
		case types.ModuleWeb:
			body["plugin_web"] = true
		case types.ModuleVulnLookup:
			body["plugin_vuln_lookup"] = true
		}
	}
	rec := a.do(http.MethodPost, "/api/orchestrator/scan-types", body)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var scanType types.ScanType
	a.decode(rec, &scanType)
	return &scanType
}

// TestCustomerLifecycle walks one customer through create, read,
// update, delete and the 404 after deletion
func TestCustomerLifecycle(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/orchestrator/customers", map[string]string{
		"name":  "Acme Corp",
		"email": "security@acme.example",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		TargetsCount int    `json:"targets_count"`
	}
	a.decode(rec, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "Acme Corp", created.Name)
	assert.Zero(t, created.TargetsCount)

	rec = a.do(http.MethodGet, "/api/orchestrator/customers/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPatch, "/api/orchestrator/customers/"+created.ID, map[string]string{
		"name": "Acme Corporation",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	a.decode(rec, &updated)
	assert.Equal(t, "Acme Corporation", updated.Name)
	assert.Equal(t, "security@acme.example", updated.Email, "untouched fields survive a patch")

	rec = a.do(http.MethodDelete, "/api/orchestrator/customers/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodGet, "/api/orchestrator/customers/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var e errEnvelope
	a.decode(rec, &e)
	assert.Contains(t, e.Error, created.ID)
}

func TestCustomerDuplicateEmail(t *testing.T) {
	a := newTestAPI(t)

	body := map[string]string{"name": "First", "email": "noc@example.com"}
	rec := a.do(http.MethodPost, "/api/orchestrator/customers", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	body["name"] = "Second"
	rec = a.do(http.MethodPost, "/api/orchestrator/customers", body)
	require.Equal(t, http.StatusConflict, rec.Code)
	var e errEnvelope
	a.decode(rec, &e)
	assert.Contains(t, e.Error, "already in use")
}

func TestCustomerValidation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/orchestrator/customers", map[string]string{
		"name": "No Email",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/orchestrator/customers", map[string]string{
		"name":  "Bad Email",
		"email": "not-an-address",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestCustomerListing exercises substring filters, ordering and paging
func TestCustomerListing(t *testing.T) {
	a := newTestAPI(t)
	for _, name := range []string{"acme", "globex", "initech"} {
		a.newCustomer(name)
	}

	rec := a.do(http.MethodGet, "/api/orchestrator/customers?name=glo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env listEnvelope
	a.decode(rec, &env)
	assert.Equal(t, 1, env.Count)

	rec = a.do(http.MethodGet, "/api/orchestrator/customers?ordering=-name&page_size=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a.decode(rec, &env)
	assert.Equal(t, 3, env.Count)
	assert.Equal(t, 2, env.PageSize)

	var names []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(env.Results, &names))
	require.Len(t, names, 2)
	assert.Equal(t, "initech", names[0].Name)
	assert.Equal(t, "globex", names[1].Name)

	rec = a.do(http.MethodGet, "/api/orchestrator/customers?ordering=-name&page_size=2&page=2", nil)
	a.decode(rec, &env)
	require.NoError(t, json.Unmarshal(env.Results, &names))
	require.Len(t, names, 1)
	assert.Equal(t, "acme", names[0].Name)

	rec = a.do(http.MethodGet, "/api/orchestrator/customers?ordering=phone", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, "/api/orchestrator/customers?page=zero", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCustomerSubresources(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")
	target := a.newTarget(customer.ID, "192.0.2.20")
	recipe := a.newScanType(true)

	rec := a.do(http.MethodPost, "/api/orchestrator/targets/"+target.ID+"/scan",
		map[string]string{"scan_type_id": recipe.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/orchestrator/customers/"+customer.ID+"/targets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var targets []struct {
		ID         string `json:"id"`
		ScansCount int    `json:"scans_count"`
	}
	a.decode(rec, &targets)
	require.Len(t, targets, 1)
	assert.Equal(t, target.ID, targets[0].ID)
	assert.Equal(t, 1, targets[0].ScansCount)

	rec = a.do(http.MethodGet, "/api/orchestrator/customers/"+customer.ID+"/scans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var scans []struct {
		Status        types.ScanStatus `json:"status"`
		TargetAddress string           `json:"target_address"`
		CustomerName  string           `json:"customer_name"`
	}
	a.decode(rec, &scans)
	require.Len(t, scans, 1)
	assert.Equal(t, types.StatusQueued, scans[0].Status)
	assert.Equal(t, "192.0.2.20", scans[0].TargetAddress)
	assert.Equal(t, "acme", scans[0].CustomerName)

	rec = a.do(http.MethodGet, "/api/orchestrator/customers/"+customer.ID+"/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		CustomerName string         `json:"customer_name"`
		TargetsCount int            `json:"targets_count"`
		ScansCount   int            `json:"scans_count"`
		ByStatus     map[string]int `json:"by_status"`
	}
	a.decode(rec, &stats)
	assert.Equal(t, "acme", stats.CustomerName)
	assert.Equal(t, 1, stats.TargetsCount)
	assert.Equal(t, 1, stats.ScansCount)
	assert.Equal(t, 1, stats.ByStatus[string(types.StatusQueued)])

	rec = a.do(http.MethodGet, "/api/orchestrator/customers/"+uuid.New().String()+"/statistics", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTargetValidation(t *testing.T) {
	a := newTestAPI(t)
	customer := a.newCustomer("acme")

	rec := a.do(http.MethodPost, "/api/orchestrator/targets", map[string]string{
		"customer_id": customer.ID,
		"name":        "bad",
		"address":     "not a hostname",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/orchestrator/targets", map[string]string{
		"customer_id": uuid.New().String(),
		"name":        "orphan",
		"address":     "198.51.100.7",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodPost, "/api/orchestrator/targets", map[string]string{
		"customer_id": customer.ID,
		"name":        "edge",
		"address":     "198.51.100.7",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		CustomerName string `json:"customer_name"`
	}
	a.decode(rec, &created)
	assert.Equal(t, "acme", created.CustomerName)

	rec = a.do(http.MethodPost, "/api/orchestrator/targets", map[string]string{
		"customer_id": customer.ID,
		"name":        "dup",
		"address":     "198.51.100.7",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestTargetListFilters(t *testing.T) {
	a := newTestAPI(t)
	acme := a.newCustomer("acme")
	globex := a.newCustomer("globex")
	a.newTarget(acme.ID, "192.0.2.1")
	a.newTarget(acme.ID, "192.0.2.2")
	a.newTarget(globex.ID, "203.0.113.9")

	rec := a.do(http.MethodGet, "/api/orchestrator/targets?customer_id="+acme.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env listEnvelope
	a.decode(rec, &env)
	assert.Equal(t, 2, env.Count)

	rec = a.do(http.MethodGet, "/api/orchestrator/targets?address=203.0.113", nil)
	a.decode(rec, &env)
	assert.Equal(t, 1, env.Count)
}

func TestPortListTotals(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/orchestrator/port-lists", map[string]string{
		"name":      "web-tier",
		"tcp_ports": "22,80,443,8000-8002",
		"udp_ports": "53",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID            string `json:"id"`
		TotalTCPPorts int    `json:"total_tcp_ports"`
		TotalUDPPorts int    `json:"total_udp_ports"`
	}
	a.decode(rec, &created)
	assert.Equal(t, 6, created.TotalTCPPorts)
	assert.Equal(t, 1, created.TotalUDPPorts)

	rec = a.do(http.MethodPost, "/api/orchestrator/port-lists", map[string]string{
		"name":      "broken",
		"tcp_ports": "70000",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/orchestrator/port-lists", map[string]string{
		"name":      "web-tier",
		"tcp_ports": "80",
	})
	require.Equal(t, http.StatusConflict, rec.Code, "port list names are unique")
}

func TestScanTypeRecipeView(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/orchestrator/port-lists", map[string]string{
		"name":      "defaults",
		"tcp_ports": "22,80",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var pl struct {
		ID string `json:"id"`
	}
	a.decode(rec, &pl)

	rec = a.do(http.MethodPost, "/api/orchestrator/scan-types", map[string]interface{}{
		"name":               "full sweep",
		"port_list_id":       pl.ID,
		"plugin_fingerprint": true,
		"plugin_web":         true,
		"report_enabled":     true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var st struct {
		PortListName   string   `json:"port_list_name"`
		EnabledPlugins []string `json:"enabled_plugins"`
	}
	a.decode(rec, &st)
	assert.Equal(t, "defaults", st.PortListName)
	assert.Equal(t, []string{"fingerprint", "web"}, st.EnabledPlugins)

	rec = a.do(http.MethodPost, "/api/orchestrator/scan-types", map[string]interface{}{
		"name":           "discovery",
		"only_discovery": true,
		"plugin_web":     true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/orchestrator/scan-types", map[string]interface{}{
		"name":         "dangling",
		"port_list_id": uuid.New().String(),
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// TestScanTypeDiscoveryPluginsEmpty checks the empty-plugins shape is a
// JSON array, not null
func TestScanTypeDiscoveryPluginsEmpty(t *testing.T) {
	a := newTestAPI(t)
	recipe := a.newScanType(true)

	rec := a.do(http.MethodGet, "/api/orchestrator/scan-types/"+recipe.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled_plugins":[]`)
}

func TestRootInfo(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Service string   `json:"service"`
		Mounts  []string `json:"mounts"`
	}
	a.decode(rec, &info)
	assert.Equal(t, "vapter", info.Service)
	assert.Contains(t, info.Mounts, "/api/orchestrator/scans/")
}

func TestLivenessRoute(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(http.MethodGet, "/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
