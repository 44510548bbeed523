package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vapter/vapter/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCustomer(t *testing.T, store *BoltStore, id, email string) *types.Customer {
	t.Helper()
	customer := &types.Customer{ID: id, Name: "Acme " + id, Email: email}
	require.NoError(t, store.CreateCustomer(customer))
	return customer
}

func seedTarget(t *testing.T, store *BoltStore, id, customerID, address string) *types.Target {
	t.Helper()
	target := &types.Target{ID: id, CustomerID: customerID, Name: "target " + id, Address: address}
	require.NoError(t, store.CreateTarget(target))
	return target
}

func seedScanType(t *testing.T, store *BoltStore, id, name string) *types.ScanType {
	t.Helper()
	scanType := &types.ScanType{ID: id, Name: name, PluginFingerprint: true}
	require.NoError(t, store.CreateScanType(scanType))
	return scanType
}

func seedScan(t *testing.T, store *BoltStore, id, targetID, scanTypeID string) *types.Scan {
	t.Helper()
	scan := &types.Scan{ID: id, TargetID: targetID, ScanTypeID: scanTypeID}
	require.NoError(t, store.CreateScan(scan))
	return scan
}

// TestCustomerCRUD verifies create, get, update, list and soft delete
func TestCustomerCRUD(t *testing.T) {
	store := newTestStore(t)

	customer := seedCustomer(t, store, "c-1", "security@acme.example")
	assert.False(t, customer.CreatedAt.IsZero(), "create should stamp created_at")

	got, err := store.GetCustomer("c-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme c-1", got.Name)

	got.Notes = "priority account"
	require.NoError(t, store.UpdateCustomer(got))
	updated, err := store.GetCustomer("c-1")
	require.NoError(t, err)
	assert.Equal(t, "priority account", updated.Notes)

	byEmail, err := store.GetCustomerByEmail("SECURITY@acme.example")
	require.NoError(t, err)
	assert.Equal(t, "c-1", byEmail.ID)

	require.NoError(t, store.DeleteCustomer("c-1"))
	_, err = store.GetCustomer("c-1")
	assert.ErrorIs(t, err, ErrNotFound)

	customers, err := store.ListCustomers()
	require.NoError(t, err)
	assert.Empty(t, customers, "soft-deleted rows must not appear in listings")
}

// TestCustomerEmailUniqueness verifies the live-row email constraint
func TestCustomerEmailUniqueness(t *testing.T) {
	store := newTestStore(t)

	seedCustomer(t, store, "c-1", "dup@acme.example")
	err := store.CreateCustomer(&types.Customer{ID: "c-2", Name: "Other", Email: "dup@acme.example"})
	assert.ErrorIs(t, err, ErrConflict)

	// Deleting the first customer frees the address
	require.NoError(t, store.DeleteCustomer("c-1"))
	assert.NoError(t, store.CreateCustomer(&types.Customer{ID: "c-3", Name: "Third", Email: "dup@acme.example"}))
}

// TestTargetUniqueness verifies (customer, address) uniqueness among live rows
func TestTargetUniqueness(t *testing.T) {
	store := newTestStore(t)

	seedCustomer(t, store, "c-1", "one@acme.example")
	seedCustomer(t, store, "c-2", "two@acme.example")
	seedTarget(t, store, "t-1", "c-1", "192.0.2.10")

	err := store.CreateTarget(&types.Target{ID: "t-dup", CustomerID: "c-1", Name: "dup", Address: "192.0.2.10"})
	assert.ErrorIs(t, err, ErrConflict, "same customer and address must conflict")

	assert.NoError(t, store.CreateTarget(&types.Target{ID: "t-2", CustomerID: "c-2", Name: "other", Address: "192.0.2.10"}),
		"same address under another customer is allowed")

	require.NoError(t, store.DeleteTarget("t-1"))
	assert.NoError(t, store.CreateTarget(&types.Target{ID: "t-3", CustomerID: "c-1", Name: "again", Address: "192.0.2.10"}),
		"address is reusable after soft delete")
}

// TestTargetValidationOnCreate verifies address rules are applied by the store
func TestTargetValidationOnCreate(t *testing.T) {
	store := newTestStore(t)
	seedCustomer(t, store, "c-1", "one@acme.example")

	err := store.CreateTarget(&types.Target{ID: "t-bad", CustomerID: "c-1", Name: "bad", Address: "not..valid"})
	assert.Error(t, err)

	err = store.CreateTarget(&types.Target{ID: "t-ghost", CustomerID: "missing", Name: "ghost", Address: "192.0.2.1"})
	assert.ErrorIs(t, err, ErrNotFound, "target creation requires a live customer")
}

// TestCustomerCascade verifies soft delete follows ownership
func TestCustomerCascade(t *testing.T) {
	store := newTestStore(t)

	seedCustomer(t, store, "c-1", "one@acme.example")
	seedTarget(t, store, "t-1", "c-1", "192.0.2.10")
	seedScanType(t, store, "st-1", "standard")
	seedScan(t, store, "s-1", "t-1", "st-1")
	require.NoError(t, store.CreateScanDetail(&types.ScanDetail{ID: "sd-1", ScanID: "s-1", TargetID: "t-1"}))

	require.NoError(t, store.DeleteCustomer("c-1"))

	_, err := store.GetTarget("t-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetScan("s-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetScanDetailByScan("s-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestPortListNameUniqueness verifies case-insensitive name constraint
func TestPortListNameUniqueness(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreatePortList(&types.PortList{ID: "pl-1", Name: "Web Ports", TCPPorts: "80,443"}))
	err := store.CreatePortList(&types.PortList{ID: "pl-2", Name: "web ports", TCPPorts: "8080"})
	assert.ErrorIs(t, err, ErrConflict)

	byName, err := store.GetPortListByName("WEB PORTS")
	require.NoError(t, err)
	assert.Equal(t, "pl-1", byName.ID)
}

// TestScanTypePortListReference verifies recipe references are checked
func TestScanTypePortListReference(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateScanType(&types.ScanType{ID: "st-1", Name: "deep", PortListID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.CreatePortList(&types.PortList{ID: "pl-1", Name: "all", TCPPorts: "1-1024"}))
	assert.NoError(t, store.CreateScanType(&types.ScanType{ID: "st-2", Name: "deep", PortListID: "pl-1"}))
}

// TestOneRunningScanPerTarget verifies the non-terminal scan guard
func TestOneRunningScanPerTarget(t *testing.T) {
	store := newTestStore(t)

	seedCustomer(t, store, "c-1", "one@acme.example")
	seedTarget(t, store, "t-1", "c-1", "192.0.2.10")
	seedScanType(t, store, "st-1", "standard")
	seedScan(t, store, "s-1", "t-1", "st-1")

	err := store.CreateScan(&types.Scan{ID: "s-2", TargetID: "t-1", ScanTypeID: "st-1"})
	assert.ErrorIs(t, err, ErrConflict, "a pending scan must block new scans on the target")

	// Finish the first scan, then a new one is allowed
	ts := time.Now().UTC()
	_, err = store.UpdateScanStatus("s-1", nil, types.StatusCompleted, func(sc *types.Scan) {
		sc.CompletedAt = &ts
	})
	require.NoError(t, err)

	assert.NoError(t, store.CreateScan(&types.Scan{ID: "s-3", TargetID: "t-1", ScanTypeID: "st-1"}))
}

// TestUpdateScanStatusCAS verifies the compare-and-set guard
func TestUpdateScanStatusCAS(t *testing.T) {
	store := newTestStore(t)

	seedCustomer(t, store, "c-1", "one@acme.example")
	seedTarget(t, store, "t-1", "c-1", "192.0.2.10")
	seedScanType(t, store, "st-1", "standard")
	seedScan(t, store, "s-1", "t-1", "st-1")

	// Pending -> Queued with matching guard
	scan, err := store.UpdateScanStatus("s-1",
		[]types.ScanStatus{types.StatusPending}, types.StatusQueued, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, scan.Status)

	// Guard mismatch reports the observed status
	_, err = store.UpdateScanStatus("s-1",
		[]types.ScanStatus{types.StatusPending}, types.StatusQueued, nil)
	var conflict *StatusConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, types.StatusQueued, conflict.Current)
	assert.Equal(t, types.StatusQueued, conflict.Attempted)

	// Unknown scan
	_, err = store.UpdateScanStatus("missing", nil, types.StatusQueued, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestFailedScanInvariant verifies Failed requires completed_at and error_message
func TestFailedScanInvariant(t *testing.T) {
	store := newTestStore(t)

	seedCustomer(t, store, "c-1", "one@acme.example")
	seedTarget(t, store, "t-1", "c-1", "192.0.2.10")
	seedScanType(t, store, "st-1", "standard")
	seedScan(t, store, "s-1", "t-1", "st-1")

	_, err := store.UpdateScanStatus("s-1", nil, types.StatusFailed, nil)
	assert.Error(t, err, "failed without completed_at and error_message must be rejected")

	ts := time.Now().UTC()
	scan, err := store.UpdateScanStatus("s-1", nil, types.StatusFailed, func(sc *types.Scan) {
		sc.CompletedAt = &ts
		sc.ErrorMessage = "tool timeout"
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, scan.Status)
	assert.Equal(t, "tool timeout", scan.ErrorMessage)
}

// TestScanTimestampOrdering verifies completed_at >= started_at >= initiated_at
func TestScanTimestampOrdering(t *testing.T) {
	store := newTestStore(t)

	seedCustomer(t, store, "c-1", "one@acme.example")
	seedTarget(t, store, "t-1", "c-1", "192.0.2.10")
	seedScanType(t, store, "st-1", "standard")
	scan := seedScan(t, store, "s-1", "t-1", "st-1")

	early := scan.InitiatedAt.Add(-time.Hour)
	_, err := store.UpdateScanStatus("s-1", nil, types.StatusNmapRunning, func(sc *types.Scan) {
		sc.StartedAt = &early
	})
	assert.Error(t, err, "started_at before initiated_at must be rejected")

	started := scan.InitiatedAt.Add(time.Second)
	_, err = store.UpdateScanStatus("s-1", nil, types.StatusNmapRunning, func(sc *types.Scan) {
		sc.StartedAt = &started
	})
	assert.NoError(t, err)

	tooEarly := scan.InitiatedAt.Add(500 * time.Millisecond)
	_, err = store.UpdateScanStatus("s-1", nil, types.StatusCompleted, func(sc *types.Scan) {
		sc.CompletedAt = &tooEarly
	})
	assert.Error(t, err, "completed_at before started_at must be rejected")
}

// TestPurgeScanChildren verifies restart cleanup removes child rows
func TestPurgeScanChildren(t *testing.T) {
	store := newTestStore(t)

	seedCustomer(t, store, "c-1", "one@acme.example")
	seedTarget(t, store, "t-1", "c-1", "192.0.2.10")
	seedScanType(t, store, "st-1", "standard")
	seedScan(t, store, "s-1", "t-1", "st-1")

	require.NoError(t, store.CreateScanDetail(&types.ScanDetail{ID: "sd-1", ScanID: "s-1", TargetID: "t-1"}))
	require.NoError(t, store.CreateFingerprintDetails([]*types.FingerprintDetail{
		{ID: "fp-1", ScanID: "s-1", TargetID: "t-1", Port: 22, Protocol: types.ProtocolTCP, FingerprintMethod: "banner", ConfidenceScore: 90},
		{ID: "fp-2", ScanID: "s-1", TargetID: "t-1", Port: 80, Protocol: types.ProtocolTCP, FingerprintMethod: "banner", ConfidenceScore: 70},
	}))
	require.NoError(t, store.CreateVulnEngineResult(&types.VulnEngineResult{ID: "vr-1", ScanID: "s-1", TargetID: "t-1"}))

	require.NoError(t, store.PurgeScanChildren("s-1"))

	_, err := store.GetScanDetailByScan("s-1")
	assert.ErrorIs(t, err, ErrNotFound)
	fps, err := store.ListFingerprintDetailsByScan("s-1")
	require.NoError(t, err)
	assert.Empty(t, fps)
	_, err = store.GetVulnEngineResultByScan("s-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestScanDetailSingleton verifies one detail row per scan
func TestScanDetailSingleton(t *testing.T) {
	store := newTestStore(t)

	seedCustomer(t, store, "c-1", "one@acme.example")
	seedTarget(t, store, "t-1", "c-1", "192.0.2.10")
	seedScanType(t, store, "st-1", "standard")
	seedScan(t, store, "s-1", "t-1", "st-1")

	require.NoError(t, store.CreateScanDetail(&types.ScanDetail{ID: "sd-1", ScanID: "s-1", TargetID: "t-1"}))
	err := store.CreateScanDetail(&types.ScanDetail{ID: "sd-2", ScanID: "s-1", TargetID: "t-1"})
	assert.ErrorIs(t, err, ErrConflict)
}

// TestVulnEngineResultSingleton verifies one engine result per scan
func TestVulnEngineResultSingleton(t *testing.T) {
	store := newTestStore(t)

	seedCustomer(t, store, "c-1", "one@acme.example")
	seedTarget(t, store, "t-1", "c-1", "192.0.2.10")
	seedScanType(t, store, "st-1", "standard")
	seedScan(t, store, "s-1", "t-1", "st-1")

	require.NoError(t, store.CreateVulnEngineResult(&types.VulnEngineResult{ID: "vr-1", ScanID: "s-1", TargetID: "t-1"}))
	err := store.CreateVulnEngineResult(&types.VulnEngineResult{ID: "vr-2", ScanID: "s-1", TargetID: "t-1"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := store.GetVulnEngineResultByScan("s-1")
	require.NoError(t, err)
	assert.Equal(t, "vr-1", got.ID)
	assert.Equal(t, types.ReportFormatXML, got.ReportFormat, "format defaults to XML")
}

// TestFingerprintListingsByScanAndTarget verifies the index lookups
func TestFingerprintListingsByScanAndTarget(t *testing.T) {
	store := newTestStore(t)

	seedCustomer(t, store, "c-1", "one@acme.example")
	seedTarget(t, store, "t-1", "c-1", "192.0.2.10")
	seedTarget(t, store, "t-2", "c-1", "192.0.2.11")
	seedScanType(t, store, "st-1", "standard")
	seedScan(t, store, "s-1", "t-1", "st-1")
	seedScan(t, store, "s-2", "t-2", "st-1")

	require.NoError(t, store.CreateFingerprintDetails([]*types.FingerprintDetail{
		{ID: "fp-1", ScanID: "s-1", TargetID: "t-1", Port: 22, Protocol: types.ProtocolTCP, FingerprintMethod: "banner", ConfidenceScore: 90},
		{ID: "fp-2", ScanID: "s-1", TargetID: "t-1", Port: 80, Protocol: types.ProtocolTCP, FingerprintMethod: "banner", ConfidenceScore: 60},
		{ID: "fp-3", ScanID: "s-2", TargetID: "t-2", Port: 443, Protocol: types.ProtocolTCP, FingerprintMethod: "tls", ConfidenceScore: 95},
	}))

	byScan, err := store.ListFingerprintDetailsByScan("s-1")
	require.NoError(t, err)
	assert.Len(t, byScan, 2)

	byTarget, err := store.ListFingerprintDetailsByTarget("t-2")
	require.NoError(t, err)
	assert.Len(t, byTarget, 1)
	assert.Equal(t, "fp-3", byTarget[0].ID)
}

// TestFingerprintBatchValidation verifies batch create is all-or-nothing
func TestFingerprintBatchValidation(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateFingerprintDetails([]*types.FingerprintDetail{
		{ID: "fp-1", ScanID: "s-1", TargetID: "t-1", Port: 22, Protocol: types.ProtocolTCP, FingerprintMethod: "banner", ConfidenceScore: 90},
		{ID: "fp-2", ScanID: "s-1", TargetID: "t-1", Port: 0, Protocol: types.ProtocolTCP, FingerprintMethod: "banner", ConfidenceScore: 90},
	})
	assert.Error(t, err, "invalid row must reject the whole batch")

	rows, err := store.ListFingerprintDetails()
	require.NoError(t, err)
	assert.Empty(t, rows, "no row from a rejected batch may be persisted")
}

// TestGetNotFoundIsSentinel verifies errors.Is works across entities
func TestGetNotFoundIsSentinel(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCustomer("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.GetScan("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.GetPortList("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.GetScanType("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.GetFingerprintDetail("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.GetVulnEngineResult("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
