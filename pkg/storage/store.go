package storage

import (
	"errors"
	"fmt"

	"github.com/vapter/vapter/pkg/types"
)

var (
	// ErrNotFound is returned when an entity does not exist or is soft-deleted
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness or
	// one-running-scan constraint
	ErrConflict = errors.New("conflict")
)

// StatusConflictError is returned by UpdateScanStatus when the scan's
// current status does not match any expected status. Carries the observed
// status so callers can decide whether the race is benign.
type StatusConflictError struct {
	ScanID    string
	Current   types.ScanStatus
	Attempted types.ScanStatus
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("scan %s is %q, cannot transition to %q", e.ScanID, e.Current, e.Attempted)
}

// Store defines the persistence interface for the control plane
type Store interface {
	// Customer operations
	CreateCustomer(customer *types.Customer) error
	GetCustomer(id string) (*types.Customer, error)
	GetCustomerByEmail(email string) (*types.Customer, error)
	ListCustomers() ([]*types.Customer, error)
	UpdateCustomer(customer *types.Customer) error
	DeleteCustomer(id string) error

	// Target operations
	CreateTarget(target *types.Target) error
	GetTarget(id string) (*types.Target, error)
	ListTargets() ([]*types.Target, error)
	ListTargetsByCustomer(customerID string) ([]*types.Target, error)
	UpdateTarget(target *types.Target) error
	DeleteTarget(id string) error

	// PortList operations
	CreatePortList(portList *types.PortList) error
	GetPortList(id string) (*types.PortList, error)
	GetPortListByName(name string) (*types.PortList, error)
	ListPortLists() ([]*types.PortList, error)
	UpdatePortList(portList *types.PortList) error
	DeletePortList(id string) error

	// ScanType operations
	CreateScanType(scanType *types.ScanType) error
	GetScanType(id string) (*types.ScanType, error)
	GetScanTypeByName(name string) (*types.ScanType, error)
	ListScanTypes() ([]*types.ScanType, error)
	UpdateScanType(scanType *types.ScanType) error
	DeleteScanType(id string) error

	// Scan operations
	CreateScan(scan *types.Scan) error
	GetScan(id string) (*types.Scan, error)
	ListScans() ([]*types.Scan, error)
	ListScansByTarget(targetID string) ([]*types.Scan, error)
	UpdateScan(scan *types.Scan) error
	UpdateScanStatus(id string, expected []types.ScanStatus, next types.ScanStatus, mutate func(*types.Scan)) (*types.Scan, error)
	DeleteScan(id string) error

	// ScanDetail operations
	CreateScanDetail(detail *types.ScanDetail) error
	GetScanDetail(id string) (*types.ScanDetail, error)
	GetScanDetailByScan(scanID string) (*types.ScanDetail, error)
	ListScanDetails() ([]*types.ScanDetail, error)
	UpdateScanDetail(detail *types.ScanDetail) error
	DeleteScanDetail(id string) error

	// FingerprintDetail operations
	CreateFingerprintDetail(detail *types.FingerprintDetail) error
	CreateFingerprintDetails(details []*types.FingerprintDetail) error
	GetFingerprintDetail(id string) (*types.FingerprintDetail, error)
	ListFingerprintDetails() ([]*types.FingerprintDetail, error)
	ListFingerprintDetailsByScan(scanID string) ([]*types.FingerprintDetail, error)
	ListFingerprintDetailsByTarget(targetID string) ([]*types.FingerprintDetail, error)
	UpdateFingerprintDetail(detail *types.FingerprintDetail) error
	DeleteFingerprintDetail(id string) error

	// VulnEngineResult operations
	CreateVulnEngineResult(result *types.VulnEngineResult) error
	GetVulnEngineResult(id string) (*types.VulnEngineResult, error)
	GetVulnEngineResultByScan(scanID string) (*types.VulnEngineResult, error)
	ListVulnEngineResults() ([]*types.VulnEngineResult, error)
	UpdateVulnEngineResult(result *types.VulnEngineResult) error
	DeleteVulnEngineResult(id string) error

	// PurgeScanChildren hard-deletes the scan's detail, fingerprint and
	// engine-result rows. Used by scan restart.
	PurgeScanChildren(scanID string) error

	Close() error
}
