package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vapter/vapter/pkg/types"
)

// Scan operations

// CreateScan persists a new scan after verifying its references and the
// one-non-terminal-scan-per-target constraint.
func (s *BoltStore) CreateScan(scan *types.Scan) error {
	if scan.ID == "" {
		return fmt.Errorf("scan id is required")
	}
	if scan.TargetID == "" || scan.ScanTypeID == "" {
		return fmt.Errorf("scan target_id and scan_type_id are required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := requireLiveTarget(tx, scan.TargetID); err != nil {
			return err
		}
		if tx.Bucket(bucketScanTypes).Get([]byte(scan.ScanTypeID)) == nil {
			return fmt.Errorf("scan type %s: %w", scan.ScanTypeID, ErrNotFound)
		}

		b := tx.Bucket(bucketScans)
		running, err := runningScanForTarget(b, scan.TargetID)
		if err != nil {
			return err
		}
		if running != nil {
			return fmt.Errorf("target %s already has scan %s in status %q: %w",
				scan.TargetID, running.ID, running.Status, ErrConflict)
		}

		if scan.Status == "" {
			scan.Status = types.StatusPending
		}
		if !scan.Status.Valid() {
			return fmt.Errorf("scan status %q is invalid", scan.Status)
		}
		if scan.InitiatedAt.IsZero() {
			scan.InitiatedAt = now()
		}
		if err := validateScanInvariants(scan); err != nil {
			return err
		}
		scan.CreatedAt = now()
		scan.UpdatedAt = scan.CreatedAt
		return putJSON(b, scan.ID, scan)
	})
}

func requireLiveTarget(tx *bolt.Tx, targetID string) error {
	data := tx.Bucket(bucketTargets).Get([]byte(targetID))
	if data == nil {
		return fmt.Errorf("target %s: %w", targetID, ErrNotFound)
	}
	var target types.Target
	if err := json.Unmarshal(data, &target); err != nil {
		return err
	}
	if target.DeletedAt != nil {
		return fmt.Errorf("target %s: %w", targetID, ErrNotFound)
	}
	return nil
}

func runningScanForTarget(b *bolt.Bucket, targetID string) (*types.Scan, error) {
	var running *types.Scan
	err := b.ForEach(func(k, v []byte) error {
		var sc types.Scan
		if err := json.Unmarshal(v, &sc); err != nil {
			return err
		}
		if sc.DeletedAt == nil && sc.TargetID == targetID && !sc.Status.IsTerminal() {
			running = &sc
		}
		return nil
	})
	return running, err
}

// validateScanInvariants checks timestamp ordering and the Failed contract
func validateScanInvariants(scan *types.Scan) error {
	if scan.StartedAt != nil && scan.StartedAt.Before(scan.InitiatedAt) {
		return fmt.Errorf("scan %s started_at precedes initiated_at", scan.ID)
	}
	if scan.CompletedAt != nil {
		if scan.CompletedAt.Before(scan.InitiatedAt) {
			return fmt.Errorf("scan %s completed_at precedes initiated_at", scan.ID)
		}
		if scan.StartedAt != nil && scan.CompletedAt.Before(*scan.StartedAt) {
			return fmt.Errorf("scan %s completed_at precedes started_at", scan.ID)
		}
	}
	if scan.Status == types.StatusFailed {
		if scan.CompletedAt == nil {
			return fmt.Errorf("scan %s failed without completed_at", scan.ID)
		}
		if scan.ErrorMessage == "" {
			return fmt.Errorf("scan %s failed without error_message", scan.ID)
		}
	}
	return nil
}

func (s *BoltStore) GetScan(id string) (*types.Scan, error) {
	var scan types.Scan
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScans)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &scan); err != nil {
			return err
		}
		if scan.DeletedAt != nil {
			return fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

func (s *BoltStore) ListScans() ([]*types.Scan, error) {
	var scans []*types.Scan
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScans)
		return b.ForEach(func(k, v []byte) error {
			var sc types.Scan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.DeletedAt == nil {
				scans = append(scans, &sc)
			}
			return nil
		})
	})
	return scans, err
}

func (s *BoltStore) ListScansByTarget(targetID string) ([]*types.Scan, error) {
	scans, err := s.ListScans()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Scan
	for _, sc := range scans {
		if sc.TargetID == targetID {
			filtered = append(filtered, sc)
		}
	}
	return filtered, nil
}

// UpdateScan persists scan fields without a status guard. Status writes
// that race the consumer must use UpdateScanStatus instead.
func (s *BoltStore) UpdateScan(scan *types.Scan) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScans)
		if b.Get([]byte(scan.ID)) == nil {
			return fmt.Errorf("scan %s: %w", scan.ID, ErrNotFound)
		}
		if !scan.Status.Valid() {
			return fmt.Errorf("scan status %q is invalid", scan.Status)
		}
		if err := validateScanInvariants(scan); err != nil {
			return err
		}
		scan.UpdatedAt = now()
		return putJSON(b, scan.ID, scan)
	})
}

// UpdateScanStatus performs a compare-and-set transition inside one write
// transaction. The scan's current status must be one of expected (a nil
// slice skips the guard). mutate runs after the status is applied and may
// adjust timestamps, artifacts and error fields.
func (s *BoltStore) UpdateScanStatus(id string, expected []types.ScanStatus, next types.ScanStatus, mutate func(*types.Scan)) (*types.Scan, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("scan status %q is invalid", next)
	}
	var scan types.Scan
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScans)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &scan); err != nil {
			return err
		}
		if scan.DeletedAt != nil {
			return fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		if expected != nil && !statusIn(scan.Status, expected) {
			return &StatusConflictError{ScanID: id, Current: scan.Status, Attempted: next}
		}
		// Reviving a terminal scan re-enters the one-running-scan
		// constraint.
		if scan.Status.IsTerminal() && !next.IsTerminal() {
			running, err := runningScanForTarget(b, scan.TargetID)
			if err != nil {
				return err
			}
			if running != nil && running.ID != scan.ID {
				return fmt.Errorf("target %s already has scan %s in status %q: %w",
					scan.TargetID, running.ID, running.Status, ErrConflict)
			}
		}
		scan.Status = next
		if mutate != nil {
			mutate(&scan)
		}
		if err := validateScanInvariants(&scan); err != nil {
			return err
		}
		scan.UpdatedAt = now()
		return putJSON(b, id, &scan)
	})
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

func statusIn(status types.ScanStatus, set []types.ScanStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// DeleteScan soft-deletes the scan and its children
func (s *BoltStore) DeleteScan(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScans)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		var scan types.Scan
		if err := json.Unmarshal(data, &scan); err != nil {
			return err
		}
		if scan.DeletedAt != nil {
			return fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		ts := now()
		scan.DeletedAt = &ts
		scan.UpdatedAt = ts
		if err := putJSON(b, scan.ID, &scan); err != nil {
			return err
		}
		return deleteScanChildren(tx, id, ts)
	})
}

func deleteScansOfTarget(tx *bolt.Tx, targetID string, ts time.Time) error {
	b := tx.Bucket(bucketScans)
	var scans []*types.Scan
	err := b.ForEach(func(k, v []byte) error {
		var sc types.Scan
		if err := json.Unmarshal(v, &sc); err != nil {
			return err
		}
		if sc.DeletedAt == nil && sc.TargetID == targetID {
			scans = append(scans, &sc)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, sc := range scans {
		sc.DeletedAt = &ts
		sc.UpdatedAt = ts
		if err := putJSON(b, sc.ID, sc); err != nil {
			return err
		}
		if err := deleteScanChildren(tx, sc.ID, ts); err != nil {
			return err
		}
	}
	return nil
}

// deleteScanChildren soft-deletes detail, fingerprint and engine rows of a scan
func deleteScanChildren(tx *bolt.Tx, scanID string, ts time.Time) error {
	if err := softDeleteByScan(tx.Bucket(bucketScanDetails), scanID, ts, func(v []byte) (scanRow, error) {
		var d types.ScanDetail
		err := json.Unmarshal(v, &d)
		return scanRow{id: d.ID, scanID: d.ScanID, deleted: d.DeletedAt != nil, row: &d,
			markDeleted: func() { d.DeletedAt = &ts; d.UpdatedAt = ts }}, err
	}); err != nil {
		return err
	}
	if err := softDeleteByScan(tx.Bucket(bucketFingerprintDetails), scanID, ts, func(v []byte) (scanRow, error) {
		var d types.FingerprintDetail
		err := json.Unmarshal(v, &d)
		return scanRow{id: d.ID, scanID: d.ScanID, deleted: d.DeletedAt != nil, row: &d,
			markDeleted: func() { d.DeletedAt = &ts; d.UpdatedAt = ts }}, err
	}); err != nil {
		return err
	}
	return softDeleteByScan(tx.Bucket(bucketVulnEngineResults), scanID, ts, func(v []byte) (scanRow, error) {
		var r types.VulnEngineResult
		err := json.Unmarshal(v, &r)
		return scanRow{id: r.ID, scanID: r.ScanID, deleted: r.DeletedAt != nil, row: &r,
			markDeleted: func() { r.DeletedAt = &ts; r.UpdatedAt = ts }}, err
	})
}

type scanRow struct {
	id          string
	scanID      string
	deleted     bool
	row         interface{}
	markDeleted func()
}

func softDeleteByScan(b *bolt.Bucket, scanID string, ts time.Time, decode func([]byte) (scanRow, error)) error {
	var rows []scanRow
	err := b.ForEach(func(k, v []byte) error {
		row, err := decode(v)
		if err != nil {
			return err
		}
		if !row.deleted && row.scanID == scanID {
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, row := range rows {
		row.markDeleted()
		if err := putJSON(b, row.id, row.row); err != nil {
			return err
		}
	}
	return nil
}

// PurgeScanChildren hard-deletes all child rows of a scan. Restart uses
// this so a re-run starts from a clean slate.
func (s *BoltStore) PurgeScanChildren(scanID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketScanDetails, bucketFingerprintDetails, bucketVulnEngineResults} {
			b := tx.Bucket(bucket)
			var keys [][]byte
			err := b.ForEach(func(k, v []byte) error {
				var ref struct {
					ScanID string `json:"scan_id"`
				}
				if err := json.Unmarshal(v, &ref); err != nil {
					return err
				}
				if ref.ScanID == scanID {
					key := make([]byte, len(k))
					copy(key, k)
					keys = append(keys, key)
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range keys {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ScanDetail operations

func (s *BoltStore) CreateScanDetail(detail *types.ScanDetail) error {
	if detail.ID == "" {
		return fmt.Errorf("scan detail id is required")
	}
	if detail.ScanID == "" {
		return fmt.Errorf("scan detail scan_id is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanDetails)
		existing, err := scanDetailForScan(b, detail.ScanID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("scan %s already has detail %s: %w", detail.ScanID, existing.ID, ErrConflict)
		}
		detail.CreatedAt = now()
		detail.UpdatedAt = detail.CreatedAt
		return putJSON(b, detail.ID, detail)
	})
}

func scanDetailForScan(b *bolt.Bucket, scanID string) (*types.ScanDetail, error) {
	var found *types.ScanDetail
	err := b.ForEach(func(k, v []byte) error {
		var d types.ScanDetail
		if err := json.Unmarshal(v, &d); err != nil {
			return err
		}
		if d.DeletedAt == nil && d.ScanID == scanID {
			found = &d
		}
		return nil
	})
	return found, err
}

func (s *BoltStore) GetScanDetail(id string) (*types.ScanDetail, error) {
	var detail types.ScanDetail
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanDetails)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("scan detail %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &detail); err != nil {
			return err
		}
		if detail.DeletedAt != nil {
			return fmt.Errorf("scan detail %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

func (s *BoltStore) GetScanDetailByScan(scanID string) (*types.ScanDetail, error) {
	var found *types.ScanDetail
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = scanDetailForScan(tx.Bucket(bucketScanDetails), scanID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("scan detail for scan %s: %w", scanID, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListScanDetails() ([]*types.ScanDetail, error) {
	var details []*types.ScanDetail
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanDetails)
		return b.ForEach(func(k, v []byte) error {
			var d types.ScanDetail
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.DeletedAt == nil {
				details = append(details, &d)
			}
			return nil
		})
	})
	return details, err
}

func (s *BoltStore) UpdateScanDetail(detail *types.ScanDetail) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanDetails)
		if b.Get([]byte(detail.ID)) == nil {
			return fmt.Errorf("scan detail %s: %w", detail.ID, ErrNotFound)
		}
		detail.UpdatedAt = now()
		return putJSON(b, detail.ID, detail)
	})
}

func (s *BoltStore) DeleteScanDetail(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanDetails)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("scan detail %s: %w", id, ErrNotFound)
		}
		var detail types.ScanDetail
		if err := json.Unmarshal(data, &detail); err != nil {
			return err
		}
		if detail.DeletedAt != nil {
			return fmt.Errorf("scan detail %s: %w", id, ErrNotFound)
		}
		ts := now()
		detail.DeletedAt = &ts
		detail.UpdatedAt = ts
		return putJSON(b, detail.ID, &detail)
	})
}

// FingerprintDetail operations

func (s *BoltStore) CreateFingerprintDetail(detail *types.FingerprintDetail) error {
	return s.CreateFingerprintDetails([]*types.FingerprintDetail{detail})
}

// CreateFingerprintDetails persists a batch atomically
func (s *BoltStore) CreateFingerprintDetails(details []*types.FingerprintDetail) error {
	for _, d := range details {
		if d.ID == "" {
			return fmt.Errorf("fingerprint detail id is required")
		}
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprintDetails)
		ts := now()
		for _, d := range details {
			d.CreatedAt = ts
			d.UpdatedAt = ts
			if err := putJSON(b, d.ID, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetFingerprintDetail(id string) (*types.FingerprintDetail, error) {
	var detail types.FingerprintDetail
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprintDetails)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("fingerprint detail %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &detail); err != nil {
			return err
		}
		if detail.DeletedAt != nil {
			return fmt.Errorf("fingerprint detail %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

func (s *BoltStore) ListFingerprintDetails() ([]*types.FingerprintDetail, error) {
	var details []*types.FingerprintDetail
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprintDetails)
		return b.ForEach(func(k, v []byte) error {
			var d types.FingerprintDetail
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.DeletedAt == nil {
				details = append(details, &d)
			}
			return nil
		})
	})
	return details, err
}

func (s *BoltStore) ListFingerprintDetailsByScan(scanID string) ([]*types.FingerprintDetail, error) {
	details, err := s.ListFingerprintDetails()
	if err != nil {
		return nil, err
	}
	var filtered []*types.FingerprintDetail
	for _, d := range details {
		if d.ScanID == scanID {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListFingerprintDetailsByTarget(targetID string) ([]*types.FingerprintDetail, error) {
	details, err := s.ListFingerprintDetails()
	if err != nil {
		return nil, err
	}
	var filtered []*types.FingerprintDetail
	for _, d := range details {
		if d.TargetID == targetID {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateFingerprintDetail(detail *types.FingerprintDetail) error {
	if err := detail.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprintDetails)
		if b.Get([]byte(detail.ID)) == nil {
			return fmt.Errorf("fingerprint detail %s: %w", detail.ID, ErrNotFound)
		}
		detail.UpdatedAt = now()
		return putJSON(b, detail.ID, detail)
	})
}

func (s *BoltStore) DeleteFingerprintDetail(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprintDetails)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("fingerprint detail %s: %w", id, ErrNotFound)
		}
		var detail types.FingerprintDetail
		if err := json.Unmarshal(data, &detail); err != nil {
			return err
		}
		if detail.DeletedAt != nil {
			return fmt.Errorf("fingerprint detail %s: %w", id, ErrNotFound)
		}
		ts := now()
		detail.DeletedAt = &ts
		detail.UpdatedAt = ts
		return putJSON(b, detail.ID, &detail)
	})
}

// VulnEngineResult operations

func (s *BoltStore) CreateVulnEngineResult(result *types.VulnEngineResult) error {
	if result.ID == "" {
		return fmt.Errorf("vuln engine result id is required")
	}
	if result.ScanID == "" {
		return fmt.Errorf("vuln engine result scan_id is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVulnEngineResults)
		existing, err := vulnResultForScan(b, result.ScanID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("scan %s already has vuln engine result %s: %w",
				result.ScanID, existing.ID, ErrConflict)
		}
		if result.ReportFormat == "" {
			result.ReportFormat = types.ReportFormatXML
		}
		result.CreatedAt = now()
		result.UpdatedAt = result.CreatedAt
		return putJSON(b, result.ID, result)
	})
}

func vulnResultForScan(b *bolt.Bucket, scanID string) (*types.VulnEngineResult, error) {
	var found *types.VulnEngineResult
	err := b.ForEach(func(k, v []byte) error {
		var r types.VulnEngineResult
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		if r.DeletedAt == nil && r.ScanID == scanID {
			found = &r
		}
		return nil
	})
	return found, err
}

func (s *BoltStore) GetVulnEngineResult(id string) (*types.VulnEngineResult, error) {
	var result types.VulnEngineResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVulnEngineResults)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("vuln engine result %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return err
		}
		if result.DeletedAt != nil {
			return fmt.Errorf("vuln engine result %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *BoltStore) GetVulnEngineResultByScan(scanID string) (*types.VulnEngineResult, error) {
	var found *types.VulnEngineResult
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = vulnResultForScan(tx.Bucket(bucketVulnEngineResults), scanID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("vuln engine result for scan %s: %w", scanID, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListVulnEngineResults() ([]*types.VulnEngineResult, error) {
	var results []*types.VulnEngineResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVulnEngineResults)
		return b.ForEach(func(k, v []byte) error {
			var r types.VulnEngineResult
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.DeletedAt == nil {
				results = append(results, &r)
			}
			return nil
		})
	})
	return results, err
}

func (s *BoltStore) UpdateVulnEngineResult(result *types.VulnEngineResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVulnEngineResults)
		if b.Get([]byte(result.ID)) == nil {
			return fmt.Errorf("vuln engine result %s: %w", result.ID, ErrNotFound)
		}
		result.UpdatedAt = now()
		return putJSON(b, result.ID, result)
	})
}

func (s *BoltStore) DeleteVulnEngineResult(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVulnEngineResults)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("vuln engine result %s: %w", id, ErrNotFound)
		}
		var result types.VulnEngineResult
		if err := json.Unmarshal(data, &result); err != nil {
			return err
		}
		if result.DeletedAt != nil {
			return fmt.Errorf("vuln engine result %s: %w", id, ErrNotFound)
		}
		ts := now()
		result.DeletedAt = &ts
		result.UpdatedAt = ts
		return putJSON(b, result.ID, &result)
	})
}
