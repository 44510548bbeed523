/*
Package storage provides persistent state management for Vapter using BoltDB.

The storage package implements the control plane's durable store: customers,
targets, port lists, scan recipes, scans and their per-stage artifacts. It is
the only cross-process shared mutable state in the system, and every write
that can race between the HTTP handlers and the status consumer goes through
a compare-and-set transition inside a single write transaction.

# Architecture

	┌──────────────────── STORAGE LAYER ────────────────────┐
	│                                                        │
	│  ┌─────────────────────────────────────────┐          │
	│  │            Store Interface              │          │
	│  │  - Per-entity CRUD + secondary lookups  │          │
	│  │  - UpdateScanStatus (compare-and-set)   │          │
	│  │  - PurgeScanChildren (restart support)  │          │
	│  └───────────────────┬─────────────────────┘          │
	│                      │                                 │
	│  ┌───────────────────▼─────────────────────┐          │
	│  │            BoltStore                     │          │
	│  │  - Single-file BoltDB (vapter.db)        │          │
	│  │  - Bucket per entity, JSON values        │          │
	│  │  - Serialized writers (ACID)             │          │
	│  └──────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

Buckets: customers, targets, port_lists, scan_types, scans, scan_details,
fingerprint_details, vuln_engine_results.

# Concurrency Contract

BoltDB serializes write transactions, so a read-modify-write inside one
db.Update call is atomic with respect to every other writer. UpdateScanStatus
exploits this: it loads the scan, verifies the current status against the
caller's expected set, applies the transition and the caller's mutation, and
persists, all in one transaction. A failed guard returns *StatusConflictError
carrying the observed status so the state machine can distinguish a benign
duplicate from a real ordering violation.

# Soft Delete

Every entity carries deleted_at. Deletes set it instead of removing the row;
reads and listings skip soft-deleted rows. Deletes cascade along ownership:
customer -> targets -> scans -> (detail, fingerprints, engine result).
PurgeScanChildren is the one hard-delete path, used by scan restart to clear
per-stage artifacts before re-entering the pipeline.

# Constraints Enforced on Write

  - (customer, address) unique among live targets
  - port list, scan type names unique among live rows (case-insensitive)
  - customer email unique among live rows
  - at most one non-terminal scan per target
  - one ScanDetail and one VulnEngineResult per scan
  - completed_at >= started_at >= initiated_at
  - status "Failed" requires completed_at and error_message

# Usage

	store, err := storage.NewBoltStore("/var/lib/vapter")
	if err != nil {
		return err
	}
	defer store.Close()

	scan, err := store.UpdateScanStatus(scanID,
		[]types.ScanStatus{types.StatusNmapRunning},
		types.StatusNmapCompleted, nil)
	var conflict *storage.StatusConflictError
	if errors.As(err, &conflict) {
		// late or duplicate event; current status is conflict.Current
	}
*/
package storage
