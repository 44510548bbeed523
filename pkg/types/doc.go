/*
Package types defines the core data structures used throughout Vapter.

This package contains all fundamental types of the scan-orchestration domain
model: customers, targets, port lists, scan recipes, scans and their
per-stage artifacts, plus the two message shapes that cross the broker. All
other packages depend on it for state management, wire encoding, and
orchestration logic.

# Core Types

Inventory:
  - Customer: organisation owning targets
  - Target: IP or FQDN to scan, unique per (customer, address)
  - PortList: named comma/dash port specification for TCP and UDP
  - ScanType: recipe of pipeline stages (discovery flags + plugin booleans)

Pipeline state:
  - Scan: one run of one target under one recipe; carries status and the
    parsed per-stage artifacts (always JSON object or null)
  - ScanStatus: the closed state-machine vocabulary ("Pending" through
    "Completed"/"Failed"); terminal states are absorbing
  - ScanDetail: extracted open-port/OS view plus per-stage timestamps
  - FingerprintDetail: one fingerprinted service on one port
  - VulnEngineResult: external engine report, counts by severity

Broker contract:
  - StageRequest: work message consumed by a stage worker
  - StatusEvent: progress message published by a worker; module and status
    tags are closed sets, unknown tags are rejected at parse time
  - Module: nmap, fingerprint, vuln_engine, web, vuln_lookup, report
  - PluginOrder: the canonical post-discovery stage order

# Wire Compatibility

ParseStatusEvent tolerates the spellings older workers still emit:
"plugin" as the module key, "error" as the failed status, and "gce" as the
vuln_engine module. Everything else unknown is an error, not a warning.

# Validation

Entities validate themselves (Validate methods): address syntax (IP or
FQDN label rules), port specifications (1-65535, ranges ascending),
confidence bounds, and recipe consistency (discovery-only recipes cannot
enable plugins or port lists). The store and the REST layer both call
these before any write.
*/
package types
