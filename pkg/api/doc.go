/*
Package api implements the Vapter REST control surface.

The api package is the single HTTP interface for operators and stage
workers. Operators use it to manage customers, targets, recipes and
scans; workers use it to fetch their scan context and upload stage
artifacts. Everything is JSON over HTTP.

# Architecture

	┌────────── OPERATOR / WORKER ──────────┐
	│  HTTP client (JSON)                   │
	└───────────────┬───────────────────────┘
	                │ :8080
	┌───────────────▼── ORCHESTRATOR NODE ──┐
	│  chi router (pkg/api)                 │
	│    - CRUD for the eight entities      │
	│    - scan lifecycle actions           │
	│    - artifact ingestion               │
	│    - /metrics, /health                │
	│        │                              │
	│  pkg/orchestrator (lifecycle)         │
	│  pkg/storage (bbolt)                  │
	└───────────────────────────────────────┘

# Endpoints

All resource routes live under /api/orchestrator/:

Inventory:
  - /customers: CRUD plus per-customer targets, scans and statistics
  - /targets: CRUD plus scan history and POST /{id}/scan to launch
  - /port-lists, /scan-types: recipe CRUD

Scan lifecycle:
  - /scans: CRUD with rich filtering, plus /statistics
  - POST /scans/{id}/restart, /scans/{id}/cancel
  - PATCH /scans/{id}: worker artifact and status uploads
  - PATCH /scans/{id}/vuln-engine-progress
  - POST /scans/{id}/vuln-engine-results

Derived data:
  - /scan-details: per-scan port and OS summaries
  - /fingerprint-details: per-port fingerprints, bulk_create,
    by_scan, by_target and service_summary aggregation
  - /vuln-engine-results: engine report rows

Operational:
  - /metrics: Prometheus exposition
  - /health, /ready, /live: component health

# Listing Semantics

List endpoints share one contract. Results are paginated with the
page and page_size query parameters (default 50, capped at 200) and
wrapped in an envelope:

	{"count": 123, "page": 1, "page_size": 50, "results": [...]}

Text filters match case-insensitive substrings, identifier filters
match exactly, and ordering accepts a field name with an optional "-"
prefix for descending order.

# Status Changes

A PATCH that moves a scan's status runs through the same transition
table the message consumer uses. Transitions the table does not allow
are rejected with 400 before touching the store; legal transitions go
through the store's compare-and-set so a concurrent writer surfaces
as 409 instead of a lost update.

# Error Handling

Errors are returned as {"error": "..."} with conventional codes:

  - 400: malformed body, failed validation, unknown filter field,
    illegal transition
  - 404: resource does not exist
  - 409: duplicate name or email, busy target, status conflict

# Usage

	store, _ := storage.NewBoltStore(cfg.DataDir)
	orch, _ := orchestrator.New(cfg, store, conn)
	srv := api.NewServer(orch)
	go srv.Start(":8080")
	...
	srv.Stop(ctx)

# Integration Points

  - pkg/orchestrator: scan lifecycle actions and transition checks
  - pkg/storage: entity persistence
  - pkg/metrics: request counters and latency histograms
  - pkg/client: the Go client workers use against this surface
*/
package api
