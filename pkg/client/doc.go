/*
Package client provides a Go client for the Vapter REST control surface.

Stage workers and the CLI share this package. Workers use it to fetch
the scan, target and recipe a queued message refers to and to upload
their artifacts; the CLI uses it to manage inventory and drive scan
lifecycles from the terminal.

# Architecture

	┌──────────── APPLICATION CODE ────────────┐
	│                                           │
	│  c := client.NewClient(cfg)               │
	│  scan, err := c.GetScan(ctx, id)          │
	│                                           │
	└───────────────┬───────────────────────────┘
	                │
	┌───────────────▼──── pkg/client ───────────┐
	│  JSON encode/decode                       │
	│  retry on transport and 5xx failures      │
	│  {"error": ...} envelope -> *APIError     │
	└───────────────┬───────────────────────────┘
	                │ HTTP (cfg.APIGatewayURL)
	                ▼
	        Orchestrator REST API (pkg/api)

# Usage

Create a client from configuration and call typed methods:

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	c := client.NewClient(cfg)

	scan, err := c.GetScan(ctx, scanID)
	if err != nil {
		if client.IsNotFound(err) {
			// scan was deleted, drop the work item
		}
		return err
	}

	_, err = c.PatchScan(ctx, scan.ID, client.ScanPatch{
		ParsedNmapResults: parsed,
	})

# Error Handling

Non-2xx responses become *APIError values carrying the HTTP status and
the server's error message. IsNotFound and IsConflict unwrap them for
the two cases callers branch on. Transport failures and 5xx responses
are retried cfg.Retries.MaxRetries times with cfg.RetryBackoff between
attempts; 4xx responses are returned immediately.

Every method takes a context. The per-request timeout comes from
cfg.APITimeout; pass a shorter-lived context to cut a call off earlier.

# Integration Points

  - pkg/worker: fetches scan context, uploads stage artifacts
  - cmd/vapter: scan/apply subcommands drive inventory and lifecycles
  - pkg/config: gateway URL, timeout and retry policy
*/
package client
