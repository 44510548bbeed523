/*
Package health provides the dependency checks the pipeline components
run against their surroundings: the control surface, the message
broker, the vulnerability engine socket, and the scan tool binaries.

# Architecture

The package is a small set of checkers behind one interface:

	┌──────────────────────────────────────────────┐
	│              Checker Interface               │
	│  • Check(ctx) Result                         │
	│  • Type() CheckType                          │
	└────────┬─────────────────────────────────────┘
	         │
	    ┌────┴──────┬──────────┐
	    ▼           ▼          ▼
	┌────────┐  ┌───────┐  ┌────────┐
	│  HTTP  │  │  TCP  │  │  Exec  │
	│Checker │  │Checker│  │Checker │
	└────────┘  └───────┘  └────────┘
	     │          │          │
	     ▼          ▼          ▼
	  GET /live  dial tcp/   run tool,
	             unix addr   expect exit 0

Checkers are single-shot; scheduling belongs to the caller. Workers run
every check once as a preflight gate and then periodically while they
consume, folding results into a Status per dependency.

# Usage

One-shot check:

	checker := health.NewHTTPChecker("http://gateway:8080/live")
	result := checker.Check(ctx)
	if !result.Healthy {
		return fmt.Errorf("gateway unavailable: %s", result.Message)
	}

Scheduled with flap suppression:

	cfg := health.DefaultConfig()
	status := health.NewStatus()
	for range ticker.C {
		status.Update(checker.Check(ctx), cfg)
		if !status.Healthy {
			// three consecutive failures by default
		}
	}

A Status starts healthy and only flips after Config.Retries consecutive
failures, so one dropped poll does not mark a dependency down. Any
success flips it back immediately.

# Checkers

HTTPChecker requests a URL and grades the status code against an
accepted range, 200-399 by default. Used for the control surface's
liveness route.

TCPChecker dials an address and closes the connection. The network
defaults to tcp for broker endpoints; WithNetwork("unix") points it at
local daemon sockets such as the vulnerability engine's.

ExecChecker runs a command and expects exit code zero. Used to verify
the scan tools are on PATH before a worker starts consuming, e.g.
["nmap", "-V"].

# Integration Points

  - pkg/worker gates its consume loop on these checks and re-runs them
    in the background
  - pkg/metrics mirrors check verdicts into the readiness endpoint
*/
package health
