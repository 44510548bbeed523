package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/vapter/vapter/pkg/broker"
	"github.com/vapter/vapter/pkg/client"
	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/health"
	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/metrics"
	"github.com/vapter/vapter/pkg/types"
)

const (
	// heartbeatInterval is how often a busy worker re-announces
	// running while its tool executes.
	heartbeatInterval = 30 * time.Second

	// dependencyCheckInterval is how often a consuming worker
	// re-verifies its external dependencies.
	dependencyCheckInterval = 30 * time.Second
)

// StatusFunc publishes an intermediate status event for the request
// being processed. Stages use it for parsing markers and progress.
type StatusFunc func(status types.EventStatus, message string, progress *int)

// Check pairs a preflight checker with the dependency it guards
type Check struct {
	Name    string
	Checker health.Checker
}

// Stage is one pipeline tool wrapped for the worker runtime.
type Stage interface {
	// Module identifies the stage on the status queue
	Module() types.Module

	// Timeout is the hard wall-clock limit for one request
	Timeout() time.Duration

	// Preflight lists stage-specific dependencies that must answer
	// before the worker starts consuming
	Preflight() []Check

	// Run processes one stage request end to end: fetch inputs, run
	// the tool, parse and upload artifacts.
	Run(ctx context.Context, req *types.StageRequest, publish StatusFunc) error
}

// transientError marks a failure worth another delivery attempt
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the runtime requeues the message instead of
// failing the scan. Use for infrastructure faults, not tool failures.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err carries the requeue marker
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// apiFault classifies a control-surface error. Client-side rejections
// fail the stage outright; server faults and transport errors are
// marked transient so the message is delivered again.
func apiFault(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
		return err
	}
	return Transient(err)
}

// Worker consumes one stage-request queue and drives a Stage for each
// message. Status events go out on the shared status-update queue; the
// orchestrator's state machine reacts to them.
type Worker struct {
	stage       Stage
	broker      broker.Broker
	cfg         *config.Config
	queue       string
	statusQueue string
	log         zerolog.Logger
}

// New connects to the broker and wires a worker around stage.
func New(cfg *config.Config, stage Stage) (*Worker, error) {
	queue, err := cfg.Queues.RequestQueue(stage.Module())
	if err != nil {
		return nil, err
	}

	b, err := broker.Connect(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect broker: %w", err)
	}
	if err := b.DeclareQueues(queue, cfg.Queues.ScanStatusUpdate); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to declare queues: %w", err)
	}

	return &Worker{
		stage:       stage,
		broker:      b,
		cfg:         cfg,
		queue:       queue,
		statusQueue: cfg.Queues.ScanStatusUpdate,
		log:         log.WithComponent("worker." + string(stage.Module())),
	}, nil
}

// Run verifies dependencies and then consumes the stage queue until
// ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.preflight(ctx); err != nil {
		return err
	}
	go w.watchDependencies(ctx)

	w.log.Info().Str("queue", w.queue).Msg("worker consuming")
	return w.broker.Consume(ctx, w.queue, 1, w.handle)
}

// Close releases the broker connection
func (w *Worker) Close() error {
	return w.broker.Close()
}

// preflight runs every dependency check once and refuses to start on
// the first failure.
func (w *Worker) preflight(ctx context.Context) error {
	for _, check := range w.checks() {
		result := check.Checker.Check(ctx)
		metrics.SetComponent("worker_"+check.Name, result.Healthy, result.Message)
		if !result.Healthy {
			return fmt.Errorf("preflight check %s failed: %s", check.Name, result.Message)
		}
		w.log.Info().Str("check", check.Name).Dur("took", result.Duration).Msg("preflight ok")
	}
	return nil
}

// checks returns the shared dependency checks plus the stage's own
func (w *Worker) checks() []Check {
	checks := []Check{{
		Name:    "control_surface",
		Checker: health.NewHTTPChecker(controlSurfaceURL(w.cfg.APIGatewayURL)),
	}}
	if addr := brokerAddr(w.cfg.BrokerURL); addr != "" {
		checks = append(checks, Check{Name: "broker", Checker: health.NewTCPChecker(addr)})
	}
	return append(checks, w.stage.Preflight()...)
}

// watchDependencies re-checks the worker's dependencies while it
// consumes and mirrors the verdicts into the health registry. A flap
// only flips the component after the configured retry threshold.
func (w *Worker) watchDependencies(ctx context.Context) {
	hcfg := health.DefaultConfig()
	statuses := make(map[string]*health.Status)

	ticker := time.NewTicker(dependencyCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, check := range w.checks() {
				status, ok := statuses[check.Name]
				if !ok {
					status = health.NewStatus()
					statuses[check.Name] = status
				}

				result := check.Checker.Check(ctx)
				status.Update(result, hcfg)
				metrics.SetComponent("worker_"+check.Name, status.Healthy, result.Message)
				if !result.Healthy {
					w.log.Warn().
						Str("check", check.Name).
						Str("message", result.Message).
						Int("consecutive_failures", status.ConsecutiveFailures).
						Msg("dependency check failed")
				}
			}
		}
	}
}

// handle processes one delivery. The outcome encodes the ack
// discipline: malformed or orphaned requests are dropped, transient
// failures requeue, everything else is acknowledged after the terminal
// status event is published.
func (w *Worker) handle(ctx context.Context, body []byte) broker.Outcome {
	req, err := types.ParseStageRequest(body)
	if err != nil {
		w.log.Error().Err(err).Msg("dropping malformed stage request")
		return broker.Reject
	}

	logger := w.log.With().Str("scan_id", req.ScanID).Logger()
	logger.Info().Str("target_host", req.TargetHost).Msg("stage request received")

	w.publish(ctx, req.ScanID, types.EventReceived, "", "", nil)
	w.publish(ctx, req.ScanID, types.EventRunning, "", "", nil)

	err = w.runStage(ctx, req)
	switch {
	case err == nil:
		w.publish(ctx, req.ScanID, types.EventCompleted, "", "", nil)
		logger.Info().Msg("stage completed")
		return broker.Ack

	case client.IsNotFound(err):
		logger.Warn().Err(err).Msg("scan context is gone, dropping request")
		return broker.Reject

	case IsTransient(err):
		logger.Warn().Err(err).Msg("transient failure, requeueing")
		return broker.Requeue

	default:
		w.publish(ctx, req.ScanID, types.EventFailed, string(w.stage.Module())+" stage failed", err.Error(), nil)
		logger.Error().Err(err).Msg("stage failed")
		return broker.Ack
	}
}

// runStage executes the stage under its hard timeout while a heartbeat
// keeps re-announcing running on the status queue.
func (w *Worker) runStage(ctx context.Context, req *types.StageRequest) error {
	runCtx, cancel := context.WithTimeout(ctx, w.stage.Timeout())
	defer cancel()

	publish := func(status types.EventStatus, message string, progress *int) {
		w.publish(ctx, req.ScanID, status, message, "", progress)
	}

	done := make(chan error, 1)
	go func() {
		done <- w.stage.Run(runCtx, req, publish)
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				// Shutdown mid-run: hand the message back.
				return Transient(err)
			}
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("stage timed out after %s: %w", w.stage.Timeout(), err)
			}
			return err
		case <-ticker.C:
			w.publish(ctx, req.ScanID, types.EventRunning, "", "", nil)
		}
	}
}

// publish sends one status event, retrying with the configured backoff.
// Publish failures are logged, not fatal: the orchestrator's watchdog
// closes scans whose events never arrive.
func (w *Worker) publish(ctx context.Context, scanID string, status types.EventStatus, message, errorDetails string, progress *int) {
	ev := &types.StatusEvent{
		ScanID:       scanID,
		Module:       w.stage.Module(),
		Status:       status,
		Timestamp:    time.Now().UTC(),
		Message:      message,
		ErrorDetails: errorDetails,
		Progress:     progress,
	}

	var lastErr error
	for attempt := 0; attempt <= w.cfg.Retries.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				w.logPublishFailure(scanID, status, ctx.Err())
				return
			case <-time.After(w.cfg.RetryBackoff()):
			}
		}
		if lastErr = broker.PublishJSON(ctx, w.broker, w.statusQueue, ev); lastErr == nil {
			return
		}
	}
	w.logPublishFailure(scanID, status, lastErr)
}

func (w *Worker) logPublishFailure(scanID string, status types.EventStatus, err error) {
	w.log.Error().Err(err).
		Str("scan_id", scanID).
		Str("status", string(status)).
		Msg("failed to publish status event")
}

// brokerAddr extracts the dialable host:port of an AMQP broker URL.
// In-memory brokers have no address to check.
func brokerAddr(brokerURL string) string {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return ""
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return ""
	}
	host := u.Host
	if u.Port() == "" {
		host += ":5672"
	}
	return host
}

// controlSurfaceURL points the HTTP check at the liveness route
func controlSurfaceURL(gatewayURL string) string {
	for len(gatewayURL) > 0 && gatewayURL[len(gatewayURL)-1] == '/' {
		gatewayURL = gatewayURL[:len(gatewayURL)-1]
	}
	return gatewayURL + "/live"
}
