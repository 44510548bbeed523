package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vapter/vapter/pkg/client"
	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/health"
	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/types"
)

// fingerprintxBinary is the active service prober
const fingerprintxBinary = "fingerprintx"

// Confidence assigned to probe results. A version string means the
// probe got a protocol-level answer, not just a banner.
const (
	confidenceVersioned  = 100
	confidenceIdentified = 75
)

// openPort is one probe target lifted from the discovery results
type openPort struct {
	Port     int
	Protocol types.Protocol
	Service  string
}

// probeResult is what one prober invocation yields
type probeResult struct {
	Service  string
	Version  string
	TLS      bool
	Raw      string
	Metadata map[string]interface{}
}

// probeFunc runs one service probe. Swapped in tests.
type probeFunc func(ctx context.Context, host string, port int, protocol types.Protocol) (*probeResult, error)

// FingerprintStage probes every open port from the discovery results
// on a bounded pool and uploads FingerprintDetail rows plus a summary.
type FingerprintStage struct {
	cfg   *config.Config
	api   *client.Client
	probe probeFunc
}

// NewFingerprintStage builds the fingerprint stage
func NewFingerprintStage(cfg *config.Config, api *client.Client) *FingerprintStage {
	return &FingerprintStage{cfg: cfg, api: api, probe: runFingerprintx}
}

func (s *FingerprintStage) Module() types.Module {
	return types.ModuleFingerprint
}

// Timeout bounds the whole request. Ports run through a pool of
// MaxConcurrentFingerprint probes with a per-port timeout, so the cap
// here only matters when a scan has an enormous open-port count.
func (s *FingerprintStage) Timeout() time.Duration {
	perPort := time.Duration(s.cfg.Stages.FingerprintTimeout) * time.Second
	return perPort * 60
}

func (s *FingerprintStage) Preflight() []Check {
	return []Check{{
		Name:    "fingerprintx_binary",
		Checker: health.NewExecChecker([]string{fingerprintxBinary, "--help"}),
	}}
}

func (s *FingerprintStage) Run(ctx context.Context, req *types.StageRequest, publish StatusFunc) error {
	logger := log.WithComponent("worker.fingerprint").With().Str("scan_id", req.ScanID).Logger()

	scan, err := s.api.GetScan(ctx, req.ScanID)
	if err != nil {
		return apiFault(fmt.Errorf("failed to fetch scan: %w", err))
	}

	ports, err := extractOpenPorts(scan.ParsedNmapResults)
	if err != nil {
		return fmt.Errorf("discovery results unreadable: %w", err)
	}
	if len(ports) == 0 {
		logger.Info().Msg("no open ports to fingerprint")
		return nil
	}
	logger.Info().Int("ports", len(ports)).Msg("probing open ports")

	details := s.probeAll(ctx, req, ports, logger)

	publish(types.EventParsing, "", nil)

	if len(details) > 0 {
		if err := s.api.BulkCreateFingerprintDetails(ctx, details); err != nil {
			return apiFault(fmt.Errorf("failed to upload fingerprint details: %w", err))
		}
	}

	summary := buildFingerprintSummary(ports, details)
	if _, err := s.api.PatchScan(ctx, req.ScanID, client.ScanPatch{FingerprintSummary: summary}); err != nil {
		return apiFault(fmt.Errorf("failed to upload fingerprint summary: %w", err))
	}

	logger.Info().Int("identified", len(details)).Msg("fingerprinting done")
	return nil
}

// probeAll fans the ports out over a bounded pool. A failed probe is
// normal (filtered port, unidentifiable service) and only drops that
// port from the results.
func (s *FingerprintStage) probeAll(ctx context.Context, req *types.StageRequest, ports []openPort, logger zerolog.Logger) []*types.FingerprintDetail {
	perPort := time.Duration(s.cfg.Stages.FingerprintTimeout) * time.Second
	sem := make(chan struct{}, s.cfg.Stages.MaxConcurrentFingerprint)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		details []*types.FingerprintDetail
	)

	for _, port := range ports {
		wg.Add(1)
		go func(p openPort) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			probeCtx, cancel := context.WithTimeout(ctx, perPort)
			defer cancel()

			result, err := s.probe(probeCtx, req.TargetHost, p.Port, p.Protocol)
			if err != nil {
				logger.Debug().Err(err).Int("port", p.Port).Msg("probe yielded nothing")
				return
			}

			detail := probeDetail(req, p, result)
			mu.Lock()
			details = append(details, detail)
			mu.Unlock()
		}(port)
	}
	wg.Wait()

	sort.Slice(details, func(i, j int) bool { return details[i].Port < details[j].Port })
	return details
}

// probeDetail converts one probe result into an upload row
func probeDetail(req *types.StageRequest, p openPort, result *probeResult) *types.FingerprintDetail {
	confidence := confidenceIdentified
	if result.Version != "" {
		confidence = confidenceVersioned
	}

	service := result.Service
	if service == "" {
		service = p.Service
	}

	return &types.FingerprintDetail{
		ScanID:            req.ScanID,
		TargetID:          req.TargetID,
		Port:              p.Port,
		Protocol:          p.Protocol,
		ServiceName:       service,
		ServiceVersion:    result.Version,
		FingerprintMethod: fingerprintxBinary,
		ConfidenceScore:   confidence,
		RawResponse:       result.Raw,
		AdditionalInfo:    result.Metadata,
	}
}

// buildFingerprintSummary condenses the probe round for the scan record
func buildFingerprintSummary(ports []openPort, details []*types.FingerprintDetail) map[string]interface{} {
	services := make(map[string][]int)
	for _, d := range details {
		name := d.ServiceName
		if name == "" {
			name = "unknown"
		}
		services[name] = append(services[name], d.Port)
	}
	for _, p := range services {
		sort.Ints(p)
	}

	return map[string]interface{}{
		"total_open_ports":    len(ports),
		"identified_services": len(details),
		"services":            services,
	}
}

// flexPort tolerates discovery results that carry port numbers as
// strings, which some external producers do.
type flexPort int

func (f *flexPort) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %q", string(data))
	}
	*f = flexPort(n)
	return nil
}

// extractOpenPorts lifts the probe targets out of the scan's parsed
// discovery results, deduplicated per protocol and port.
func extractOpenPorts(parsed map[string]interface{}) ([]openPort, error) {
	if parsed == nil {
		return nil, nil
	}

	raw, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode discovery results: %w", err)
	}

	var results struct {
		Hosts []struct {
			Ports []struct {
				PortID   flexPort `json:"portid"`
				Protocol string   `json:"protocol"`
				State    string   `json:"state"`
				Service  *struct {
					Name string `json:"name"`
				} `json:"service"`
			} `json:"ports"`
		} `json:"hosts"`
	}
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("failed to decode discovery results: %w", err)
	}

	seen := make(map[string]bool)
	var ports []openPort
	for _, host := range results.Hosts {
		for _, port := range host.Ports {
			if port.State != "open" || port.PortID == 0 {
				continue
			}
			protocol := types.Protocol(port.Protocol)
			if !protocol.Valid() {
				continue
			}
			key := port.Protocol + "/" + strconv.Itoa(int(port.PortID))
			if seen[key] {
				continue
			}
			seen[key] = true

			entry := openPort{Port: int(port.PortID), Protocol: protocol}
			if port.Service != nil {
				entry.Service = port.Service.Name
			}
			ports = append(ports, entry)
		}
	}

	sort.Slice(ports, func(i, j int) bool {
		if ports[i].Protocol != ports[j].Protocol {
			return ports[i].Protocol < ports[j].Protocol
		}
		return ports[i].Port < ports[j].Port
	})
	return ports, nil
}

// fingerprintxOutput is the JSON line the prober writes per service
type fingerprintxOutput struct {
	IP        string                 `json:"ip"`
	Port      int                    `json:"port"`
	Service   string                 `json:"protocol"`
	Transport string                 `json:"transport"`
	TLS       bool                   `json:"tls"`
	Version   string                 `json:"version"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// runFingerprintx probes one port with the fingerprintx binary
func runFingerprintx(ctx context.Context, host string, port int, protocol types.Protocol) (*probeResult, error) {
	target := net.JoinHostPort(host, strconv.Itoa(port))
	argv := []string{fingerprintxBinary, "-t", target, "--json"}
	if protocol == types.ProtocolUDP {
		argv = append(argv, "-U")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("probe failed: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("probe failed: %w", err)
	}

	line := strings.TrimSpace(stdout.String())
	if line == "" {
		return nil, fmt.Errorf("no service identified on %s", target)
	}
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	var out fingerprintxOutput
	if err := json.Unmarshal([]byte(line), &out); err != nil {
		return nil, fmt.Errorf("unreadable probe output: %w", err)
	}

	return &probeResult{
		Service:  out.Service,
		Version:  out.Version,
		TLS:      out.TLS,
		Raw:      line,
		Metadata: out.Metadata,
	}, nil
}
