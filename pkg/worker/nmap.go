package worker

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/vapter/vapter/pkg/client"
	"github.com/vapter/vapter/pkg/config"
	"github.com/vapter/vapter/pkg/health"
	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/types"
)

// nmapBinary is the discovery tool invoked for every scan
const nmapBinary = "nmap"

// ParsedNmapResults is the canonical JSON shape of a discovery run.
// The orchestrator derives the open-port and OS views from it.
type ParsedNmapResults struct {
	Hosts []ParsedHost `json:"hosts"`
}

// ParsedHost is one scanned host with its ports and OS guess
type ParsedHost struct {
	Address string       `json:"address,omitempty"`
	Status  string       `json:"status,omitempty"`
	Ports   []ParsedPort `json:"ports"`
	OS      *ParsedOS    `json:"os,omitempty"`
}

// ParsedPort is one scanned port and the service detected on it
type ParsedPort struct {
	PortID   int            `json:"portid"`
	Protocol string         `json:"protocol"`
	State    string         `json:"state"`
	Service  *ParsedService `json:"service,omitempty"`
}

// ParsedService carries the tool's service detection fields
type ParsedService struct {
	Name      string `json:"name,omitempty"`
	Product   string `json:"product,omitempty"`
	Version   string `json:"version,omitempty"`
	ExtraInfo string `json:"extrainfo,omitempty"`
}

// ParsedOS is the best OS match for a host
type ParsedOS struct {
	Name     string `json:"name"`
	Accuracy int    `json:"accuracy,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
	Type     string `json:"type,omitempty"`
	OSFamily string `json:"osfamily,omitempty"`
	OSGen    string `json:"osgen,omitempty"`
}

// NmapStage runs the discovery tool against the request's target and
// uploads the parsed results onto the scan.
type NmapStage struct {
	cfg *config.Config
	api *client.Client

	// runTool executes the assembled command line. Swapped in tests.
	runTool func(ctx context.Context, argv []string) error
}

// NewNmapStage builds the discovery stage
func NewNmapStage(cfg *config.Config, api *client.Client) *NmapStage {
	s := &NmapStage{cfg: cfg, api: api}
	s.runTool = runCommand
	return s
}

func (s *NmapStage) Module() types.Module {
	return types.ModuleNmap
}

func (s *NmapStage) Timeout() time.Duration {
	return time.Duration(s.cfg.Stages.NmapTimeout) * time.Second
}

func (s *NmapStage) Preflight() []Check {
	return []Check{{
		Name:    "nmap_binary",
		Checker: health.NewExecChecker([]string{nmapBinary, "-V"}),
	}}
}

func (s *NmapStage) Run(ctx context.Context, req *types.StageRequest, publish StatusFunc) error {
	logger := log.WithComponent("worker.nmap").With().Str("scan_id", req.ScanID).Logger()

	scan, err := s.api.GetScan(ctx, req.ScanID)
	if err != nil {
		return apiFault(fmt.Errorf("failed to fetch scan: %w", err))
	}
	scanType, err := s.api.GetScanType(ctx, scan.ScanTypeID)
	if err != nil {
		return apiFault(fmt.Errorf("failed to fetch scan type: %w", err))
	}

	var portList *types.PortList
	if scanType.PortListID != "" {
		portList, err = s.api.GetPortList(ctx, scanType.PortListID)
		if err != nil {
			return apiFault(fmt.Errorf("failed to fetch port list: %w", err))
		}
	}

	outFile := filepath.Join(os.TempDir(), fmt.Sprintf("vapter-nmap-%s.xml", req.ScanID))
	defer os.Remove(outFile)

	argv := BuildNmapArgs(scanType, portList, req.TargetHost, outFile)
	logger.Info().Strs("argv", argv).Msg("running discovery")
	if err := s.runTool(ctx, argv); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("nmap run failed: %w", err)
	}

	publish(types.EventParsing, "", nil)

	raw, err := os.ReadFile(outFile)
	if err != nil {
		return fmt.Errorf("failed to read nmap output: %w", err)
	}
	parsed, err := ParseNmapXML(raw)
	if err != nil {
		return fmt.Errorf("failed to parse nmap output: %w", err)
	}
	logger.Info().Int("hosts", len(parsed.Hosts)).Msg("discovery parsed")

	if _, err := s.api.PatchScan(ctx, req.ScanID, client.ScanPatch{ParsedNmapResults: parsed}); err != nil {
		return apiFault(fmt.Errorf("failed to upload nmap results: %w", err))
	}
	return nil
}

// BuildNmapArgs assembles the discovery command line from the recipe.
// Discovery-only recipes skip port scanning entirely; quiet recipes
// trade detection depth for a slower timing template.
func BuildNmapArgs(scanType *types.ScanType, portList *types.PortList, host, outFile string) []string {
	args := []string{nmapBinary}

	if scanType.ConsiderAlive {
		args = append(args, "-Pn")
	}

	if scanType.OnlyDiscovery {
		args = append(args, "-sn")
	} else {
		if scanType.BeQuiet {
			args = append(args, "-T2")
		} else {
			args = append(args, "-sV", "-O", "-sC", "-T4", "--open")
		}
		if portList != nil && portList.UDPPorts != "" {
			args = append(args, "-sU")
		}
		if spec := nmapPortSpec(portList); spec != "" {
			args = append(args, "-p", spec)
		}
	}

	return append(args, "-oX", outFile, host)
}

// nmapPortSpec renders a port list in nmap's T:/U: syntax
func nmapPortSpec(portList *types.PortList) string {
	if portList == nil {
		return ""
	}
	var parts []string
	if portList.TCPPorts != "" {
		parts = append(parts, "T:"+portList.TCPPorts)
	}
	if portList.UDPPorts != "" {
		parts = append(parts, "U:"+portList.UDPPorts)
	}
	return strings.Join(parts, ",")
}

// nmaprun XML elements, limited to the fields the pipeline keeps.
type nmapXMLRun struct {
	XMLName xml.Name      `xml:"nmaprun"`
	Hosts   []nmapXMLHost `xml:"host"`
}

type nmapXMLHost struct {
	Status    nmapXMLState     `xml:"status"`
	Addresses []nmapXMLAddress `xml:"address"`
	Ports     []nmapXMLPort    `xml:"ports>port"`
	OSMatches []nmapXMLOSMatch `xml:"os>osmatch"`
}

type nmapXMLState struct {
	State string `xml:"state,attr"`
}

type nmapXMLAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type nmapXMLPort struct {
	Protocol string          `xml:"protocol,attr"`
	PortID   int             `xml:"portid,attr"`
	State    nmapXMLState    `xml:"state"`
	Service  *nmapXMLService `xml:"service"`
}

type nmapXMLService struct {
	Name      string `xml:"name,attr"`
	Product   string `xml:"product,attr"`
	Version   string `xml:"version,attr"`
	ExtraInfo string `xml:"extrainfo,attr"`
}

type nmapXMLOSMatch struct {
	Name      string           `xml:"name,attr"`
	Accuracy  int              `xml:"accuracy,attr"`
	OSClasses []nmapXMLOSClass `xml:"osclass"`
}

type nmapXMLOSClass struct {
	Vendor   string `xml:"vendor,attr"`
	Type     string `xml:"type,attr"`
	OSFamily string `xml:"osfamily,attr"`
	OSGen    string `xml:"osgen,attr"`
}

// ParseNmapXML converts the tool's -oX output into the canonical
// parsed shape. The first OS match wins; nmap orders them by accuracy.
func ParseNmapXML(raw []byte) (*ParsedNmapResults, error) {
	var run nmapXMLRun
	if err := xml.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("invalid nmap xml: %w", err)
	}

	parsed := &ParsedNmapResults{Hosts: []ParsedHost{}}
	for _, host := range run.Hosts {
		out := ParsedHost{
			Address: hostAddress(host.Addresses),
			Status:  host.Status.State,
			Ports:   []ParsedPort{},
		}

		for _, port := range host.Ports {
			entry := ParsedPort{
				PortID:   port.PortID,
				Protocol: port.Protocol,
				State:    port.State.State,
			}
			if port.Service != nil {
				entry.Service = &ParsedService{
					Name:      port.Service.Name,
					Product:   port.Service.Product,
					Version:   port.Service.Version,
					ExtraInfo: port.Service.ExtraInfo,
				}
			}
			out.Ports = append(out.Ports, entry)
		}

		if len(host.OSMatches) > 0 {
			match := host.OSMatches[0]
			out.OS = &ParsedOS{
				Name:     match.Name,
				Accuracy: match.Accuracy,
			}
			if len(match.OSClasses) > 0 {
				class := match.OSClasses[0]
				out.OS.Vendor = class.Vendor
				out.OS.Type = class.Type
				out.OS.OSFamily = class.OSFamily
				out.OS.OSGen = class.OSGen
			}
		}

		parsed.Hosts = append(parsed.Hosts, out)
	}
	return parsed, nil
}

// hostAddress prefers the IPv4 address when the host carries several
func hostAddress(addresses []nmapXMLAddress) string {
	for _, a := range addresses {
		if a.AddrType == "ipv4" {
			return a.Addr
		}
	}
	if len(addresses) > 0 {
		return addresses[0].Addr
	}
	return ""
}

// runCommand executes argv and surfaces stderr in the error
func runCommand(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("%w: %s", err, detail)
		}
		return err
	}
	return nil
}
