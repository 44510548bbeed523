package orchestrator

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vapter/vapter/pkg/storage"
	"github.com/vapter/vapter/pkg/types"
)

// flexInt decodes JSON numbers or numeric strings. Upstream parsers
// disagree on whether portid and accuracy are numbers.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %q", string(data))
	}
	*f = flexInt(n)
	return nil
}

type nmapResults struct {
	Hosts []nmapHost `json:"hosts"`
}

type nmapHost struct {
	Ports []nmapPort `json:"ports"`
	OS    *nmapOS    `json:"os"`
}

type nmapPort struct {
	PortID   flexInt      `json:"portid"`
	Protocol string       `json:"protocol"`
	State    string       `json:"state"`
	Service  *nmapService `json:"service"`
}

type nmapService struct {
	Name      string `json:"name"`
	Product   string `json:"product"`
	Version   string `json:"version"`
	ExtraInfo string `json:"extrainfo"`
}

type nmapOS struct {
	Name     string  `json:"name"`
	Accuracy flexInt `json:"accuracy"`
	Vendor   string  `json:"vendor"`
	Type     string  `json:"type"`
	OSFamily string  `json:"osfamily"`
	OSGen    string  `json:"osgen"`
}

// DerivePortSummary extracts the per-protocol open-port view and the OS
// guess from parsed port-scan results. Only ports with state "open" are
// kept, sorted ascending. The OS guess comes from the first host that
// carries one. Returns nils when the results hold no hosts.
func DerivePortSummary(parsed map[string]interface{}) (*types.OpenPorts, *types.OSGuess, error) {
	if parsed == nil {
		return nil, nil, nil
	}

	raw, err := json.Marshal(parsed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to re-encode port scan results: %w", err)
	}
	var results nmapResults
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, nil, fmt.Errorf("failed to decode port scan results: %w", err)
	}
	if len(results.Hosts) == 0 {
		return nil, nil, nil
	}

	open := &types.OpenPorts{
		TCP: []types.PortEntry{},
		UDP: []types.PortEntry{},
	}
	var guess *types.OSGuess

	for _, host := range results.Hosts {
		for _, port := range host.Ports {
			if port.State != "open" {
				continue
			}
			entry := types.PortEntry{
				Port:  int(port.PortID),
				State: port.State,
			}
			if port.Service != nil {
				entry.Service = port.Service.Name
				entry.Product = port.Service.Product
				entry.Version = port.Service.Version
				entry.ExtraInfo = port.Service.ExtraInfo
			}
			switch types.Protocol(port.Protocol) {
			case types.ProtocolTCP:
				open.TCP = append(open.TCP, entry)
			case types.ProtocolUDP:
				open.UDP = append(open.UDP, entry)
			}
		}

		if guess == nil && host.OS != nil && host.OS.Name != "" {
			guess = &types.OSGuess{
				Name:     host.OS.Name,
				Accuracy: int(host.OS.Accuracy),
				Vendor:   host.OS.Vendor,
				Type:     host.OS.Type,
				OSFamily: host.OS.OSFamily,
				OSGen:    host.OS.OSGen,
			}
		}
	}

	sort.Slice(open.TCP, func(i, j int) bool { return open.TCP[i].Port < open.TCP[j].Port })
	sort.Slice(open.UDP, func(i, j int) bool { return open.UDP[i].Port < open.UDP[j].Port })

	return open, guess, nil
}

// UpdateScanDetailFromResults refreshes the scan's detail row with the
// views derived from its parsed port-scan results. Called by the
// control surface whenever those results change.
func UpdateScanDetailFromResults(store storage.Store, scan *types.Scan) error {
	open, guess, err := DerivePortSummary(scan.ParsedNmapResults)
	if err != nil {
		return err
	}
	if open == nil && guess == nil {
		return nil
	}

	detail, err := store.GetScanDetailByScan(scan.ID)
	if errors.Is(err, storage.ErrNotFound) {
		detail = &types.ScanDetail{
			ID:        uuid.New().String(),
			ScanID:    scan.ID,
			TargetID:  scan.TargetID,
			OpenPorts: open,
			OSGuess:   guess,
		}
		return store.CreateScanDetail(detail)
	}
	if err != nil {
		return fmt.Errorf("failed to load scan detail for %s: %w", scan.ID, err)
	}

	detail.OpenPorts = open
	detail.OSGuess = guess
	return store.UpdateScanDetail(detail)
}

// flexCount decodes a count element that is either bare text or wraps a
// <full> child, which is how newer engine versions report counts.
type flexCount struct {
	Value   int
	Present bool
}

func (c *flexCount) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Chardata string `xml:",chardata"`
		Full     string `xml:"full"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}

	s := strings.TrimSpace(raw.Full)
	if s == "" {
		s = firstInteger(raw.Chardata)
	}
	if s == "" {
		return nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid count in <%s>: %q", start.Name.Local, s)
	}
	c.Value = n
	c.Present = true
	return nil
}

// firstInteger returns the leading integer token of mixed element text
func firstInteger(s string) string {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

// reportResultCount tolerates both severity-class vocabularies the
// engine has used over time (hole/warning/info and high/medium/low).
type reportResultCount struct {
	Full     flexCount `xml:"full"`
	Critical flexCount `xml:"critical"`
	High     flexCount `xml:"high"`
	Hole     flexCount `xml:"hole"`
	Medium   flexCount `xml:"medium"`
	Warning  flexCount `xml:"warning"`
	Low      flexCount `xml:"low"`
	Info     flexCount `xml:"info"`
	Log      flexCount `xml:"log"`
}

// reportEnvelope walks the nested <report> wrappers the engine emits
// around the result counts. The root element name is not checked.
type reportEnvelope struct {
	XMLName     xml.Name
	ResultCount *reportResultCount `xml:"result_count"`
	Report      *reportEnvelope    `xml:"report"`
}

// ParseVulnReport extracts per-severity finding counts from an engine
// report. The body may be raw XML or a JSON-encoded XML string. Total
// comes from result_count/full when present, else from summing the
// severity counts.
func ParseVulnReport(body string) (types.VulnerabilityCount, error) {
	var counts types.VulnerabilityCount

	body = strings.TrimSpace(body)
	if body == "" {
		return counts, fmt.Errorf("empty report body")
	}
	if strings.HasPrefix(body, `"`) {
		var decoded string
		if err := json.Unmarshal([]byte(body), &decoded); err != nil {
			return counts, fmt.Errorf("failed to decode report wrapper: %w", err)
		}
		body = decoded
	}

	var envelope reportEnvelope
	if err := xml.Unmarshal([]byte(body), &envelope); err != nil {
		return counts, fmt.Errorf("failed to parse report: %w", err)
	}

	rc := envelope.ResultCount
	for node := envelope.Report; rc == nil && node != nil; node = node.Report {
		rc = node.ResultCount
	}
	if rc == nil {
		return counts, fmt.Errorf("report has no result_count")
	}

	counts.Critical = rc.Critical.Value
	counts.High = pickCount(rc.High, rc.Hole)
	counts.Medium = pickCount(rc.Medium, rc.Warning)
	counts.Low = pickCount(rc.Low, rc.Info)
	counts.Log = rc.Log.Value

	if rc.Full.Present {
		counts.Total = rc.Full.Value
	} else {
		counts.Total = counts.Critical + counts.High + counts.Medium + counts.Low + counts.Log
	}
	return counts, nil
}

// pickCount prefers the modern severity spelling over the legacy one
func pickCount(modern, legacy flexCount) int {
	if modern.Present {
		return modern.Value
	}
	return legacy.Value
}
