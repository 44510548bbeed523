package types

import (
	"fmt"
	"net"
	"net/mail"
	"strconv"
	"strings"
)

// ValidateAddress checks that an address is a syntactically valid IPv4/IPv6
// address or FQDN. FQDN rules: at least two labels, total length <= 253,
// each label 1-63 chars, alphanumeric with inner hyphens only.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if net.ParseIP(address) != nil {
		return nil
	}
	if len(address) > 253 {
		return fmt.Errorf("address %q exceeds 253 characters", address)
	}
	if strings.HasSuffix(address, ".") {
		return fmt.Errorf("address %q has a trailing dot", address)
	}
	labels := strings.Split(address, ".")
	if len(labels) < 2 {
		return fmt.Errorf("address %q is neither an IP nor a fully qualified domain name", address)
	}
	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return fmt.Errorf("address %q: %w", address, err)
		}
	}
	return nil
}

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty label")
	}
	if len(label) > 63 {
		return fmt.Errorf("label %q exceeds 63 characters", label)
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return fmt.Errorf("label %q has a leading or trailing hyphen", label)
	}
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return fmt.Errorf("label %q contains invalid character %q", label, c)
		}
	}
	return nil
}

// ParsePortSpec expands a comma-separated port specification into the
// individual port numbers it covers. Accepts single ports and dashed
// ranges; rejects values outside 1-65535 and inverted ranges.
func ParsePortSpec(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	var ports []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("port spec %q contains an empty entry", spec)
		}
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			start, err := parsePort(bounds[0])
			if err != nil {
				return nil, fmt.Errorf("port range %q: %w", part, err)
			}
			end, err := parsePort(bounds[1])
			if err != nil {
				return nil, fmt.Errorf("port range %q: %w", part, err)
			}
			if start > end {
				return nil, fmt.Errorf("port range %q is inverted", part)
			}
			for p := start; p <= end; p++ {
				ports = append(ports, p)
			}
			continue
		}
		p, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("port %q is not a number", s)
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", p)
	}
	return p, nil
}

// CountPorts returns how many individual ports a specification covers
func CountPorts(spec string) int {
	ports, err := ParsePortSpec(spec)
	if err != nil {
		return 0
	}
	return len(ports)
}

// Validate checks customer identity fields
func (c *Customer) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("customer name is required")
	}
	if c.Email == "" {
		return fmt.Errorf("customer email is required")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("customer email %q is invalid", c.Email)
	}
	return nil
}

// Validate checks target identity and address syntax
func (t *Target) Validate() error {
	if t.CustomerID == "" {
		return fmt.Errorf("target customer_id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("target name is required")
	}
	return ValidateAddress(t.Address)
}

// Validate checks the port list name and both port specifications
func (pl *PortList) Validate() error {
	if strings.TrimSpace(pl.Name) == "" {
		return fmt.Errorf("port list name is required")
	}
	if strings.TrimSpace(pl.TCPPorts) == "" && strings.TrimSpace(pl.UDPPorts) == "" {
		return fmt.Errorf("port list %q must define tcp_ports or udp_ports", pl.Name)
	}
	if _, err := ParsePortSpec(pl.TCPPorts); err != nil {
		return fmt.Errorf("tcp_ports: %w", err)
	}
	if _, err := ParsePortSpec(pl.UDPPorts); err != nil {
		return fmt.Errorf("udp_ports: %w", err)
	}
	return nil
}

// Validate checks recipe flag consistency
func (st *ScanType) Validate() error {
	if strings.TrimSpace(st.Name) == "" {
		return fmt.Errorf("scan type name is required")
	}
	if st.OnlyDiscovery {
		if st.PluginFingerprint || st.PluginVulnEngine || st.PluginWeb || st.PluginVulnLookup {
			return fmt.Errorf("scan type %q is discovery-only and cannot enable plugins", st.Name)
		}
		if st.PortListID != "" {
			return fmt.Errorf("scan type %q is discovery-only and cannot use a port list", st.Name)
		}
	}
	return nil
}

// Validate checks port, protocol and confidence bounds
func (fd *FingerprintDetail) Validate() error {
	if fd.ScanID == "" {
		return fmt.Errorf("fingerprint detail scan_id is required")
	}
	if fd.TargetID == "" {
		return fmt.Errorf("fingerprint detail target_id is required")
	}
	if fd.Port < 1 || fd.Port > 65535 {
		return fmt.Errorf("fingerprint detail port %d out of range 1-65535", fd.Port)
	}
	if !fd.Protocol.Valid() {
		return fmt.Errorf("fingerprint detail protocol %q is invalid", fd.Protocol)
	}
	if fd.ConfidenceScore < 0 || fd.ConfidenceScore > 100 {
		return fmt.Errorf("fingerprint detail confidence %d out of range 0-100", fd.ConfidenceScore)
	}
	if fd.FingerprintMethod == "" {
		return fmt.Errorf("fingerprint detail method is required")
	}
	return nil
}
