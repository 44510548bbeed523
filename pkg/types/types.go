package types

import (
	"time"
)

// Customer represents an organisation that owns scan targets
type Customer struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	CompanyName   string     `json:"company_name,omitempty"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone,omitempty"`
	ContactPerson string     `json:"contact_person,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Target represents a host to be scanned, identified by IP or FQDN
type Target struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// PortList represents a named set of TCP/UDP port specifications.
// Each ports field is a comma-separated list of single ports or
// dashed ranges, e.g. "22,80,443,8000-8100".
type PortList struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	TCPPorts    string     `json:"tcp_ports,omitempty"`
	UDPPorts    string     `json:"udp_ports,omitempty"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// ScanType represents a scan recipe: which stages run and how loud
type ScanType struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	OnlyDiscovery     bool       `json:"only_discovery"`
	ConsiderAlive     bool       `json:"consider_alive"`
	BeQuiet           bool       `json:"be_quiet"`
	PortListID        string     `json:"port_list_id,omitempty"`
	PluginFingerprint bool       `json:"plugin_fingerprint"`
	PluginVulnEngine  bool       `json:"plugin_vuln_engine"`
	PluginWeb         bool       `json:"plugin_web"`
	PluginVulnLookup  bool       `json:"plugin_vuln_lookup"`
	ReportEnabled     bool       `json:"report_enabled"`
	Description       string     `json:"description,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// EnabledPlugins returns the recipe's post-discovery stages in canonical order
func (st *ScanType) EnabledPlugins() []Module {
	var plugins []Module
	for _, m := range PluginOrder {
		if st.PluginEnabled(m) {
			plugins = append(plugins, m)
		}
	}
	return plugins
}

// PluginEnabled reports whether the recipe enables the given stage
func (st *ScanType) PluginEnabled(m Module) bool {
	switch m {
	case ModuleFingerprint:
		return st.PluginFingerprint
	case ModuleVulnEngine:
		return st.PluginVulnEngine
	case ModuleWeb:
		return st.PluginWeb
	case ModuleVulnLookup:
		return st.PluginVulnLookup
	default:
		return false
	}
}

// Scan represents one pipeline run of a target under a scan type
type Scan struct {
	ID          string     `json:"id"`
	TargetID    string     `json:"target_id"`
	ScanTypeID  string     `json:"scan_type_id"`
	Status      ScanStatus `json:"status"`
	InitiatedAt time.Time  `json:"initiated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Per-stage structured artifacts. Always a JSON object or null.
	ParsedNmapResults       map[string]interface{} `json:"parsed_nmap_results"`
	ParsedFingerResults     map[string]interface{} `json:"parsed_finger_results"`
	ParsedGceResults        map[string]interface{} `json:"parsed_gce_results"`
	ParsedWebResults        map[string]interface{} `json:"parsed_web_results"`
	ParsedVulnLookupResults map[string]interface{} `json:"parsed_vuln_lookup_results"`
	FingerprintSummary      map[string]interface{} `json:"fingerprint_summary,omitempty"`

	ErrorMessage string     `json:"error_message,omitempty"`
	ReportPath   string     `json:"report_path,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// ParsedResults returns the stage artifact for the given plugin
func (s *Scan) ParsedResults(m Module) map[string]interface{} {
	switch m {
	case ModuleNmap:
		return s.ParsedNmapResults
	case ModuleFingerprint:
		return s.ParsedFingerResults
	case ModuleVulnEngine:
		return s.ParsedGceResults
	case ModuleWeb:
		return s.ParsedWebResults
	case ModuleVulnLookup:
		return s.ParsedVulnLookupResults
	default:
		return nil
	}
}

// SetParsedResults stores the stage artifact for the given plugin
func (s *Scan) SetParsedResults(m Module, results map[string]interface{}) {
	switch m {
	case ModuleNmap:
		s.ParsedNmapResults = results
	case ModuleFingerprint:
		s.ParsedFingerResults = results
	case ModuleVulnEngine:
		s.ParsedGceResults = results
	case ModuleWeb:
		s.ParsedWebResults = results
	case ModuleVulnLookup:
		s.ParsedVulnLookupResults = results
	}
}

// ScanStatus represents the state-machine position of a scan
type ScanStatus string

const (
	StatusPending             ScanStatus = "Pending"
	StatusQueued              ScanStatus = "Queued"
	StatusNmapRunning         ScanStatus = "Nmap Scan Running"
	StatusNmapCompleted       ScanStatus = "Nmap Scan Completed"
	StatusFingerRunning       ScanStatus = "Finger Scan Running"
	StatusFingerCompleted     ScanStatus = "Finger Scan Completed"
	StatusVulnEngineRunning   ScanStatus = "VulnEngine Running"
	StatusVulnEngineCompleted ScanStatus = "VulnEngine Completed"
	StatusWebRunning          ScanStatus = "Web Scan Running"
	StatusWebCompleted        ScanStatus = "Web Scan Completed"
	StatusVulnLookupRunning   ScanStatus = "Vuln Lookup Running"
	StatusVulnLookupCompleted ScanStatus = "Vuln Lookup Completed"
	StatusReportRunning       ScanStatus = "Report Generation Running"
	StatusCompleted           ScanStatus = "Completed"
	StatusFailed              ScanStatus = "Failed"
)

// IsTerminal reports whether the status is absorbing
func (s ScanStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether the status is a known state-machine state
func (s ScanStatus) Valid() bool {
	switch s {
	case StatusPending, StatusQueued,
		StatusNmapRunning, StatusNmapCompleted,
		StatusFingerRunning, StatusFingerCompleted,
		StatusVulnEngineRunning, StatusVulnEngineCompleted,
		StatusWebRunning, StatusWebCompleted,
		StatusVulnLookupRunning, StatusVulnLookupCompleted,
		StatusReportRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// RunningStatuses lists every non-terminal status that indicates an
// in-flight scan. Used by listings and the one-scan-per-target guard.
var RunningStatuses = []ScanStatus{
	StatusPending, StatusQueued,
	StatusNmapRunning, StatusNmapCompleted,
	StatusFingerRunning, StatusFingerCompleted,
	StatusVulnEngineRunning, StatusVulnEngineCompleted,
	StatusWebRunning, StatusWebCompleted,
	StatusVulnLookupRunning, StatusVulnLookupCompleted,
	StatusReportRunning,
}

// Module identifies a pipeline stage
type Module string

const (
	ModuleNmap        Module = "nmap"
	ModuleFingerprint Module = "fingerprint"
	ModuleVulnEngine  Module = "vuln_engine"
	ModuleWeb         Module = "web"
	ModuleVulnLookup  Module = "vuln_lookup"
	ModuleReport      Module = "report"
)

// Valid reports whether the module is a known pipeline stage
func (m Module) Valid() bool {
	switch m {
	case ModuleNmap, ModuleFingerprint, ModuleVulnEngine, ModuleWeb, ModuleVulnLookup, ModuleReport:
		return true
	}
	return false
}

// PluginOrder is the canonical post-discovery stage order
var PluginOrder = []Module{ModuleFingerprint, ModuleVulnEngine, ModuleWeb, ModuleVulnLookup}

// Protocol identifies the transport protocol of a scanned port
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Valid reports whether the protocol is supported
func (p Protocol) Valid() bool {
	return p == ProtocolTCP || p == ProtocolUDP
}

// ScanDetail holds the extracted port/OS view of a scan plus per-stage timing
type ScanDetail struct {
	ID       string `json:"id"`
	ScanID   string `json:"scan_id"`
	TargetID string `json:"target_id"`

	OpenPorts *OpenPorts `json:"open_ports,omitempty"`
	OSGuess   *OSGuess   `json:"os_guess,omitempty"`

	NmapStartedAt         *time.Time `json:"nmap_started_at,omitempty"`
	NmapCompletedAt       *time.Time `json:"nmap_completed_at,omitempty"`
	FingerStartedAt       *time.Time `json:"finger_started_at,omitempty"`
	FingerCompletedAt     *time.Time `json:"finger_completed_at,omitempty"`
	GceStartedAt          *time.Time `json:"gce_started_at,omitempty"`
	GceCompletedAt        *time.Time `json:"gce_completed_at,omitempty"`
	WebStartedAt          *time.Time `json:"web_started_at,omitempty"`
	WebCompletedAt        *time.Time `json:"web_completed_at,omitempty"`
	VulnLookupStartedAt   *time.Time `json:"vuln_lookup_started_at,omitempty"`
	VulnLookupCompletedAt *time.Time `json:"vuln_lookup_completed_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// OpenPorts is the per-protocol open-port view derived from port-scan results
type OpenPorts struct {
	TCP []PortEntry `json:"tcp"`
	UDP []PortEntry `json:"udp"`
}

// PortEntry describes one open port and the service detected on it
type PortEntry struct {
	Port      int    `json:"port"`
	State     string `json:"state"`
	Service   string `json:"service,omitempty"`
	Product   string `json:"product,omitempty"`
	Version   string `json:"version,omitempty"`
	ExtraInfo string `json:"extrainfo,omitempty"`
}

// OSGuess describes the most likely operating system of the target
type OSGuess struct {
	Name     string `json:"name"`
	Accuracy int    `json:"accuracy"`
	Vendor   string `json:"vendor,omitempty"`
	Type     string `json:"type,omitempty"`
	OSFamily string `json:"osfamily,omitempty"`
	OSGen    string `json:"osgen,omitempty"`
}

// FingerprintDetail represents one fingerprinted service on one port
type FingerprintDetail struct {
	ID                string                 `json:"id"`
	ScanID            string                 `json:"scan_id"`
	TargetID          string                 `json:"target_id"`
	Port              int                    `json:"port"`
	Protocol          Protocol               `json:"protocol"`
	ServiceName       string                 `json:"service_name,omitempty"`
	ServiceProduct    string                 `json:"service_product,omitempty"`
	ServiceVersion    string                 `json:"service_version,omitempty"`
	ServiceInfo       string                 `json:"service_info,omitempty"`
	FingerprintMethod string                 `json:"fingerprint_method"`
	ConfidenceScore   int                    `json:"confidence_score"`
	RawResponse       string                 `json:"raw_response,omitempty"`
	AdditionalInfo    map[string]interface{} `json:"additional_info,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	DeletedAt         *time.Time             `json:"deleted_at,omitempty"`
}

// ReportFormat identifies the encoding of an engine report
type ReportFormat string

const (
	ReportFormatXML  ReportFormat = "XML"
	ReportFormatJSON ReportFormat = "JSON"
)

// VulnEngineResult represents the external engine's output for one scan
type VulnEngineResult struct {
	ID               string       `json:"id"`
	ScanID           string       `json:"scan_id"`
	TargetID         string       `json:"target_id"`
	ExternalTaskID   string       `json:"external_task_id,omitempty"`
	ExternalReportID string       `json:"external_report_id,omitempty"`
	ExternalTargetID string       `json:"external_target_id,omitempty"`
	ExternalStatus   string       `json:"external_status,omitempty"`
	Progress         int          `json:"progress"`
	ReportFormat     ReportFormat `json:"report_format"`
	FullReport       string       `json:"full_report,omitempty"`

	VulnerabilityCount VulnerabilityCount `json:"vulnerability_count"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// VulnerabilityCount aggregates report findings by severity
type VulnerabilityCount struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Log      int `json:"log"`
	Total    int `json:"total"`
}
