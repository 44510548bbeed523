package api

import (
	"time"

	"github.com/vapter/vapter/pkg/types"
)

// Views wrap the stored entities with the computed fields the UI and
// the workers expect. Lookups are best effort; a missing parent simply
// leaves its computed field empty.

type customerView struct {
	*types.Customer
	TargetsCount int `json:"targets_count"`
	ScansCount   int `json:"scans_count"`
}

func (s *Server) customerView(c *types.Customer) customerView {
	view := customerView{Customer: c}

	targets, err := s.store.ListTargetsByCustomer(c.ID)
	if err != nil {
		return view
	}
	view.TargetsCount = len(targets)
	for _, t := range targets {
		if scans, err := s.store.ListScansByTarget(t.ID); err == nil {
			view.ScansCount += len(scans)
		}
	}
	return view
}

// lastScanSummary is the compact trailer embedded in target views
type lastScanSummary struct {
	ID          string           `json:"id"`
	Status      types.ScanStatus `json:"status"`
	InitiatedAt time.Time        `json:"initiated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

type targetView struct {
	*types.Target
	CustomerName string           `json:"customer_name,omitempty"`
	ScansCount   int              `json:"scans_count"`
	LastScan     *lastScanSummary `json:"last_scan,omitempty"`
	OpenPorts    *types.OpenPorts `json:"open_ports,omitempty"`
	OSGuess      *types.OSGuess   `json:"os_guess,omitempty"`
}

func (s *Server) targetView(t *types.Target) targetView {
	view := targetView{Target: t}

	if customer, err := s.store.GetCustomer(t.CustomerID); err == nil {
		view.CustomerName = customer.Name
	}

	scans, err := s.store.ListScansByTarget(t.ID)
	if err != nil {
		return view
	}
	view.ScansCount = len(scans)

	var last, lastDone *types.Scan
	for _, scan := range scans {
		if last == nil || scan.InitiatedAt.After(last.InitiatedAt) {
			last = scan
		}
		if scan.Status == types.StatusCompleted &&
			(lastDone == nil || scan.InitiatedAt.After(lastDone.InitiatedAt)) {
			lastDone = scan
		}
	}
	if last != nil {
		view.LastScan = &lastScanSummary{
			ID:          last.ID,
			Status:      last.Status,
			InitiatedAt: last.InitiatedAt,
			CompletedAt: last.CompletedAt,
		}
	}
	if lastDone != nil {
		if detail, err := s.store.GetScanDetailByScan(lastDone.ID); err == nil {
			view.OpenPorts = detail.OpenPorts
			view.OSGuess = detail.OSGuess
		}
	}
	return view
}

type scanView struct {
	*types.Scan
	TargetName      string            `json:"target_name,omitempty"`
	TargetAddress   string            `json:"target_address,omitempty"`
	CustomerName    string            `json:"customer_name,omitempty"`
	ScanTypeName    string            `json:"scan_type_name,omitempty"`
	DurationSeconds *float64          `json:"duration_seconds,omitempty"`
	Detail          *types.ScanDetail `json:"detail,omitempty"`
}

func (s *Server) scanView(scan *types.Scan) scanView {
	view := scanView{Scan: scan}

	if target, err := s.store.GetTarget(scan.TargetID); err == nil {
		view.TargetName = target.Name
		view.TargetAddress = target.Address
		if customer, err := s.store.GetCustomer(target.CustomerID); err == nil {
			view.CustomerName = customer.Name
		}
	}
	if scanType, err := s.store.GetScanType(scan.ScanTypeID); err == nil {
		view.ScanTypeName = scanType.Name
	}
	if scan.StartedAt != nil && scan.CompletedAt != nil {
		d := scan.CompletedAt.Sub(*scan.StartedAt).Seconds()
		view.DurationSeconds = &d
	}
	if detail, err := s.store.GetScanDetailByScan(scan.ID); err == nil {
		view.Detail = detail
	}
	return view
}

func (s *Server) scanViews(scans []*types.Scan) []scanView {
	views := make([]scanView, len(scans))
	for i, scan := range scans {
		views[i] = s.scanView(scan)
	}
	return views
}

type scanTypeView struct {
	*types.ScanType
	PortListName   string         `json:"port_list_name,omitempty"`
	EnabledPlugins []types.Module `json:"enabled_plugins"`
}

func (s *Server) scanTypeView(st *types.ScanType) scanTypeView {
	view := scanTypeView{
		ScanType:       st,
		EnabledPlugins: st.EnabledPlugins(),
	}
	if view.EnabledPlugins == nil {
		view.EnabledPlugins = []types.Module{}
	}
	if st.PortListID != "" {
		if pl, err := s.store.GetPortList(st.PortListID); err == nil {
			view.PortListName = pl.Name
		}
	}
	return view
}

type portListView struct {
	*types.PortList
	TotalTCPPorts int `json:"total_tcp_ports"`
	TotalUDPPorts int `json:"total_udp_ports"`
}

func portListViewOf(pl *types.PortList) portListView {
	return portListView{
		PortList:      pl,
		TotalTCPPorts: types.CountPorts(pl.TCPPorts),
		TotalUDPPorts: types.CountPorts(pl.UDPPorts),
	}
}
