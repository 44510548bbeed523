package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vapter/vapter/pkg/types"
)

func (s *Server) listScanDetails(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	details, err := s.store.ListScanDetails()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	filtered := details[:0]
	for _, d := range details {
		if sid := q.Get("scan_id"); sid != "" && d.ScanID != sid {
			continue
		}
		if tid := q.Get("target_id"); tid != "" && d.TargetID != tid {
			continue
		}
		filtered = append(filtered, d)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	lo, hi := page.slice(len(filtered))
	writeJSON(w, http.StatusOK, listResponse{
		Count:    len(filtered),
		Page:     page.Page,
		PageSize: page.Size,
		Results:  filtered[lo:hi],
	})
}

func (s *Server) getScanDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.store.GetScanDetail(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) getScanDetailByScan(w http.ResponseWriter, r *http.Request) {
	scanID := r.URL.Query().Get("scan_id")
	if scanID == "" {
		writeError(w, http.StatusBadRequest, "scan_id is required")
		return
	}
	detail, err := s.store.GetScanDetailByScan(scanID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) listFingerprintDetails(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := parseOrdering(r, "port", "confidence_score", "created_at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	details, err := s.store.ListFingerprintDetails()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	var port int
	if raw := q.Get("port"); raw != "" {
		port, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid port filter")
			return
		}
	}

	filtered := details[:0]
	for _, d := range details {
		if sid := q.Get("scan_id"); sid != "" && d.ScanID != sid {
			continue
		}
		if tid := q.Get("target_id"); tid != "" && d.TargetID != tid {
			continue
		}
		if !matchSubstring(d.ServiceName, q.Get("service_name")) {
			continue
		}
		if proto := q.Get("protocol"); proto != "" && d.Protocol != types.Protocol(proto) {
			continue
		}
		if port != 0 && d.Port != port {
			continue
		}
		filtered = append(filtered, d)
	}

	if order != nil {
		sort.SliceStable(filtered, order.direction(func(i, j int) bool {
			switch order.Field {
			case "port":
				return filtered[i].Port < filtered[j].Port
			case "confidence_score":
				return filtered[i].ConfidenceScore < filtered[j].ConfidenceScore
			default:
				return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
			}
		}))
	} else {
		sort.SliceStable(filtered, func(i, j int) bool {
			if filtered[i].ScanID != filtered[j].ScanID {
				return filtered[i].ScanID < filtered[j].ScanID
			}
			return filtered[i].Port < filtered[j].Port
		})
	}

	lo, hi := page.slice(len(filtered))
	writeJSON(w, http.StatusOK, listResponse{
		Count:    len(filtered),
		Page:     page.Page,
		PageSize: page.Size,
		Results:  filtered[lo:hi],
	})
}

func (s *Server) getFingerprintDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.store.GetFingerprintDetail(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// bulkCreateFingerprintDetails ingests a fingerprint worker's batch in
// one call. The whole batch lands or none of it does.
func (s *Server) bulkCreateFingerprintDetails(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FingerprintDetails []*types.FingerprintDetail `json:"fingerprint_details"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.FingerprintDetails) == 0 {
		writeError(w, http.StatusBadRequest, "fingerprint_details must not be empty")
		return
	}

	for _, d := range req.FingerprintDetails {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
	}
	if err := s.store.CreateFingerprintDetails(req.FingerprintDetails); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"created":             len(req.FingerprintDetails),
		"fingerprint_details": req.FingerprintDetails,
	})
}

func (s *Server) listFingerprintDetailsByScan(w http.ResponseWriter, r *http.Request) {
	scanID := r.URL.Query().Get("scan_id")
	if scanID == "" {
		writeError(w, http.StatusBadRequest, "scan_id is required")
		return
	}
	details, err := s.store.ListFingerprintDetailsByScan(scanID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	sort.SliceStable(details, func(i, j int) bool { return details[i].Port < details[j].Port })
	writeJSON(w, http.StatusOK, listResponse{
		Count:    len(details),
		Page:     1,
		PageSize: len(details),
		Results:  details,
	})
}

func (s *Server) listFingerprintDetailsByTarget(w http.ResponseWriter, r *http.Request) {
	targetID := r.URL.Query().Get("target_id")
	if targetID == "" {
		writeError(w, http.StatusBadRequest, "target_id is required")
		return
	}
	details, err := s.store.ListFingerprintDetailsByTarget(targetID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	sort.SliceStable(details, func(i, j int) bool { return details[i].Port < details[j].Port })
	writeJSON(w, http.StatusOK, listResponse{
		Count:    len(details),
		Page:     1,
		PageSize: len(details),
		Results:  details,
	})
}

// fingerprintServiceSummary aggregates fingerprints by service name for
// a scan or target
func (s *Server) fingerprintServiceSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scanID, targetID := q.Get("scan_id"), q.Get("target_id")

	var details []*types.FingerprintDetail
	var err error
	switch {
	case scanID != "":
		details, err = s.store.ListFingerprintDetailsByScan(scanID)
	case targetID != "":
		details, err = s.store.ListFingerprintDetailsByTarget(targetID)
	default:
		writeError(w, http.StatusBadRequest, "scan_id or target_id is required")
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	type serviceEntry struct {
		Count int   `json:"count"`
		Ports []int `json:"ports"`
	}
	services := map[string]*serviceEntry{}
	for _, d := range details {
		name := d.ServiceName
		if name == "" {
			name = "unknown"
		}
		entry, ok := services[name]
		if !ok {
			entry = &serviceEntry{}
			services[name] = entry
		}
		entry.Count++
		entry.Ports = append(entry.Ports, d.Port)
	}
	for _, entry := range services {
		sort.Ints(entry.Ports)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":    len(details),
		"services": services,
	})
}

func (s *Server) listVulnEngineResults(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.store.ListVulnEngineResults()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	filtered := results[:0]
	for _, res := range results {
		if sid := q.Get("scan_id"); sid != "" && res.ScanID != sid {
			continue
		}
		if tid := q.Get("target_id"); tid != "" && res.TargetID != tid {
			continue
		}
		filtered = append(filtered, res)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	lo, hi := page.slice(len(filtered))
	writeJSON(w, http.StatusOK, listResponse{
		Count:    len(filtered),
		Page:     page.Page,
		PageSize: page.Size,
		Results:  filtered[lo:hi],
	})
}

func (s *Server) getVulnEngineResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.GetVulnEngineResult(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getVulnEngineResultByScan(w http.ResponseWriter, r *http.Request) {
	scanID := r.URL.Query().Get("scan_id")
	if scanID == "" {
		writeError(w, http.StatusBadRequest, "scan_id is required")
		return
	}
	result, err := s.store.GetVulnEngineResultByScan(scanID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
