package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vapter/vapter/pkg/types"
)

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := parseOrdering(r, "name", "address", "created_at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	createdAfter, err := parseTimeFilter(r, "created_after")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	createdBefore, err := parseTimeFilter(r, "created_before")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	targets, err := s.store.ListTargets()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	filtered := targets[:0]
	for _, t := range targets {
		if cid := q.Get("customer_id"); cid != "" && t.CustomerID != cid {
			continue
		}
		if !matchSubstring(t.Name, q.Get("name")) {
			continue
		}
		if !matchSubstring(t.Address, q.Get("address")) {
			continue
		}
		if createdAfter != nil && t.CreatedAt.Before(*createdAfter) {
			continue
		}
		if createdBefore != nil && t.CreatedAt.After(*createdBefore) {
			continue
		}
		filtered = append(filtered, t)
	}

	if order != nil {
		sort.SliceStable(filtered, order.direction(func(i, j int) bool {
			switch order.Field {
			case "address":
				return filtered[i].Address < filtered[j].Address
			case "created_at":
				return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
			default:
				return filtered[i].Name < filtered[j].Name
			}
		}))
	}

	lo, hi := page.slice(len(filtered))
	views := make([]targetView, 0, hi-lo)
	for _, t := range filtered[lo:hi] {
		views = append(views, s.targetView(t))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Count:    len(filtered),
		Page:     page.Page,
		PageSize: page.Size,
		Results:  views,
	})
}

func (s *Server) createTarget(w http.ResponseWriter, r *http.Request) {
	var target types.Target
	if err := decodeJSON(r, &target); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if target.ID == "" {
		target.ID = uuid.New().String()
	}
	if err := s.store.CreateTarget(&target); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.targetView(&target))
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	target, err := s.store.GetTarget(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.targetView(target))
}

func (s *Server) updateTarget(w http.ResponseWriter, r *http.Request) {
	target, err := s.store.GetTarget(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := decodeJSON(r, target); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateTarget(target); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.targetView(target))
}

func (s *Server) deleteTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTarget(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) listTargetScans(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetTarget(id); err != nil {
		writeStoreError(w, err)
		return
	}
	scans, err := s.store.ListScansByTarget(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	sort.SliceStable(scans, func(i, j int) bool {
		return scans[i].InitiatedAt.After(scans[j].InitiatedAt)
	})
	writeJSON(w, http.StatusOK, s.scanViews(scans))
}

// startTargetScan creates and queues a scan for the target. The scan
// type must exist and the target must not already have a live scan.
func (s *Server) startTargetScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetTarget(id); err != nil {
		writeStoreError(w, err)
		return
	}

	var req struct {
		ScanTypeID string `json:"scan_type_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ScanTypeID == "" {
		writeError(w, http.StatusBadRequest, "scan_type_id is required")
		return
	}
	if _, err := s.store.GetScanType(req.ScanTypeID); err != nil {
		writeStoreError(w, err)
		return
	}

	scan, err := s.orch.CreateScan(r.Context(), id, req.ScanTypeID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.scanView(scan))
}
