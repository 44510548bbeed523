package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vapter/vapter/pkg/types"
)

func (s *Server) listPortLists(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := parseOrdering(r, "name", "created_at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	portLists, err := s.store.ListPortLists()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	name := r.URL.Query().Get("name")
	filtered := portLists[:0]
	for _, pl := range portLists {
		if !matchSubstring(pl.Name, name) {
			continue
		}
		filtered = append(filtered, pl)
	}

	if order != nil {
		sort.SliceStable(filtered, order.direction(func(i, j int) bool {
			if order.Field == "created_at" {
				return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
			}
			return filtered[i].Name < filtered[j].Name
		}))
	}

	lo, hi := page.slice(len(filtered))
	views := make([]portListView, 0, hi-lo)
	for _, pl := range filtered[lo:hi] {
		views = append(views, portListViewOf(pl))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Count:    len(filtered),
		Page:     page.Page,
		PageSize: page.Size,
		Results:  views,
	})
}

func (s *Server) createPortList(w http.ResponseWriter, r *http.Request) {
	var portList types.PortList
	if err := decodeJSON(r, &portList); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if portList.ID == "" {
		portList.ID = uuid.New().String()
	}
	if err := s.store.CreatePortList(&portList); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, portListViewOf(&portList))
}

func (s *Server) getPortList(w http.ResponseWriter, r *http.Request) {
	portList, err := s.store.GetPortList(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portListViewOf(portList))
}

func (s *Server) updatePortList(w http.ResponseWriter, r *http.Request) {
	portList, err := s.store.GetPortList(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := decodeJSON(r, portList); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	portList.ID = chi.URLParam(r, "id")
	if err := s.store.UpdatePortList(portList); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portListViewOf(portList))
}

func (s *Server) deletePortList(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePortList(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) listScanTypes(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := parseOrdering(r, "name", "created_at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scanTypes, err := s.store.ListScanTypes()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	name := r.URL.Query().Get("name")
	filtered := scanTypes[:0]
	for _, st := range scanTypes {
		if !matchSubstring(st.Name, name) {
			continue
		}
		filtered = append(filtered, st)
	}

	if order != nil {
		sort.SliceStable(filtered, order.direction(func(i, j int) bool {
			if order.Field == "created_at" {
				return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
			}
			return filtered[i].Name < filtered[j].Name
		}))
	}

	lo, hi := page.slice(len(filtered))
	views := make([]scanTypeView, 0, hi-lo)
	for _, st := range filtered[lo:hi] {
		views = append(views, s.scanTypeView(st))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Count:    len(filtered),
		Page:     page.Page,
		PageSize: page.Size,
		Results:  views,
	})
}

func (s *Server) createScanType(w http.ResponseWriter, r *http.Request) {
	var scanType types.ScanType
	if err := decodeJSON(r, &scanType); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if scanType.ID == "" {
		scanType.ID = uuid.New().String()
	}
	if err := s.store.CreateScanType(&scanType); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.scanTypeView(&scanType))
}

func (s *Server) getScanType(w http.ResponseWriter, r *http.Request) {
	scanType, err := s.store.GetScanType(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanTypeView(scanType))
}

func (s *Server) updateScanType(w http.ResponseWriter, r *http.Request) {
	scanType, err := s.store.GetScanType(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := decodeJSON(r, scanType); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scanType.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateScanType(scanType); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanTypeView(scanType))
}

func (s *Server) deleteScanType(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScanType(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
