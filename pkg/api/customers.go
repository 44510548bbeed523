package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vapter/vapter/pkg/types"
)

func (s *Server) listCustomers(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := parseOrdering(r, "name", "email", "created_at")
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

	customers, err := s.store.ListCustomers()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	filtered := customers[:0]
	for _, c := range customers {
		if !matchSubstring(c.Name, q.Get("name")) {
			continue
		}
		if !matchSubstring(c.Email, q.Get("email")) {
			continue
		}
		if createdAfter != nil && c.CreatedAt.Before(*createdAfter) {
			continue
		}
		if createdBefore != nil && c.CreatedAt.After(*createdBefore) {
			continue
		}
		filtered = append(filtered, c)
	}

	if order != nil {
		sort.SliceStable(filtered, order.direction(func(i, j int) bool {
			switch order.Field {
			case "email":
				return filtered[i].Email < filtered[j].Email
			case "created_at":
				return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
			default:
				return filtered[i].Name < filtered[j].Name
			}
		}))
	}

	lo, hi := page.slice(len(filtered))
	views := make([]customerView, 0, hi-lo)
	for _, c := range filtered[lo:hi] {
		views = append(views, s.customerView(c))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Count:    len(filtered),
		Page:     page.Page,
		PageSize: page.Size,
		Results:  views,
	})
}

func (s *Server) createCustomer(w http.ResponseWriter, r *http.Request) {
	var customer types.Customer
	if err := decodeJSON(r, &customer); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if customer.ID == "" {
		customer.ID = uuid.New().String()
	}
	if err := s.store.CreateCustomer(&customer); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.customerView(&customer))
}

func (s *Server) getCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := s.store.GetCustomer(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.customerView(customer))
}

func (s *Server) updateCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := s.store.GetCustomer(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := decodeJSON(r, customer); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	customer.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateCustomer(customer); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.customerView(customer))
}

func (s *Server) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCustomer(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) listCustomerTargets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetCustomer(id); err != nil {
		writeStoreError(w, err)
		return
	}
	targets, err := s.store.ListTargetsByCustomer(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := make([]targetView, len(targets))
	for i, t := range targets {
		views[i] = s.targetView(t)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) listCustomerScans(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetCustomer(id); err != nil {
		writeStoreError(w, err)
		return
	}
	scans, err := s.customerScans(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanViews(scans))
}

// customerScans collects the scans of every target the customer owns
func (s *Server) customerScans(customerID string) ([]*types.Scan, error) {
	targets, err := s.store.ListTargetsByCustomer(customerID)
	if err != nil {
		return nil, err
	}
	var scans []*types.Scan
	for _, t := range targets {
		targetScans, err := s.store.ListScansByTarget(t.ID)
		if err != nil {
			return nil, err
		}
		scans = append(scans, targetScans...)
	}
	sort.SliceStable(scans, func(i, j int) bool {
		return scans[i].InitiatedAt.After(scans[j].InitiatedAt)
	})
	return scans, nil
}

// customerStatistics aggregates the customer's inventory and scan history
func (s *Server) customerStatistics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	customer, err := s.store.GetCustomer(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	targets, err := s.store.ListTargetsByCustomer(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	scans, err := s.customerScans(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	byStatus := map[types.ScanStatus]int{}
	var lastScanAt *time.Time
	for _, scan := range scans {
		byStatus[scan.Status]++
		if lastScanAt == nil || scan.InitiatedAt.After(*lastScanAt) {
			at := scan.InitiatedAt
			lastScanAt = &at
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id":   customer.ID,
		"customer_name": customer.Name,
		"targets_count": len(targets),
		"scans_count":   len(scans),
		"by_status":     byStatus,
		"last_scan_at":  lastScanAt,
	})
}
