package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/metrics"
	"github.com/vapter/vapter/pkg/orchestrator"
	"github.com/vapter/vapter/pkg/storage"
)

// Server is the REST control surface. It exposes the inventory
// collections, the scan lifecycle operations and the worker upload
// endpoints on one chi router.
type Server struct {
	orch  *orchestrator.Orchestrator
	store storage.Store
	http  *http.Server
}

// NewServer creates an API server bound to the orchestrator
func NewServer(orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		orch:  orch,
		store: orch.Store(),
	}
	s.http = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the full route tree
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleInfo)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LiveHandler())

	r.Route("/api/orchestrator", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", s.listCustomers)
			r.Post("/", s.createCustomer)
			r.Get("/{id}", s.getCustomer)
			r.Patch("/{id}", s.updateCustomer)
			r.Delete("/{id}", s.deleteCustomer)
			r.Get("/{id}/targets", s.listCustomerTargets)
			r.Get("/{id}/scans", s.listCustomerScans)
			r.Get("/{id}/statistics", s.customerStatistics)
		})

		r.Route("/port-lists", func(r chi.Router) {
			r.Get("/", s.listPortLists)
			r.Post("/", s.createPortList)
			r.Get("/{id}", s.getPortList)
			r.Patch("/{id}", s.updatePortList)
			r.Delete("/{id}", s.deletePortList)
		})

		r.Route("/scan-types", func(r chi.Router) {
			r.Get("/", s.listScanTypes)
			r.Post("/", s.createScanType)
			r.Get("/{id}", s.getScanType)
			r.Patch("/{id}", s.updateScanType)
			r.Delete("/{id}", s.deleteScanType)
		})

		r.Route("/targets", func(r chi.Router) {
			r.Get("/", s.listTargets)
			r.Post("/", s.createTarget)
			r.Get("/{id}", s.getTarget)
			r.Patch("/{id}", s.updateTarget)
			r.Delete("/{id}", s.deleteTarget)
			r.Get("/{id}/scans", s.listTargetScans)
			r.Post("/{id}/scan", s.startTargetScan)
		})

		r.Route("/scans", func(r chi.Router) {
			r.Get("/", s.listScans)
			r.Post("/", s.createScan)
			r.Get("/statistics", s.scanStatistics)
			r.Get("/{id}", s.getScan)
			r.Patch("/{id}", s.updateScan)
			r.Delete("/{id}", s.deleteScan)
			r.Post("/{id}/restart", s.restartScan)
			r.Post("/{id}/cancel", s.cancelScan)
			r.Patch("/{id}/vuln-engine-progress", s.updateVulnEngineProgress)
			r.Post("/{id}/vuln-engine-results", s.uploadVulnEngineResults)
		})

		r.Route("/scan-details", func(r chi.Router) {
			r.Get("/", s.listScanDetails)
			r.Get("/by_scan", s.getScanDetailByScan)
			r.Get("/{id}", s.getScanDetail)
		})

		r.Route("/fingerprint-details", func(r chi.Router) {
			r.Get("/", s.listFingerprintDetails)
			r.Post("/bulk_create", s.bulkCreateFingerprintDetails)
			r.Get("/by_scan", s.listFingerprintDetailsByScan)
			r.Get("/by_target", s.listFingerprintDetailsByTarget)
			r.Get("/service_summary", s.fingerprintServiceSummary)
			r.Get("/{id}", s.getFingerprintDetail)
		})

		r.Route("/vuln-engine-results", func(r chi.Router) {
			r.Get("/", s.listVulnEngineResults)
			r.Get("/by_scan", s.getVulnEngineResultByScan)
			r.Get("/{id}", s.getVulnEngineResult)
		})
	})

	return r
}

// Start begins serving on addr. Blocks until the listener closes.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	metrics.SetComponent("api", true, "")
	log.Logger.Info().
		Str("component", "api").
		Str("addr", addr).
		Msg("REST API listening")

	if err := s.http.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and closes the listener
func (s *Server) Stop(ctx context.Context) error {
	metrics.SetComponent("api", false, "shutting down")
	return s.http.Shutdown(ctx)
}

// handleInfo lists the mounted surfaces for humans poking the root URL
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "vapter",
		"mounts": []string{
			"/api/orchestrator/customers/",
			"/api/orchestrator/port-lists/",
			"/api/orchestrator/scan-types/",
			"/api/orchestrator/targets/",
			"/api/orchestrator/scans/",
			"/api/orchestrator/scan-details/",
			"/api/orchestrator/fingerprint-details/",
			"/api/orchestrator/vuln-engine-results/",
			"/metrics",
			"/health",
		},
	})
}
