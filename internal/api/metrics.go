package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sumanism/ECA2/internal/analytics"
	"github.com/sumanism/ECA2/internal/store"
)

func (s *Server) metricsRoutes(r chi.Router) {
	r.Get("/dashboard", s.handleDashboard)
	r.Get("/customers/{userID}/metrics", s.handleCustomerMetrics)
	r.Get("/products/{productID}/metrics", s.handleProductMetrics)
	r.Get("/top-products", s.handleTopProducts)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.analytics.Dashboard(r.Context())
	if err != nil {
		s.storeError(w, r, err, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Missing customers and products answer {"error": "..."}; the dashboard
// reads that field rather than the status.
func (s *Server) handleCustomerMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.analytics.Customer(r.Context(), chi.URLParam(r, "userID"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if err != nil {
		s.storeError(w, r, err, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleProductMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.analytics.Product(r.Context(), chi.URLParam(r, "productID"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Product not found"})
		return
	}
	if err != nil {
		s.storeError(w, r, err, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", analytics.DefaultTopProducts)
	if err != nil {
		BadRequestError(w, r, ErrCodeBadRequest, err.Error())
		return
	}
	rows, err := s.analytics.TopProducts(r.Context(), limit)
	if err != nil {
		s.storeError(w, r, err, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
