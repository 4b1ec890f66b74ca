package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sumanism/ECA2/internal/store"
)

const defaultCurrency = "USD"

func (s *Server) productRoutes(r chi.Router) {
	r.Get("/", s.handleListProducts)
	r.Get("/{productID}", s.handleGetProduct)
	r.Method(http.MethodPost, "/", s.admin(s.handleCreateProduct))
	r.Method(http.MethodDelete, "/{productID}", s.admin(s.handleDeleteProduct))
}

func (s *Server) orderRoutes(r chi.Router) {
	r.Get("/", s.handleListOrders)
	r.Get("/{orderID}", s.handleGetOrder)
	r.Method(http.MethodPost, "/", s.admin(s.handleCreateOrder))
}

// ---- products ----

type createProductRequest struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Brand    string  `json:"brand"`
	Price    float64 `json:"price"`
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListProducts(r.Context())
	if err != nil {
		s.storeError(w, r, err, "Product not found")
		return
	}
	if products == nil {
		products = []store.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		s.storeError(w, r, err, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := make(map[string]string)
	if strings.TrimSpace(req.Name) == "" {
		fields["name"] = "Name is required"
	}
	if req.Price < 0 {
		fields["price"] = "Price must not be negative"
	}
	if len(fields) > 0 {
		ValidationError(w, r, "Invalid product", fields)
		return
	}

	p := &store.Product{Name: req.Name, Category: req.Category, Brand: req.Brand, Price: req.Price}
	if err := s.store.CreateProduct(r.Context(), p); err != nil {
		s.storeError(w, r, err, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProduct(r.Context(), chi.URLParam(r, "productID")); err != nil {
		s.storeError(w, r, err, "Product not found")
		return
	}
	writeMessage(w, "Product deleted successfully")
}

// ---- orders ----

type orderItemRequest struct {
	ProductID string   `json:"product_id"`
	Quantity  int      `json:"quantity"`
	UnitPrice *float64 `json:"unit_price,omitempty"` // defaults to the catalog price
}

type createOrderRequest struct {
	UserID      string             `json:"user_id"`
	OrderDate   *time.Time         `json:"order_date,omitempty"`
	OrderStatus string             `json:"order_status"`
	Currency    string             `json:"currency"`
	Channel     string             `json:"channel"`
	CouponCode  *string            `json:"coupon_code,omitempty"`
	Items       []orderItemRequest `json:"items"`
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context(), strings.TrimSpace(r.URL.Query().Get("user_id")))
	if err != nil {
		s.storeError(w, r, err, "Order not found")
		return
	}
	if orders == nil {
		orders = []store.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.storeError(w, r, err, "Order not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleCreateOrder prices items from the catalog unless the request fixes a
// unit price, and lets the store fold the total into the user's aggregates.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := make(map[string]string)
	if strings.TrimSpace(req.UserID) == "" {
		fields["user_id"] = "User id is required"
	}
	if len(req.Items) == 0 {
		fields["items"] = "At least one item is required"
	}
	for i, it := range req.Items {
		if it.Quantity <= 0 {
			fields["items["+strconv.Itoa(i)+"].quantity"] = "Quantity must be positive"
		}
	}
	if len(fields) > 0 {
		ValidationError(w, r, "Invalid order", fields)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetUser(ctx, req.UserID); err != nil {
		s.storeError(w, r, err, "User not found")
		return
	}

	o := &store.Order{
		UserID:      req.UserID,
		OrderStatus: req.OrderStatus,
		Currency:    req.Currency,
		Channel:     req.Channel,
		CouponCode:  req.CouponCode,
		Items:       make([]store.OrderItem, 0, len(req.Items)),
	}
	if o.OrderStatus == "" {
		o.OrderStatus = "completed"
	}
	if o.Currency == "" {
		o.Currency = defaultCurrency
	}
	if req.OrderDate != nil {
		o.OrderDate = req.OrderDate.UTC()
	}

	for _, it := range req.Items {
		p, err := s.store.GetProduct(ctx, it.ProductID)
		if err != nil {
			s.storeError(w, r, err, "Product not found")
			return
		}
		price := p.Price
		if it.UnitPrice != nil {
			price = *it.UnitPrice
		}
		o.Items = append(o.Items, store.OrderItem{ProductID: p.ID, Quantity: it.Quantity, UnitPrice: price})
		o.TotalAmount += float64(it.Quantity) * price
	}

	if err := s.store.CreateOrder(ctx, o); err != nil {
		s.storeError(w, r, err, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}
