package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/sumanism/ECA2/internal/store"
)

// DefaultTopProducts is the ranking size when no limit is given.
const DefaultTopProducts = 10

// Store is the subset of store.Store analytics reads.
type Store interface {
	AllUsers(ctx context.Context) ([]store.User, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	ListOrders(ctx context.Context, userID string) ([]store.Order, error)
	ListProducts(ctx context.Context) ([]store.Product, error)
	GetProduct(ctx context.Context, id string) (*store.Product, error)
	ListOrderItems(ctx context.Context, productID string) ([]store.OrderItem, error)
}

// Service loads snapshots and computes metrics. Lookups return
// store.ErrNotFound unchanged so callers can map it.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(st Store) *Service {
	return &Service{store: st, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	users, err := s.store.AllUsers(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load users: %w", err)
	}
	orders, err := s.store.ListOrders(ctx, "")
	if err != nil {
		return Dashboard{}, fmt.Errorf("load orders: %w", err)
	}
	return ComputeDashboard(users, orders, s.now()), nil
}

func (s *Service) Customer(ctx context.Context, userID string) (CustomerMetrics, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return CustomerMetrics{}, err
	}
	orders, err := s.store.ListOrders(ctx, userID)
	if err != nil {
		return CustomerMetrics{}, fmt.Errorf("load orders: %w", err)
	}
	return ComputeCustomer(*u, orders, s.now()), nil
}

func (s *Service) Product(ctx context.Context, productID string) (ProductMetrics, error) {
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return ProductMetrics{}, err
	}
	items, err := s.store.ListOrderItems(ctx, productID)
	if err != nil {
		return ProductMetrics{}, fmt.Errorf("load order items: %w", err)
	}
	orders, err := s.store.ListOrders(ctx, "")
	if err != nil {
		return ProductMetrics{}, fmt.Errorf("load orders: %w", err)
	}
	return ComputeProduct(productID, items, orders), nil
}

// TopProducts ranks the catalog; limit <= 0 means DefaultTopProducts.
func (s *Service) TopProducts(ctx context.Context, limit int) ([]ProductSales, error) {
	if limit <= 0 {
		limit = DefaultTopProducts
	}
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	items, err := s.store.ListOrderItems(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	return TopProducts(products, items, limit), nil
}
