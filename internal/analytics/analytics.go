// Package analytics computes dashboard, customer and product metrics from
// store snapshots. The functions are pure; Service only loads the inputs.
package analytics

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/sumanism/ECA2/internal/store"
)

// RevenueWindow is the look-back of Dashboard.Revenue30d.
const RevenueWindow = 30 * 24 * time.Hour

// Dashboard summarizes the whole customer base.
type Dashboard struct {
	TotalCustomers     int     `json:"total_customers"`
	Revenue30d         float64 `json:"revenue_30d"`
	TotalOrders        int     `json:"total_orders"`
	AverageOrderValue  float64 `json:"average_order_value"`
	ReturningCustomers int     `json:"returning_customers"`
	NewCustomers       int     `json:"new_customers"`
}

// CustomerMetrics describes one user's purchase history.
type CustomerMetrics struct {
	UserID            string  `json:"user_id"`
	LifetimeValue     float64 `json:"lifetime_value"`
	AverageOrderValue float64 `json:"average_order_value"`
	// DaysSinceLastOrder is nil for users who never ordered.
	DaysSinceLastOrder *int `json:"days_since_last_order"`
	TotalOrders        int  `json:"total_orders"`
}

// ProductMetrics describes sales of one product.
type ProductMetrics struct {
	ProductID       string     `json:"product_id"`
	TotalUnitsSold  int        `json:"total_units_sold"`
	TotalOrders     int        `json:"total_orders"`
	TotalRevenue    float64    `json:"total_revenue"`
	LastPurchasedAt *time.Time `json:"last_purchased_at"`
}

// ProductSales is one row of the top products ranking.
type ProductSales struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	UnitsSold   int     `json:"units_sold"`
	Revenue     float64 `json:"revenue"`
}

// ComputeDashboard aggregates users and orders as of now. A returning
// customer has more than one order.
func ComputeDashboard(users []store.User, orders []store.Order, now time.Time) Dashboard {
	d := Dashboard{
		TotalCustomers: len(users),
		TotalOrders:    len(orders),
	}

	since := now.Add(-RevenueWindow)
	perUser := make(map[string]int, len(users))
	var total float64
	for _, o := range orders {
		total += o.TotalAmount
		if !o.OrderDate.Before(since) {
			d.Revenue30d += o.TotalAmount
		}
		perUser[o.UserID]++
	}

	if len(orders) > 0 {
		d.AverageOrderValue = total / float64(len(orders))
	}
	for _, n := range perUser {
		if n > 1 {
			d.ReturningCustomers++
		}
	}
	d.NewCustomers = d.TotalCustomers - d.ReturningCustomers
	return d
}

// ComputeCustomer aggregates the orders of u.
func ComputeCustomer(u store.User, orders []store.Order, now time.Time) CustomerMetrics {
	m := CustomerMetrics{UserID: u.ID, TotalOrders: len(orders)}
	for _, o := range orders {
		m.LifetimeValue += o.TotalAmount
	}
	if len(orders) > 0 {
		m.AverageOrderValue = m.LifetimeValue / float64(len(orders))
	}
	if u.LastOrderDate != nil {
		days := int(math.Floor(now.Sub(*u.LastOrderDate).Hours() / 24))
		m.DaysSinceLastOrder = &days
	}
	return m
}

// ComputeProduct aggregates the items of productID. orders resolves item
// order ids to purchase dates.
func ComputeProduct(productID string, items []store.OrderItem, orders []store.Order) ProductMetrics {
	m := ProductMetrics{ProductID: productID}

	orderDates := make(map[string]time.Time, len(orders))
	for _, o := range orders {
		orderDates[o.ID] = o.OrderDate
	}

	seen := make(map[string]struct{})
	for _, it := range items {
		if it.ProductID != productID {
			continue
		}
		m.TotalUnitsSold += it.Quantity
		m.TotalRevenue += float64(it.Quantity) * it.UnitPrice
		if _, ok := seen[it.OrderID]; ok {
			continue
		}
		seen[it.OrderID] = struct{}{}
		if d, ok := orderDates[it.OrderID]; ok && (m.LastPurchasedAt == nil || d.After(*m.LastPurchasedAt)) {
			last := d
			m.LastPurchasedAt = &last
		}
	}
	m.TotalOrders = len(seen)
	return m
}

// TopProducts ranks products by units sold, highest first, and keeps limit
// rows. Ties keep catalog order.
func TopProducts(products []store.Product, items []store.OrderItem, limit int) []ProductSales {
	type totals struct {
		units   int
		revenue float64
	}
	byProduct := make(map[string]totals, len(products))
	for _, it := range items {
		t := byProduct[it.ProductID]
		t.units += it.Quantity
		t.revenue += float64(it.Quantity) * it.UnitPrice
		byProduct[it.ProductID] = t
	}

	rows := make([]ProductSales, 0, len(products))
	for _, p := range products {
		t := byProduct[p.ID]
		rows = append(rows, ProductSales{
			ProductID:   p.ID,
			ProductName: p.Name,
			UnitsSold:   t.units,
			Revenue:     t.revenue,
		})
	}

	slices.SortStableFunc(rows, func(a, b ProductSales) int {
		return cmp.Compare(b.UnitsSold, a.UnitsSold)
	})

	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
